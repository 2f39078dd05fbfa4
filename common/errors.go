package common

import "errors"

// ErrClosed and ErrKeyEmpty are the sentinels Adapter translates lsm's
// package-local errors into, so callers of the common.Engine interface
// compare against one stable error value regardless of which concrete
// engine implementation they're driving.
var (
	ErrClosed   = errors.New("storage engine closed")
	ErrKeyEmpty = errors.New("key cannot be empty")
)
