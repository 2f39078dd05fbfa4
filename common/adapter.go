package common

import (
	"errors"

	"github.com/dataplane-kv/lsmtree/lsm"
)

// Adapter wraps an *lsm.Engine to satisfy the Engine interface, translating
// lsm.EngineStats into the shared Stats shape the benchmark and demo
// tooling expect, and lsm's package-local sentinel errors into the common
// sentinels callers of the Engine interface are expected to compare
// against with errors.Is.
type Adapter struct {
	engine *lsm.Engine
}

// NewAdapter wraps engine.
func NewAdapter(engine *lsm.Engine) *Adapter {
	return &Adapter{engine: engine}
}

// translateErr maps lsm's package-local sentinels onto the shared common
// ones, leaving any other error (I/O failures, corrupt records) unchanged.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lsm.ErrEngineClosed):
		return ErrClosed
	case errors.Is(err, lsm.ErrKeyEmpty):
		return ErrKeyEmpty
	default:
		return err
	}
}

func (a *Adapter) Set(key, value string) (string, bool, error) {
	prev, had, err := a.engine.Set(key, value)
	return prev, had, translateErr(err)
}

func (a *Adapter) Get(key string) (string, bool, error) {
	v, found, err := a.engine.Get(key)
	return v, found, translateErr(err)
}

func (a *Adapter) Compact(indicesToCompact []uint64, outputIndex uint64) error {
	return translateErr(a.engine.Compact(indicesToCompact, outputIndex))
}

func (a *Adapter) Stats() Stats {
	s := a.engine.Stats()
	return Stats{
		NumKeys:      s.NumKeys,
		NumSegments:  s.NumSegments,
		WriteCount:   s.WriteCount,
		ReadCount:    s.ReadCount,
		CompactCount: s.CompactCount,
	}
}

func (a *Adapter) Close() error { return a.engine.Close() }
