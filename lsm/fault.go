package lsm

// Named fault points let crash-recovery tests fail the engine partway
// through a multi-file operation — after a flush's segment is durable but
// before its WAL is removed, or after a compaction's manifest is durable
// but before any rename — without an actual process kill. In normal
// operation the hook is nil and every point is a no-op.
var faultHook func(point string) error

const (
	faultFlushBeforeWALDelete = "flush:before-wal-delete"
	faultCompactAfterManifest = "compact:after-manifest"
)

func triggerFault(point string) error {
	if faultHook == nil {
		return nil
	}
	return faultHook(point)
}
