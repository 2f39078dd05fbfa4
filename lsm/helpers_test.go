package lsm

import (
	"os"
	"testing"
)

// tempDir returns a fresh scratch directory cleaned up at test end. It is
// the lsm package's own counterpart of common/testutil.TempDir, which the
// external test packages (common_test and friends) use.
func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lsmtree-lsm-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}
