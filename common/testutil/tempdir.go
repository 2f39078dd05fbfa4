package testutil

import (
	"os"
	"testing"
)

// TempDir creates a scratch directory removed at test end. Unlike
// t.TempDir, the returned path lives outside the test's working tree, so a
// test that deliberately corrupts engine files can't collide with fixtures.
func TempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "lsmtree-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}
