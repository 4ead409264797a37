// Package sockdir creates short directories for unix socket tests.
package sockdir

import (
	"os"
	"path/filepath"
	"testing"
)

// New creates a directory directly under /tmp so socket paths stay inside
// the 108-byte sun_path limit. It is removed when the test completes.
func New(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ggipc-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}

// Path returns a socket path named name inside a fresh directory.
func Path(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(New(t), name)
}
