package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

// WriteFile writes content to name under dir, creating parent directories, and returns the full
// path. It fails the test if it cannot.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	fn := filepath.Join(dir, name)
	test.That(t, os.MkdirAll(filepath.Dir(fn), 0o755), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, content, 0o644), test.ShouldBeNil)
	return fn
}

// ReadFile returns the content of a file and fails the test if it cannot.
func ReadFile(t *testing.T, fn string) []byte {
	t.Helper()
	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	return data
}
