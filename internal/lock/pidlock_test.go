package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "addongw.lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		t.Fatalf("lock file does not contain a PID: %q", b)
	}
	if pid != os.Getpid() {
		t.Fatalf("lock file pid = %d, want %d", pid, os.Getpid())
	}
}

func TestOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "addongw.lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	pid, ok := Owner(path)
	if !ok || pid != os.Getpid() {
		t.Fatalf("Owner = %d, %v; want %d, true", pid, ok, os.Getpid())
	}

	if _, ok := Owner(filepath.Join(t.TempDir(), "missing.lock")); ok {
		t.Fatal("Owner on missing file should report false")
	}
}

func TestReleaseTwice(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "addongw.lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}
