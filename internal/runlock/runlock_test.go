package runlock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "run.lock")
}

func TestAcquireWritesOwnPid(t *testing.T) {
	path := lockPath(t)
	l, err := Acquire(path, nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lockfile: %v", err)
	}
	if got := strings.TrimSpace(string(raw)); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lockfile content = %q, want own pid %d", got, os.Getpid())
	}
}

func TestAcquireRefusedWhileHeldByLiveProcess(t *testing.T) {
	path := lockPath(t)
	// Our own pid is as live as it gets.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Acquire(path, nil)
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("Acquire() error = %v, want ErrHeld", err)
	}
}

func TestAcquireAdoptsStaleLock(t *testing.T) {
	path := lockPath(t)
	// A pid that cannot exist on Linux (max is < 2^22 by default).
	if err := os.WriteFile(path, []byte("99999999"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path, nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v, want adoption of stale lock", err)
	}
	l.Release()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lockfile still present after Release")
	}
}

func TestAcquireAdoptsGarbageContent(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path, nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v, want adoption of garbage lock", err)
	}
	l.Release()
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	path := lockPath(t)
	l, err := Acquire(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Another process replaced the lock while we were running.
	if err := os.WriteFile(path, []byte("424242"), 0o644); err != nil {
		t.Fatal(err)
	}
	l.Release()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("foreign lockfile removed by Release: %v", err)
	}
}
