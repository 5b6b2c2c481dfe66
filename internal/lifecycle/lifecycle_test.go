package lifecycle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pocketbridge/internal/state"
)

func testStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPairingFirstSenderWins(t *testing.T) {
	p, err := NewPairing(testStore(t))
	if err != nil {
		t.Fatalf("NewPairing: %v", err)
	}

	res, err := p.Authorize(1001, 2001)
	if err != nil || res != AuthPaired {
		t.Fatalf("first sender: res=%v err=%v, want AuthPaired", res, err)
	}
	res, err = p.Authorize(1001, 2001)
	if err != nil || res != AuthOK {
		t.Fatalf("owner again: res=%v err=%v, want AuthOK", res, err)
	}
	res, err = p.Authorize(9999, 2002)
	if err != nil || res != AuthRejected {
		t.Fatalf("stranger: res=%v err=%v, want AuthRejected", res, err)
	}
	if got := p.ChatID(); got != 2001 {
		t.Errorf("ChatID = %d, want 2001", got)
	}
}

func TestPairingSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	s1, err := state.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p1, err := NewPairing(s1)
	if err != nil {
		t.Fatalf("NewPairing: %v", err)
	}
	if _, err := p1.Authorize(42, 77); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	s1.Close()

	s2, err := state.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	p2, err := NewPairing(s2)
	if err != nil {
		t.Fatalf("NewPairing after reopen: %v", err)
	}
	if !p2.Paired() {
		t.Fatal("pairing lost across reopen")
	}
	res, err := p2.Authorize(43, 78)
	if err != nil || res != AuthRejected {
		t.Errorf("stranger after reopen: res=%v err=%v, want AuthRejected", res, err)
	}
}

func TestUnpair(t *testing.T) {
	p, err := NewPairing(testStore(t))
	if err != nil {
		t.Fatalf("NewPairing: %v", err)
	}
	p.Authorize(1, 2)
	if err := p.Unpair(); err != nil {
		t.Fatalf("Unpair: %v", err)
	}
	if p.Paired() {
		t.Error("still paired after Unpair")
	}
	res, _ := p.Authorize(3, 4)
	if res != AuthPaired {
		t.Errorf("new sender after unpair: res=%v, want AuthPaired", res)
	}
}

func TestLockExcludesSecondInstance(t *testing.T) {
	dir := t.TempDir()

	l, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer l.Release()

	if _, err := AcquireLock(dir); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second acquire err = %v, want ErrAlreadyRunning", err)
	}
	if pid, held := LockHolder(dir); !held || pid != os.Getpid() {
		t.Errorf("LockHolder = %d,%v, want own pid", pid, held)
	}
}

func TestLockReplacesStale(t *testing.T) {
	dir := t.TempDir()
	// A pid that cannot be alive: beyond the default pid_max.
	stale := filepath.Join(dir, lockFileName)
	if err := os.WriteFile(stale, []byte("99999999\n"), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	l, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock over stale lock: %v", err)
	}
	defer l.Release()
}

func TestLockRelease(t *testing.T) {
	dir := t.TempDir()
	l, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, held := LockHolder(dir); held {
		t.Error("lock still held after Release")
	}
	// Second release is a no-op.
	if err := l.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}
