package bulk

import (
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// namedObjectDir returns the directory bulk-channel named objects live
// under: /dev/shm when writable (true shared memory, tmpfs-backed), falling
// back to os.TempDir() otherwise — mirroring the fallback the rest of the
// retrieval pack uses for POSIX shared-memory objects when /dev/shm isn't
// mounted (e.g. some containers).
func namedObjectDir() string {
	const shm = "/dev/shm"
	if st, err := os.Stat(shm); err == nil && st.IsDir() {
		probe := filepath.Join(shm, ".vshell-probe")
		if f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600); err == nil {
			f.Close()
			os.Remove(probe)
			return shm
		}
	}
	return os.TempDir()
}

func objectPath(name, suffix string) string {
	return filepath.Join(namedObjectDir(), name+suffix)
}

// backingFile owns the open file descriptor backing the mmap'd region.
type backingFile struct {
	file *os.File
}

func openBackingFile(name string, size int64) (*backingFile, error) {
	path := objectPath(name, "")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &backingFile{file: f}, nil
}

func (b *backingFile) Close() error {
	return b.file.Close()
}

// lockFile is the cross-process mutex (§3, §4.4), implemented as an
// advisory flock on a dedicated file named "<name>:mtx" (the spec's naming
// convention, §6).
type lockFile struct {
	file *os.File
}

func openLockFile(name string) (*lockFile, error) {
	path := objectPath(name, ":mtx")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &lockFile{file: f}, nil
}

// tryLock attempts to acquire the exclusive flock, polling until it
// succeeds or timeout elapses. flock has no native timeout, so this mirrors
// the bulk-read polling loop (§4.4 step 4) rather than blocking forever.
func (l *lockFile) tryLock(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(mutexPollInterval)
	}
}

func (l *lockFile) unlock() {
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}

func (l *lockFile) Close() error {
	return l.file.Close()
}

// namedEvent is one of the four advisory "named events" (§4.4, §6 naming
// convention "<name>:ev_{a2b,b2a}_{req,ack}"), backed by a FIFO. Linux
// permits opening a FIFO O_RDWR, which this holds open for the Channel's
// whole lifetime so Signal/Wait never block on finding a peer — a
// deliberate, documented platform-specific choice (see DESIGN.md).
type namedEvent struct {
	file *os.File
}

func openNamedEvent(name string, dir Direction, kind string) (*namedEvent, error) {
	path := objectPath(name, ":ev_"+dir.String()+"_"+kind)
	if err := unix.Mkfifo(path, 0o600); err != nil && !os.IsExist(err) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_NONBLOCK, os.ModeNamedPipe)
	if err != nil {
		return nil, err
	}
	return &namedEvent{file: f}, nil
}

// signal is a best-effort, non-blocking wake-up (§4.4 "signal that
// direction's request event"; §9 "signals are advisory, not authoritative").
func (e *namedEvent) signal() {
	_, _ = e.file.Write([]byte{0})
}

// drain non-blockingly consumes a single pending signal, used to discard a
// possible stale ack after a write (§4.4 Write step 7).
func (e *namedEvent) drain() {
	var b [1]byte
	_, _ = e.file.Read(b[:])
}

// wait blocks until a signal arrives or timeout elapses, returning true on
// a (possibly spurious) wake. Every wake is a hint; callers must re-check
// the authoritative state (the sequence counter) themselves (§9).
func (e *namedEvent) wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	if err := e.file.SetReadDeadline(deadline); err != nil {
		return false
	}
	defer e.file.SetReadDeadline(time.Time{})

	var b [1]byte
	_, err := e.file.Read(b[:])
	return err == nil
}

func (e *namedEvent) Close() error {
	return e.file.Close()
}
