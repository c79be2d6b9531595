// Package pidfile reads, probes and claims the daemon's PID file. The
// daemon writes the file through Claim at startup; the CLI reads it to
// find, signal or report on a running instance.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Name is the PID file's name under the data directory.
const Name = "commanda.pid"

// ErrAlreadyRunning is returned by Claim when the file names a live
// process other than the caller.
var ErrAlreadyRunning = errors.New("already running")

// Read parses the PID recorded in the file.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID %d in %s", pid, path)
	}
	return pid, nil
}

// Alive probes a PID with signal 0. On Unix FindProcess always succeeds,
// so the signal result is the real check. EPERM means the process exists
// under another user.
func Alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Running reports whether the file names a live process.
func Running(path string) bool {
	pid, err := Read(path)
	if err != nil {
		return false
	}
	return Alive(pid)
}

// Claim records the calling process's PID in the file. A file naming a
// live foreign process aborts the claim with ErrAlreadyRunning. A file
// left behind by a dead process is overwritten and its PID returned so
// the caller can log the takeover.
func Claim(path string) (stalePID int, err error) {
	if pid, err := Read(path); err == nil && pid != os.Getpid() {
		if Alive(pid) {
			return 0, fmt.Errorf("%w with pid %d", ErrAlreadyRunning, pid)
		}
		stalePID = pid
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return 0, err
	}
	return stalePID, nil
}

// Release removes the PID file. A missing file is not an error.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
