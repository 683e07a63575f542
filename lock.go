//go:build unix

package wisent

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileLock holds the advisory lock on the lock file. A read-write
// environment takes an exclusive flock so two processes can never write the
// same data file; read-only environments share the lock.
type fileLock struct {
	file *os.File
}

// acquireFileLock opens (creating if needed) the lock file next to the data
// file and takes the flock without blocking. A held conflicting lock is
// reported as ErrAlreadyOpen rather than waiting, matching the fail-fast
// open semantics of the environment.
func acquireFileLock(path string, readOnly bool) (*fileLock, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
		if _, err := os.Stat(path); os.IsNotExist(err) {
			// No lock file and nothing to write: lockless read-only open.
			return &fileLock{}, nil
		}
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, WrapError(ErrPermissionDenied, err)
	}

	how := unix.LOCK_EX
	if readOnly {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, NewError(ErrAlreadyOpen)
		}
		return nil, WrapError(ErrPermissionDenied, err)
	}
	return &fileLock{file: f}, nil
}

func (l *fileLock) release() error {
	if l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
