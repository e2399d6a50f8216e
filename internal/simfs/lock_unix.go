//go:build unix

package simfs

import (
	"os"

	"golang.org/x/sys/unix"
)

type lockHandle int

// lockFile takes an exclusive, non-blocking flock on f so a second server
// process cannot mount the same backing file concurrently.
func lockFile(f *os.File) (lockHandle, error) {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return 0, err
	}
	return lockHandle(fd), nil
}

func unlockFile(h lockHandle) {
	_ = unix.Flock(int(h), unix.LOCK_UN)
}
