//go:build !unix

package simfs

import "os"

type lockHandle int

// lockFile is a no-op on non-unix builds: advisory locking of the backing
// file is a unix-only safeguard against a second concurrent mount.
func lockFile(f *os.File) (lockHandle, error) { return 0, nil }

func unlockFile(h lockHandle) {}
