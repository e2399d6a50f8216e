// Package simfs is the filesystem facade: it owns the backing file, the
// block cache, the two bitmap allocators and the user table, and exposes
// the command-level operations the server dispatches into.
package simfs

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/renameio"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/dirent"
	"simdisk/internal/fileop"
	"simdisk/internal/fserr"
	"simdisk/internal/fsconst"
	"simdisk/internal/inode"
	"simdisk/internal/user"
)

// FileSystem is the process-wide facade singleton. Its mutex guards the
// root-inode snapshot; the cache and bitmap managers carry their own
// finer-grained locks, acquired in bitmap-before-cache order by anything
// that needs both.
type FileSystem struct {
	mu sync.RWMutex

	path  string
	file  *os.File
	cache *block.Cache
	bm    *bitmap.Manager
	users *user.Table

	root *inode.Inode
	log  *slog.Logger

	policy     SyncPolicy
	lockHandle lockHandle
}

// SyncPolicy mirrors config.SyncPolicy without importing the config
// package, which in turn must not import simfs.
type SyncPolicy int

const (
	PolicyImmediate SyncPolicy = iota
	PolicyOnExit
	PolicyScheduled
)

// Mount opens an existing backing file, validates its super block, and
// loads the user table and root inode snapshot. It takes an exclusive
// advisory lock on the file, held until Close.
func Mount(path string, policy SyncPolicy, log *slog.Logger) (*FileSystem, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("simfs: open backing file: %w", err)
	}
	lh, err := lockFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("simfs: lock backing file: %w", err)
	}

	fs := &FileSystem{
		path:       path,
		file:       f,
		cache:      block.NewCache(f),
		log:        log,
		policy:     policy,
		lockHandle: lh,
	}
	fs.bm = bitmap.NewManager(fs.cache)
	fs.users = user.NewTable(fs.cache)

	sb, err := fs.readSuperBlock()
	if err != nil {
		fs.Close()
		return nil, err
	}
	if !sb.valid() {
		fs.Close()
		return nil, fserr.New(fserr.Other, "sp broken")
	}
	if err := fs.users.Load(); err != nil {
		fs.Close()
		return nil, err
	}
	root, err := inode.Read(fs.cache, fsconst.RootInodeID)
	if err != nil {
		fs.Close()
		return nil, err
	}
	fs.root = root
	return fs, nil
}

// ForceClear creates (or overwrites) the backing file at path with a fresh
// zero-filled image, formats both bitmaps, writes the super block and root
// inode, and installs the root account. Creating the zero-filled file is
// atomic (a temporary file renamed into place); the format writes that
// follow go through the cache and are not.
func ForceClear(path string, policy SyncPolicy, log *slog.Logger) (*FileSystem, error) {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return nil, fmt.Errorf("simfs: create backing file: %w", err)
	}
	defer t.Cleanup()
	if err := t.Truncate(fsconst.FSSize); err != nil {
		return nil, fmt.Errorf("simfs: size backing file: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("simfs: commit backing file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("simfs: reopen backing file: %w", err)
	}
	lh, err := lockFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("simfs: lock backing file: %w", err)
	}

	fs := &FileSystem{
		path:       path,
		file:       f,
		cache:      block.NewCache(f),
		log:        log,
		policy:     policy,
		lockHandle: lh,
	}
	fs.bm = bitmap.NewManager(fs.cache)
	fs.users = user.NewTable(fs.cache)

	if err := fs.bm.Format(); err != nil {
		fs.Close()
		return nil, err
	}
	if err := fs.users.Format(); err != nil {
		fs.Close()
		return nil, err
	}
	root, err := inode.Alloc(fs.cache, fs.bm, inode.TypeDir, inode.ModeReadWrite|inode.ModeExecute, user.RootGID, user.RootUID, 0)
	if err != nil {
		fs.Close()
		return nil, err
	}
	if root.ID != fsconst.RootInodeID {
		panic("simfs: root inode did not receive id 0")
	}
	if err := dirent.CreateSpecialDirectories(fs.cache, fs.bm, root, root); err != nil {
		fs.Close()
		return nil, err
	}
	if err := inode.Write(fs.cache, root); err != nil {
		fs.Close()
		return nil, err
	}
	sb := newSuperBlock()
	if err := fs.cache.WriteObject(sb, fsconst.SuperBlockID, 0); err != nil {
		fs.Close()
		return nil, err
	}
	if err := fs.cache.SyncAndClear(); err != nil {
		fs.Close()
		return nil, err
	}
	root, err = inode.Read(fs.cache, fsconst.RootInodeID)
	if err != nil {
		fs.Close()
		return nil, err
	}
	fs.root = root
	return fs, nil
}

func (fs *FileSystem) readSuperBlock() (superBlock, error) {
	buf, err := fs.cache.GetBuffer(fsconst.SuperBlockID, 0, superBlockSize)
	if err != nil {
		return superBlock{}, err
	}
	var sb superBlock
	if err := sb.UnmarshalBinary(buf); err != nil {
		return superBlock{}, err
	}
	return sb, nil
}

// Close syncs any pending writes, releases the advisory lock and closes
// the backing file.
func (fs *FileSystem) Close() error {
	if fs.cache != nil {
		_ = fs.cache.SyncAndClear()
	}
	unlockFile(fs.lockHandle)
	return fs.file.Close()
}

// Sync flushes the cache and reloads the root-inode snapshot, per the rule
// that sync_and_clear_cache is always immediately followed by a reload.
func (fs *FileSystem) Sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.cache.SyncAndClear(); err != nil {
		return err
	}
	root, err := inode.Read(fs.cache, fsconst.RootInodeID)
	if err != nil {
		return err
	}
	fs.root = root
	return nil
}

// Root returns the current root inode snapshot.
func (fs *FileSystem) Root() *inode.Inode {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	r := *fs.root
	return &r
}

// Cache exposes the underlying block cache.
func (fs *FileSystem) Cache() *block.Cache { return fs.cache }

// Bitmap exposes the bitmap manager.
func (fs *FileSystem) Bitmap() *bitmap.Manager { return fs.bm }

// Users exposes the user table.
func (fs *FileSystem) Users() *user.Table { return fs.users }

// Policy reports the configured write-back policy.
func (fs *FileSystem) Policy() SyncPolicy { return fs.policy }

// MaybeSyncAfterCommand runs Sync if the write-back policy is immediate,
// called by the server after every mutating command.
func (fs *FileSystem) MaybeSyncAfterCommand() error {
	if fs.policy == PolicyImmediate {
		return fs.Sync()
	}
	return nil
}

// Info renders the storage summary shown by the `info` command: total/free
// space across both bitmaps in human units, mirroring the original
// simple_fs.rs show_unit conversion.
func (fs *FileSystem) Info() (string, error) {
	freeInodes, err := fs.bm.CountFreeInodes()
	if err != nil {
		return "", err
	}
	freeData, err := fs.bm.CountFreeData()
	if err != nil {
		return "", err
	}
	usedData := fsconst.DataAreaLen - freeData
	return fmt.Sprintf(
		"disk size: %s\nused: %s\nfree inodes: %d / %d\nfree blocks: %d / %d",
		showUnit(fsconst.FSSize),
		showUnit(usedData*fsconst.BlockSize),
		freeInodes, fsconst.MaxInodes,
		freeData, fsconst.DataAreaLen,
	), nil
}

func showUnit(bytes int) string {
	const (
		kib = 1024
		mib = 1024 * kib
	)
	switch {
	case bytes >= mib:
		return fmt.Sprintf("%.2f MiB", float64(bytes)/float64(mib))
	case bytes >= kib:
		return fmt.Sprintf("%.2f KiB", float64(bytes)/float64(kib))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// Check validates the super block and reconciles both bitmaps against the
// records they claim to track, backing the `check` command. A crash mid
// operation can leave a bitmap bit set with no matching live inode or a
// data block that was never actually written; Check clears those bits so
// the allocators stop treating that space as in use.
func (fs *FileSystem) Check() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	sb, err := fs.readSuperBlock()
	if err != nil {
		return err
	}
	if !sb.valid() {
		return fserr.New(fserr.Other, "sp broken")
	}
	if err := fs.checkInodeBitmap(); err != nil {
		return err
	}
	return fs.checkDataBitmap()
}

// bitSet reports the value of bit pos within the bitmap region starting at
// regionStart, mirroring bitmap.Manager's own byte/offset arithmetic.
func (fs *FileSystem) bitSet(regionStart, pos int) (bool, error) {
	blockID := uint32(regionStart + pos/8/fsconst.BlockSize)
	off := (pos / 8) % fsconst.BlockSize
	buf, err := fs.cache.GetBuffer(blockID, off, off+1)
	if err != nil {
		return false, err
	}
	return buf[0]&(1<<uint(pos%8)) != 0, nil
}

// checkInodeBitmap walks every set bit in the inode bitmap and clears any
// whose inode slot doesn't self-identify with that id, the signature a
// crash between AllocInodeBit and the record's final Write leaves behind.
func (fs *FileSystem) checkInodeBitmap() error {
	for id := 0; id < fsconst.MaxInodes; id++ {
		set, err := fs.bitSet(fsconst.InodeBitmapStart, id)
		if err != nil {
			return err
		}
		if !set {
			continue
		}
		in, err := inode.Read(fs.cache, uint16(id))
		if err != nil {
			return err
		}
		if in.Zero() || int(in.ID) != id {
			if _, err := fs.bm.DeallocInodeBit(uint16(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkDataBitmap walks every set bit in the data bitmap and clears any
// whose block is entirely zero, the signature of a block reserved by
// AllocDataBlocks but never actually written before a crash.
func (fs *FileSystem) checkDataBitmap() error {
	for bit := 0; bit < fsconst.DataAreaLen; bit++ {
		set, err := fs.bitSet(fsconst.DataBitmapStart, bit)
		if err != nil {
			return err
		}
		if !set {
			continue
		}
		blockID := uint32(fsconst.DataAreaStart + bit)
		buf, err := fs.cache.GetBuffer(blockID, 0, fsconst.BlockSize)
		if err != nil {
			return err
		}
		if allZero(buf) {
			if err := fs.bm.DeallocDataBit(blockID); err != nil {
				return err
			}
		}
	}
	return nil
}

func allZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// CreateFile, RemoveFile, GetFileContent and Rename delegate to fileop,
// resolving the owning directory the caller already has a handle on.

func (fs *FileSystem) CreateFile(dir *inode.Inode, name string, content []byte, mode inode.Mode, gid, uid uint16) (*inode.Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fileop.Create(fs.cache, fs.bm, dir, name, content, mode, gid, uid)
}

// RemoveFile unlinks name from dir, provided callerGID is allowed to modify
// the owning group of the existing entry (root's gid 0 may modify anything).
func (fs *FileSystem) RemoveFile(dir *inode.Inode, name string, callerGID uint16) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkModifyLocked(dir, name, callerGID); err != nil {
		return err
	}
	return fileop.Remove(fs.cache, fs.bm, dir, name)
}

func (fs *FileSystem) GetFileContent(dir *inode.Inode, name string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fileop.Read(fs.cache, dir, name)
}

func (fs *FileSystem) Rename(dir *inode.Inode, oldName, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fileop.Rename(fs.cache, dir, oldName, newName)
}

func (fs *FileSystem) MakeDirectory(dir *inode.Inode, name string, mode inode.Mode, gid, uid uint16) (*inode.Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return dirent.MakeDirectory(fs.cache, fs.bm, dir, name, mode, gid, uid)
}

// RemoveDirectory tears down the subtree named name inside dir, provided
// callerGID is allowed to modify its owning group.
func (fs *FileSystem) RemoveDirectory(dir *inode.Inode, name string, callerGID uint16) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkModifyLocked(dir, name, callerGID); err != nil {
		return err
	}
	return dirent.RemoveDirectory(fs.cache, fs.bm, dir, name)
}

// checkModifyLocked looks up name inside dir and fails PermissionDenied
// unless callerGID is allowed to modify its owning group. Callers must
// already hold fs.mu.
func (fs *FileSystem) checkModifyLocked(dir *inode.Inode, name string, callerGID uint16) error {
	d, ok, err := dirent.Lookup(fs.cache, dir, name)
	if err != nil {
		return err
	}
	if !ok {
		return fserr.New(fserr.NotFound, fmt.Sprintf("%q not found", name))
	}
	target, err := inode.Read(fs.cache, d.InodeID)
	if err != nil {
		return err
	}
	if !user.AbleToModify(callerGID, target.Gid) {
		return fserr.New(fserr.PermissionDenied, fmt.Sprintf("insufficient permissions to remove %q", name))
	}
	return nil
}

func (fs *FileSystem) Cd(dir *inode.Inode, name string) (*inode.Inode, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return dirent.Cd(fs.cache, dir, name)
}

func (fs *FileSystem) List(dir *inode.Inode) ([]dirent.Dirent, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return dirent.GetAll(fs.cache, dir)
}

func (fs *FileSystem) Stat(dir *inode.Inode, name string) (dirent.Dirent, *inode.Inode, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	d, ok, err := dirent.Lookup(fs.cache, dir, name)
	if err != nil {
		return dirent.Dirent{}, nil, err
	}
	if !ok {
		return dirent.Dirent{}, nil, fserr.New(fserr.NotFound, fmt.Sprintf("%q not found", name))
	}
	in, err := inode.Read(fs.cache, d.InodeID)
	if err != nil {
		return dirent.Dirent{}, nil, err
	}
	return d, in, nil
}

// Inode re-reads an inode by id under the facade's read lock.
func (fs *FileSystem) Inode(id uint16) (*inode.Inode, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return inode.Read(fs.cache, id)
}

// SignIn/SignUp delegate to the user table under the facade's lock, since
// an authentication race with a concurrent sign-up must not corrupt the
// fixed-size table.
func (fs *FileSystem) SignIn(name, password string) (user.Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.users.SignIn(name, password)
}

func (fs *FileSystem) SignUp(name, password string) (user.Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.users.SignUp(name, password)
}

// ListUsers returns every configured account; callers must check the
// caller's gid is 0 (root) before exposing this, per the permission model.
func (fs *FileSystem) ListUsers() ([]user.Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.users.All()
}
