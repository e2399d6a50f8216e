package dirent

import (
	"fmt"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/fserr"
	"simdisk/internal/inode"
)

// MakeDirectory allocates a new directory inode under parent named name,
// wires its "." and ".." entries, and links it into parent.
func MakeDirectory(c *block.Cache, b *bitmap.Manager, parent *inode.Inode, name string, mode inode.Mode, gid, uid uint16) (*inode.Inode, error) {
	if IsSpecial(name) {
		return nil, fserr.New(fserr.InvalidInput, fmt.Sprintf("%q is a reserved name", name))
	}
	if _, ok, err := Lookup(c, parent, name); err != nil {
		return nil, err
	} else if ok {
		return nil, fserr.New(fserr.AlreadyExists, fmt.Sprintf("%q already exists", name))
	}

	dir, err := inode.Alloc(c, b, inode.TypeDir, mode, gid, uid, 0)
	if err != nil {
		return nil, err
	}
	if err := CreateSpecialDirectories(c, b, dir, parent); err != nil {
		return nil, err
	}
	if err := inode.Write(c, dir); err != nil {
		return nil, err
	}

	if err := inode.Linkat(c, parent); err != nil {
		return nil, err
	}

	d, err := New(name, true, dir.ID)
	if err != nil {
		return nil, err
	}
	if err := Insert(c, b, parent, d); err != nil {
		return nil, err
	}
	return dir, nil
}

// ClearDir recursively tears down every entry inside dir: each file is
// unlinked and deallocated once its link count reaches zero, and each
// subdirectory is cleared first and then deallocated. The ".." entries of
// the subdirectories are not unlinked, so dir's own link count is left as
// it was.
func ClearDir(c *block.Cache, b *bitmap.Manager, dir *inode.Inode) error {
	entries, err := GetAll(c, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if IsSpecial(e.Name()) {
			continue
		}
		child, err := inode.Read(c, e.InodeID)
		if err != nil {
			return err
		}
		if e.IsDir {
			if err := ClearDir(c, b, child); err != nil {
				return err
			}
			if err := inode.Dealloc(c, b, child); err != nil {
				return err
			}
		} else {
			if err := inode.Unlinkat(c, child); err != nil {
				return err
			}
			if child.Nlink == 0 {
				if err := inode.Dealloc(c, b, child); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RemoveDirectory tears down the subtree named name inside parent and
// releases its inode. Confirmation (the "y/Y" prompt over the control
// channel) is the caller's responsibility before invoking this.
func RemoveDirectory(c *block.Cache, b *bitmap.Manager, parent *inode.Inode, name string) error {
	if IsSpecial(name) {
		return fserr.New(fserr.InvalidInput, fmt.Sprintf("cannot remove %q", name))
	}
	d, ok, err := Lookup(c, parent, name)
	if err != nil {
		return err
	}
	if !ok {
		return fserr.New(fserr.NotFound, fmt.Sprintf("%q not found", name))
	}
	if !d.IsDir {
		return fserr.New(fserr.InvalidInput, fmt.Sprintf("%q is not a directory", name))
	}
	child, err := inode.Read(c, d.InodeID)
	if err != nil {
		return err
	}
	if err := ClearDir(c, b, child); err != nil {
		return err
	}
	if _, err := Remove(c, b, parent, name); err != nil {
		return err
	}
	if err := inode.Unlinkat(c, parent); err != nil {
		return err
	}
	return inode.Dealloc(c, b, child)
}

// Cd resolves name (a single path component, "." or "..") from dir and
// returns the target directory's inode.
func Cd(c *block.Cache, dir *inode.Inode, name string) (*inode.Inode, error) {
	d, ok, err := Lookup(c, dir, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fserr.New(fserr.NotFound, fmt.Sprintf("%q not found", name))
	}
	if !d.IsDir {
		return nil, fserr.New(fserr.InvalidInput, fmt.Sprintf("%q is not a directory", name))
	}
	return inode.Read(c, d.InodeID)
}
