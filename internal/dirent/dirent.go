// Package dirent implements the fixed 16-byte directory entry record and
// the directory-tree operations built on it: lookup, creation, recursive
// removal and rename.
package dirent

import (
	"bytes"
	"fmt"
	"strings"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/fserr"
	"simdisk/internal/fsconst"
	"simdisk/internal/inode"
)

// Dirent is the exact 16-byte on-disk record: a filename split into a
// 10-byte base and a 3-byte extension, a directory flag, and the inode id
// it names.
type Dirent struct {
	Filename [10]byte
	Ext      [3]byte
	IsDir    bool
	InodeID  uint16
}

// New builds a Dirent from a plain "name" or "name.ext" string.
func New(name string, isDir bool, inodeID uint16) (Dirent, error) {
	base, ext := SplitName(name)
	if len(base) > 10 || len(ext) > 3 {
		return Dirent{}, fserr.New(fserr.InvalidInput, fmt.Sprintf("name %q does not fit the 10.3 layout", name))
	}
	var d Dirent
	copy(d.Filename[:], base)
	copy(d.Ext[:], ext)
	d.IsDir = isDir
	d.InodeID = inodeID
	return d, nil
}

// SplitName splits "name.ext" into its base and extension; a name with no
// dot, and the special names "." and "..", have an empty extension.
func SplitName(name string) (base, ext string) {
	if IsSpecial(name) {
		return name, ""
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// Name reassembles the dotted display form of the entry.
func (d Dirent) Name() string {
	base := strings.TrimRight(string(d.Filename[:]), "\x00")
	ext := strings.TrimRight(string(d.Ext[:]), "\x00")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// MarshalBinary packs the entry into its exact 16-byte wire form.
func (d *Dirent) MarshalBinary() ([]byte, error) {
	buf := make([]byte, fsconst.DirentSize)
	copy(buf[0:10], d.Filename[:])
	copy(buf[10:13], d.Ext[:])
	if d.IsDir {
		buf[13] = 1
	}
	buf[14] = byte(d.InodeID)
	buf[15] = byte(d.InodeID >> 8)
	return buf, nil
}

// UnmarshalBinary unpacks a 16-byte record produced by MarshalBinary.
func (d *Dirent) UnmarshalBinary(buf []byte) error {
	if len(buf) < fsconst.DirentSize {
		return fmt.Errorf("dirent: short record: %d bytes", len(buf))
	}
	copy(d.Filename[:], buf[0:10])
	copy(d.Ext[:], buf[10:13])
	d.IsDir = buf[13] != 0
	d.InodeID = uint16(buf[14]) | uint16(buf[15])<<8
	return nil
}

// Zero reports whether this slot is free: its name, extension and inode id
// are all zero, as in a slot never written or one cleared by a removal.
func (d *Dirent) Zero() bool {
	var zero [10]byte
	var zeroExt [3]byte
	return bytes.Equal(d.Filename[:], zero[:]) && bytes.Equal(d.Ext[:], zeroExt[:]) && d.InodeID == 0
}

const (
	dot    = "."
	dotdot = ".."
)

// IsSpecial reports whether name is "." or "..".
func IsSpecial(name string) bool { return name == dot || name == dotdot }

// CreateSpecialDirectories inserts "." (pointing at self) and ".."
// (pointing at parent) into a freshly allocated directory inode.
func CreateSpecialDirectories(c *block.Cache, b *bitmap.Manager, self, parent *inode.Inode) error {
	dSelf, err := New(dot, true, self.ID)
	if err != nil {
		return err
	}
	dParent, err := New(dotdot, true, parent.ID)
	if err != nil {
		return err
	}
	if err := block.InsertObject(c, b, self.Table(), fsconst.DirentSize, dSelf); err != nil {
		return err
	}
	return block.InsertObject(c, b, self.Table(), fsconst.DirentSize, dParent)
}

// GetAll returns every occupied directory entry reachable from dir's
// address table.
func GetAll(c *block.Cache, dir *inode.Inode) ([]Dirent, error) {
	blockIDs, err := block.GetAllValidBlocks(c, dir.Addr)
	if err != nil {
		return nil, err
	}
	var out []Dirent
	for _, id := range blockIDs {
		buf, err := c.GetBuffer(id, 0, fsconst.BlockSize)
		if err != nil {
			return nil, err
		}
		for i := 0; i < fsconst.DirentsPerBlock; i++ {
			var d Dirent
			if err := d.UnmarshalBinary(buf[i*fsconst.DirentSize : (i+1)*fsconst.DirentSize]); err != nil {
				return nil, err
			}
			if !d.Zero() {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// Lookup finds the entry named name directly inside dir.
func Lookup(c *block.Cache, dir *inode.Inode, name string) (Dirent, bool, error) {
	entries, err := GetAll(c, dir)
	if err != nil {
		return Dirent{}, false, err
	}
	for _, e := range entries {
		if e.Name() == name {
			return e, true, nil
		}
	}
	return Dirent{}, false, nil
}

// Insert adds entry to dir, growing dir's address table if every existing
// block is full.
func Insert(c *block.Cache, b *bitmap.Manager, dir *inode.Inode, entry Dirent) error {
	return block.InsertObject(c, b, dir.Table(), fsconst.DirentSize, entry)
}

// Remove deletes the entry named name from dir, releasing any data block
// (and indirect table) left empty by the removal.
func Remove(c *block.Cache, b *bitmap.Manager, dir *inode.Inode, name string) (bool, error) {
	return block.RemoveObject[Dirent](c, b, dir.Table(), fsconst.DirentSize, func(d Dirent) bool {
		return d.Name() == name
	})
}

// UpdateInodeID rewrites the inode id an existing entry points at. No other
// package in this module calls it.
func UpdateInodeID(c *block.Cache, dir *inode.Inode, name string, newID uint16) error {
	blockIDs, err := block.GetAllValidBlocks(c, dir.Addr)
	if err != nil {
		return err
	}
	for _, id := range blockIDs {
		buf, err := c.GetBuffer(id, 0, fsconst.BlockSize)
		if err != nil {
			return err
		}
		for i := 0; i < fsconst.DirentsPerBlock; i++ {
			var d Dirent
			start := i * fsconst.DirentSize
			if err := d.UnmarshalBinary(buf[start : start+fsconst.DirentSize]); err != nil {
				return err
			}
			if d.Zero() || d.Name() != name {
				continue
			}
			d.InodeID = newID
			if err := c.WriteObject(&d, id, start); err != nil {
				return err
			}
			return nil
		}
	}
	return fserr.New(fserr.NotFound, fmt.Sprintf("entry %q not found", name))
}
