// Package fileop implements whole-file operations — create, remove, read,
// rename — built from the inode, dirent and block-cache primitives.
package fileop

import (
	"fmt"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/dirent"
	"simdisk/internal/fserr"
	"simdisk/internal/fsconst"
	"simdisk/internal/inode"
)

// Create allocates a new file inode, writes content in BlockSize chunks and
// links it into dir under name. It fails if dir already has an entry named
// name, or content exceeds MaxFileSize.
func Create(c *block.Cache, b *bitmap.Manager, dir *inode.Inode, name string, content []byte, mode inode.Mode, gid, uid uint16) (*inode.Inode, error) {
	if _, ok, err := dirent.Lookup(c, dir, name); err != nil {
		return nil, err
	} else if ok {
		return nil, fserr.New(fserr.AlreadyExists, fmt.Sprintf("%q already exists", name))
	}
	if len(content) > fsconst.MaxFileSize {
		return nil, fserr.New(fserr.OutOfMemory, fmt.Sprintf("content exceeds maximum file size of %d bytes", fsconst.MaxFileSize))
	}

	in, err := inode.Alloc(c, b, inode.TypeFile, mode, gid, uid, len(content))
	if err != nil {
		return nil, err
	}
	in.Size = uint32(len(content))

	if len(content) > 0 {
		blockIDs, err := block.GetAllValidBlocks(c, in.Addr)
		if err != nil {
			return nil, err
		}
		var chunks [][]byte
		for off := 0; off < len(content); off += fsconst.BlockSize {
			end := off + fsconst.BlockSize
			if end > len(content) {
				end = len(content)
			}
			chunks = append(chunks, content[off:end])
		}
		if err := c.WriteContents(chunks, blockIDs); err != nil {
			return nil, err
		}
	}
	if err := inode.Write(c, in); err != nil {
		return nil, err
	}

	d, err := dirent.New(name, false, in.ID)
	if err != nil {
		return nil, err
	}
	if err := dirent.Insert(c, b, dir, d); err != nil {
		return nil, err
	}
	return in, nil
}

// Remove unlinks name from dir and, once the underlying inode's link count
// reaches zero, deallocates it entirely.
func Remove(c *block.Cache, b *bitmap.Manager, dir *inode.Inode, name string) error {
	d, ok, err := dirent.Lookup(c, dir, name)
	if err != nil {
		return err
	}
	if !ok {
		return fserr.New(fserr.NotFound, fmt.Sprintf("%q not found", name))
	}
	if d.IsDir {
		return fserr.New(fserr.InvalidInput, fmt.Sprintf("%q is a directory", name))
	}
	in, err := inode.Read(c, d.InodeID)
	if err != nil {
		return err
	}
	if _, err := dirent.Remove(c, b, dir, name); err != nil {
		return err
	}
	if err := inode.Unlinkat(c, in); err != nil {
		return err
	}
	if in.Nlink == 0 {
		return inode.Dealloc(c, b, in)
	}
	return nil
}

// Read concatenates every data block of the file named name inside dir.
func Read(c *block.Cache, dir *inode.Inode, name string) ([]byte, error) {
	d, ok, err := dirent.Lookup(c, dir, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fserr.New(fserr.NotFound, fmt.Sprintf("%q not found", name))
	}
	if d.IsDir {
		return nil, fserr.New(fserr.InvalidInput, fmt.Sprintf("%q is a directory", name))
	}
	in, err := inode.Read(c, d.InodeID)
	if err != nil {
		return nil, err
	}
	return ReadInode(c, in)
}

// ReadInode concatenates every data block owned by in, trimmed to in.Size.
func ReadInode(c *block.Cache, in *inode.Inode) ([]byte, error) {
	blockIDs, err := block.GetAllValidBlocks(c, in.Addr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, in.Size)
	for _, id := range blockIDs {
		buf, err := c.GetBuffer(id, 0, fsconst.BlockSize)
		if err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	if int(in.Size) < len(out) {
		out = out[:in.Size]
	}
	return out, nil
}

// Rename changes the display name of an existing entry in dir without
// touching its inode.
func Rename(c *block.Cache, dir *inode.Inode, oldName, newName string) error {
	if _, ok, err := dirent.Lookup(c, dir, oldName); err != nil {
		return err
	} else if !ok {
		return fserr.New(fserr.NotFound, fmt.Sprintf("%q not found", oldName))
	}
	if _, ok, err := dirent.Lookup(c, dir, newName); err != nil {
		return err
	} else if ok {
		return fserr.New(fserr.AlreadyExists, fmt.Sprintf("%q already exists", newName))
	}

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
			var d dirent.Dirent
			start := i * fsconst.DirentSize
			if err := d.UnmarshalBinary(buf[start : start+fsconst.DirentSize]); err != nil {
				return err
			}
			if d.Zero() || d.Name() != oldName {
				continue
			}
			renamed, err := dirent.New(newName, d.IsDir, d.InodeID)
			if err != nil {
				return err
			}
			return c.WriteObject(&renamed, id, start)
		}
	}
	return fserr.New(fserr.NotFound, fmt.Sprintf("%q not found", oldName))
}
