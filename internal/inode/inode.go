// Package inode implements the fixed 64-byte inode record and the
// allocation/linking operations defined over it.
package inode

import (
	"encoding/binary"
	"fmt"
	"time"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/fserr"
	"simdisk/internal/fsconst"
)

// Mode is the bitflag permission set carried by every inode: four
// independent flags, Read, Write, ReadWrite and Execute.
type Mode uint8

const (
	ModeRead    Mode = 1
	ModeWrite   Mode = 2
	ModeReadWrite Mode = 4
	ModeExecute Mode = 8
)

// Type distinguishes a plain file inode from a directory inode.
type Type uint8

const (
	TypeFile Type = 0
	TypeDir  Type = 1
)

// Inode is the exact 64-byte on-disk record: id, type, mode, link count,
// owning group/user, size, creation time, and the 10-slot block
// address table (8 direct, 1 first-indirect, 1 second-indirect).
type Inode struct {
	ID    uint16
	Type  Type
	Mode  Mode
	Nlink uint8
	Gid   uint16
	Uid   uint16
	Size  uint32
	Time  uint64
	Addr  [fsconst.AddrSlots]uint32
}

// addrTableView adapts an *Inode to block.AddrTable; Go forbids naming a
// field and method identically, hence the indirection.
type addrTableView struct{ in *Inode }

func (a addrTableView) Addr(slot int) uint32      { return a.in.Addr[slot] }
func (a addrTableView) SetAddr(slot int, v uint32) { a.in.Addr[slot] = v }

func (in *Inode) Table() block.AddrTable { return addrTableView{in} }

// MarshalBinary packs the inode into its exact 64-byte wire form.
func (in *Inode) MarshalBinary() ([]byte, error) {
	buf := make([]byte, fsconst.InodeSize)
	binary.LittleEndian.PutUint16(buf[0:], in.ID)
	buf[2] = byte(in.Type)
	buf[3] = byte(in.Mode)
	buf[4] = in.Nlink
	binary.LittleEndian.PutUint16(buf[5:], in.Gid)
	binary.LittleEndian.PutUint16(buf[7:], in.Uid)
	binary.LittleEndian.PutUint32(buf[9:], in.Size)
	binary.LittleEndian.PutUint64(buf[13:], in.Time)
	for i, a := range in.Addr {
		binary.LittleEndian.PutUint32(buf[21+i*4:], a)
	}
	return buf, nil
}

// UnmarshalBinary unpacks a 64-byte record produced by MarshalBinary.
func (in *Inode) UnmarshalBinary(buf []byte) error {
	if len(buf) < fsconst.InodeSize {
		return fmt.Errorf("inode: short record: %d bytes", len(buf))
	}
	in.ID = binary.LittleEndian.Uint16(buf[0:])
	in.Type = Type(buf[2])
	in.Mode = Mode(buf[3])
	in.Nlink = buf[4]
	in.Gid = binary.LittleEndian.Uint16(buf[5:])
	in.Uid = binary.LittleEndian.Uint16(buf[7:])
	in.Size = binary.LittleEndian.Uint32(buf[9:])
	in.Time = binary.LittleEndian.Uint64(buf[13:])
	for i := range in.Addr {
		in.Addr[i] = binary.LittleEndian.Uint32(buf[21+i*4:])
	}
	return nil
}

// Zero reports whether this inode record is unused, i.e. never allocated.
// An inode is zero when its Nlink is zero; a freshly dealloc'ed inode is
// cleared back to this state.
func (in *Inode) Zero() bool { return in.Nlink == 0 }

// location returns the block id and in-block byte offset of inode id n.
func location(n uint16) (blockID uint32, offset int) {
	return uint32(fsconst.InodeAreaStart) + uint32(n)/fsconst.InodesPerBlock, (int(n) % fsconst.InodesPerBlock) * fsconst.InodeSize
}

// Read loads inode id n from the cache.
func Read(c *block.Cache, n uint16) (*Inode, error) {
	blockID, off := location(n)
	buf, err := c.GetBuffer(blockID, off, off+fsconst.InodeSize)
	if err != nil {
		return nil, err
	}
	in := &Inode{}
	if err := in.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return in, nil
}

// Write persists in at its own id's slot.
func Write(c *block.Cache, in *Inode) error {
	blockID, off := location(in.ID)
	return c.WriteObject(in, blockID, off)
}

// Alloc reserves a new inode id, builds a fresh record, pre-allocates
// enough data blocks to cover size bytes (at least one block even when
// size is 0, matching the original's alloc_data_blocks) and persists it.
func Alloc(c *block.Cache, b *bitmap.Manager, typ Type, mode Mode, gid, uid uint16, size int) (*Inode, error) {
	id, err := b.AllocInodeBit()
	if err != nil {
		return nil, err
	}
	in := &Inode{
		ID:    id,
		Type:  typ,
		Mode:  mode,
		Nlink: 1,
		Gid:   gid,
		Uid:   uid,
		Size:  0,
		Time:  uint64(time.Now().Unix()),
	}
	if err := preallocate(c, b, in, size); err != nil {
		return nil, err
	}
	if err := Write(c, in); err != nil {
		return nil, err
	}
	return in, nil
}

// preallocate grows in's address table to cover size bytes, one block at a
// time via AllocDataBlocks, reserving a single block even for size 0.
func preallocate(c *block.Cache, b *bitmap.Manager, in *Inode, size int) error {
	blocks := size / fsconst.BlockSize
	if size%fsconst.BlockSize != 0 || size == 0 {
		blocks++
	}
	for i := 0; i < blocks; i++ {
		if _, err := AllocDataBlocks(c, b, in); err != nil {
			return err
		}
	}
	return nil
}

// Dealloc releases every data block owned by in, clears the inode bitmap
// bit and zeroes the on-disk record.
func Dealloc(c *block.Cache, b *bitmap.Manager, in *Inode) error {
	blockIDs, err := block.GetAllBlocks(c, in.Addr)
	if err != nil {
		return err
	}
	if len(blockIDs) > 0 {
		if err := b.DeallocDataBits(blockIDs); err != nil {
			return err
		}
		if err := c.ClearBlocks(blockIDs); err != nil {
			return err
		}
	}
	if _, err := b.DeallocInodeBit(in.ID); err != nil {
		return err
	}
	zero := &Inode{ID: in.ID}
	return Write(c, zero)
}

// Linkat bumps nlink and persists the change, used when a hard link to an
// existing inode is created.
func Linkat(c *block.Cache, in *Inode) error {
	in.Nlink++
	return Write(c, in)
}

// Unlinkat decrements nlink; callers are responsible for calling Dealloc
// once nlink reaches zero.
func Unlinkat(c *block.Cache, in *Inode) error {
	if in.Nlink == 0 {
		return fserr.New(fserr.InvalidInput, "inode already unlinked")
	}
	in.Nlink--
	return Write(c, in)
}

// AllocDataBlocks grows in's address table by exactly one data block
// (allocating any indirect table it needs as well) and returns the data
// block's id; preallocate calls it once per block.
func AllocDataBlocks(c *block.Cache, b *bitmap.Manager, in *Inode) (uint32, error) {
	for slot := 0; slot < fsconst.DirectSlots; slot++ {
		if in.Addr[slot] == 0 {
			id, err := b.AllocDataBit()
			if err != nil {
				return 0, err
			}
			if err := c.ClearBlocks([]uint32{id}); err != nil {
				return 0, err
			}
			in.Addr[slot] = id
			return id, nil
		}
	}
	return growIndirect(c, b, in)
}

func growIndirect(c *block.Cache, b *bitmap.Manager, in *Inode) (uint32, error) {
	newID, err := b.AllocDataBit()
	if err != nil {
		return 0, err
	}
	if err := c.ClearBlocks([]uint32{newID}); err != nil {
		return 0, err
	}

	setSlot := func(blockID uint32, slot int, id uint32) error {
		data := make([]byte, fsconst.BlockIDSize)
		binary.LittleEndian.PutUint32(data, id)
		return c.WriteObjects([]block.ObjectWrite{{Obj: rawBytes(data), ID: blockID, Start: slot * fsconst.BlockIDSize}})
	}

	readIDs := func(blockID uint32) ([]uint32, error) {
		buf, err := c.GetBuffer(blockID, 0, fsconst.BlockSize)
		if err != nil {
			return nil, err
		}
		ids := make([]uint32, fsconst.FirstMax)
		for i := range ids {
			ids[i] = binary.LittleEndian.Uint32(buf[i*fsconst.BlockIDSize:])
		}
		return ids, nil
	}

	if in.Addr[fsconst.FirstIndirectIx] == 0 {
		firstID, err := b.AllocDataBit()
		if err != nil {
			return 0, err
		}
		if err := c.ClearBlocks([]uint32{firstID}); err != nil {
			return 0, err
		}
		if err := setSlot(firstID, 0, newID); err != nil {
			return 0, err
		}
		in.Addr[fsconst.FirstIndirectIx] = firstID
		return newID, nil
	}

	ids, err := readIDs(in.Addr[fsconst.FirstIndirectIx])
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if id == 0 {
			if err := setSlot(in.Addr[fsconst.FirstIndirectIx], i, newID); err != nil {
				return 0, err
			}
			return newID, nil
		}
	}

	if in.Addr[fsconst.SecondIndirectIx] == 0 {
		secondID, err := b.AllocDataBit()
		if err != nil {
			return 0, err
		}
		if err := c.ClearBlocks([]uint32{secondID}); err != nil {
			return 0, err
		}
		firstID, err := b.AllocDataBit()
		if err != nil {
			return 0, err
		}
		if err := c.ClearBlocks([]uint32{firstID}); err != nil {
			return 0, err
		}
		if err := setSlot(firstID, 0, newID); err != nil {
			return 0, err
		}
		if err := setSlot(secondID, 0, firstID); err != nil {
			return 0, err
		}
		in.Addr[fsconst.SecondIndirectIx] = secondID
		return newID, nil
	}

	firsts, err := readIDs(in.Addr[fsconst.SecondIndirectIx])
	if err != nil {
		return 0, err
	}
	for i, f := range firsts {
		if f == 0 {
			firstID, err := b.AllocDataBit()
			if err != nil {
				return 0, err
			}
			if err := c.ClearBlocks([]uint32{firstID}); err != nil {
				return 0, err
			}
			if err := setSlot(firstID, 0, newID); err != nil {
				return 0, err
			}
			if err := setSlot(in.Addr[fsconst.SecondIndirectIx], i, firstID); err != nil {
				return 0, err
			}
			return newID, nil
		}
		secondIDs, err := readIDs(f)
		if err != nil {
			return 0, err
		}
		for j, id := range secondIDs {
			if id == 0 {
				if err := setSlot(f, j, newID); err != nil {
					return 0, err
				}
				return newID, nil
			}
		}
	}

	return 0, fserr.New(fserr.OutOfMemory, "file has reached the maximum addressable size")
}

type rawBytes []byte

func (r rawBytes) MarshalBinary() ([]byte, error) { return r, nil }
