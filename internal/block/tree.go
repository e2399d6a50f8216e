package block

import (
	"encoding/binary"
	"fmt"

	"simdisk/internal/fserr"
	"simdisk/internal/fsconst"
)

// Allocator is the subset of bitmap.Manager that the tree algorithms need:
// allocate and release single data-bit positions. block never imports
// bitmap; bitmap.Manager implements this interface structurally.
type Allocator interface {
	AllocDataBit() (uint32, error)
	DeallocDataBit(id uint32) error
}

// Codec constrains the pointer type of a fixed-size record (e.g.
// *dirent.Dirent) that InsertObject/RemoveObject can grow a tree of. Zero
// reports whether the record is the codec's zero value, i.e. an empty slot
// available for reuse. UnmarshalBinary needs a pointer receiver, hence the
// two-type-parameter shape: T is the value type stored in the tree, PT is
// its pointer type carrying the methods.
type Codec[T any] interface {
	*T
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
	Zero() bool
}

// AddrTable lets InsertObject/RemoveObject read and patch the
// owning inode's 10-slot address table without the block package importing
// the inode package.
type AddrTable interface {
	Addr(slot int) uint32
	SetAddr(slot int, id uint32)
}

func recordsPerBlock(size int) int {
	return fsconst.BlockSize / size
}

// blockIDAt reads one uint32 block id out of an indirect block's raw bytes.
func blockIDAt(buf []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(buf[i*fsconst.BlockIDSize:])
}

// GetAllBlocks returns every data block id reachable from addrs (an
// inode's 10-slot address table), expanding indirect tables as needed. The
// indirect index blocks themselves are included; empty (zero) slots are not.
func GetAllBlocks(c *Cache, addrs [fsconst.AddrSlots]uint32) ([]uint32, error) {
	var out []uint32
	for i := 0; i < fsconst.DirectSlots; i++ {
		if addrs[i] != 0 {
			out = append(out, addrs[i])
		}
	}
	if first := addrs[fsconst.FirstIndirectIx]; first != 0 {
		ids, err := readIndirectIDs(c, first)
		if err != nil {
			return nil, err
		}
		out = append(out, first)
		for _, id := range ids {
			if id != 0 {
				out = append(out, id)
			}
		}
	}
	if second := addrs[fsconst.SecondIndirectIx]; second != 0 {
		firsts, err := readIndirectIDs(c, second)
		if err != nil {
			return nil, err
		}
		out = append(out, second)
		for _, f := range firsts {
			if f == 0 {
				continue
			}
			ids, err := readIndirectIDs(c, f)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
			for _, id := range ids {
				if id != 0 {
					out = append(out, id)
				}
			}
		}
	}
	return out, nil
}

// GetAllValidBlocks is GetAllBlocks filtered to non-zero leaf entries only,
// excluding the indirect index blocks themselves — the set a reader walks
// to reassemble file content.
func GetAllValidBlocks(c *Cache, addrs [fsconst.AddrSlots]uint32) ([]uint32, error) {
	var out []uint32
	for i := 0; i < fsconst.DirectSlots; i++ {
		if addrs[i] != 0 {
			out = append(out, addrs[i])
		}
	}
	if first := addrs[fsconst.FirstIndirectIx]; first != 0 {
		ids, err := readIndirectIDs(c, first)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if id != 0 {
				out = append(out, id)
			}
		}
	}
	if second := addrs[fsconst.SecondIndirectIx]; second != 0 {
		firsts, err := readIndirectIDs(c, second)
		if err != nil {
			return nil, err
		}
		for _, f := range firsts {
			if f == 0 {
				continue
			}
			ids, err := readIndirectIDs(c, f)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if id != 0 {
					out = append(out, id)
				}
			}
		}
	}
	return out, nil
}

func readIndirectIDs(c *Cache, blockID uint32) ([]uint32, error) {
	buf, err := c.GetBuffer(blockID, 0, fsconst.BlockSize)
	if err != nil {
		return nil, err
	}
	n := fsconst.FirstMax
	ids := make([]uint32, n)
	for i := 0; i < n; i++ {
		ids[i] = blockIDAt(buf, i)
	}
	return ids, nil
}

// InsertObject places obj into the first empty (zero-value) slot reachable
// from table's addresses, growing the tree — direct, then first-indirect,
// then second-indirect — when every existing block is full. It mirrors the
// Rust block.rs insert_object algorithm: scan all currently-addressed data
// blocks for a free slot; only allocate a new data block, and only extend
// the address table, when none is found.
func InsertObject[T any, PT Codec[T]](c *Cache, alloc Allocator, table AddrTable, size int, obj T) error {
	perBlock := recordsPerBlock(size)

	tryBlock := func(blockID uint32) (bool, error) {
		buf, err := c.GetBuffer(blockID, 0, fsconst.BlockSize)
		if err != nil {
			return false, err
		}
		for i := 0; i < perBlock; i++ {
			var rec T
			if err := PT(&rec).UnmarshalBinary(buf[i*size : (i+1)*size]); err != nil {
				return false, err
			}
			if PT(&rec).Zero() {
				data, err := PT(&obj).MarshalBinary()
				if err != nil {
					return false, err
				}
				if err := c.writeAt(blockID, i*size, data); err != nil {
					return false, err
				}
				return true, nil
			}
		}
		return false, nil
	}

	// Direct blocks.
	for slot := 0; slot < fsconst.DirectSlots; slot++ {
		id := table.Addr(slot)
		if id == 0 {
			continue
		}
		ok, err := tryBlock(id)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	// First-indirect block, if allocated.
	first := table.Addr(fsconst.FirstIndirectIx)
	if first != 0 {
		ids, err := readIndirectIDs(c, first)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if id == 0 {
				continue
			}
			ok, err := tryBlock(id)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}

	// Second-indirect blocks, if allocated.
	second := table.Addr(fsconst.SecondIndirectIx)
	if second != 0 {
		firsts, err := readIndirectIDs(c, second)
		if err != nil {
			return err
		}
		for _, f := range firsts {
			if f == 0 {
				continue
			}
			ids, err := readIndirectIDs(c, f)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if id == 0 {
					continue
				}
				ok, err := tryBlock(id)
				if err != nil {
					return err
				}
				if ok {
					return nil
				}
			}
		}
	}

	// Nothing free: grow the tree by one data block.
	return growAndInsert[T, PT](c, alloc, table, size, obj)
}

func growAndInsert[T any, PT Codec[T]](c *Cache, alloc Allocator, table AddrTable, size int, obj T) error {
	newID, err := alloc.AllocDataBit()
	if err != nil {
		return err
	}
	if err := c.ClearBlocks([]uint32{newID}); err != nil {
		return err
	}
	data, err := PT(&obj).MarshalBinary()
	if err != nil {
		return err
	}
	if err := c.writeAt(newID, 0, data); err != nil {
		return err
	}

	// Try a free direct slot first.
	for slot := 0; slot < fsconst.DirectSlots; slot++ {
		if table.Addr(slot) == 0 {
			table.SetAddr(slot, newID)
			return nil
		}
	}

	// Then try to place newID inside the existing first-indirect table.
	first := table.Addr(fsconst.FirstIndirectIx)
	if first != 0 {
		if ok, err := placeInIndirect(c, first, newID); err != nil {
			return err
		} else if ok {
			return nil
		}
	} else {
		firstID, err := alloc.AllocDataBit()
		if err != nil {
			return err
		}
		if err := c.ClearBlocks([]uint32{firstID}); err != nil {
			return err
		}
		if err := setIndirectSlot(c, firstID, 0, newID); err != nil {
			return err
		}
		table.SetAddr(fsconst.FirstIndirectIx, firstID)
		return nil
	}

	// First-indirect table full: fall through to second-indirect.
	second := table.Addr(fsconst.SecondIndirectIx)
	if second != 0 {
		if ok, err := placeInSecondIndirect(c, alloc, second, newID); err != nil {
			return err
		} else if ok {
			return nil
		}
		return fserr.New(fserr.OutOfMemory, "file has reached the maximum addressable size")
	}

	secondID, err := alloc.AllocDataBit()
	if err != nil {
		return err
	}
	if err := c.ClearBlocks([]uint32{secondID}); err != nil {
		return err
	}
	firstID, err := alloc.AllocDataBit()
	if err != nil {
		return err
	}
	if err := c.ClearBlocks([]uint32{firstID}); err != nil {
		return err
	}
	if err := setIndirectSlot(c, firstID, 0, newID); err != nil {
		return err
	}
	if err := setIndirectSlot(c, secondID, 0, firstID); err != nil {
		return err
	}
	table.SetAddr(fsconst.SecondIndirectIx, secondID)
	return nil
}

func placeInIndirect(c *Cache, indirectID, newID uint32) (bool, error) {
	ids, err := readIndirectIDs(c, indirectID)
	if err != nil {
		return false, err
	}
	for i, id := range ids {
		if id == 0 {
			return true, setIndirectSlot(c, indirectID, i, newID)
		}
	}
	return false, nil
}

func placeInSecondIndirect(c *Cache, alloc Allocator, secondID, newID uint32) (bool, error) {
	firsts, err := readIndirectIDs(c, secondID)
	if err != nil {
		return false, err
	}
	for i, f := range firsts {
		if f == 0 {
			firstID, err := alloc.AllocDataBit()
			if err != nil {
				return false, err
			}
			if err := c.ClearBlocks([]uint32{firstID}); err != nil {
				return false, err
			}
			if err := setIndirectSlot(c, firstID, 0, newID); err != nil {
				return false, err
			}
			return true, setIndirectSlot(c, secondID, i, firstID)
		}
		if ok, err := placeInIndirect(c, f, newID); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

func setIndirectSlot(c *Cache, blockID uint32, slot int, id uint32) error {
	buf := make([]byte, fsconst.BlockIDSize)
	binary.LittleEndian.PutUint32(buf, id)
	return c.writeAt(blockID, slot*fsconst.BlockIDSize, buf)
}

// writeAt is the raw byte-slice sibling of WriteObject, used internally by
// the tree algorithms which already have encoded bytes in hand.
func (c *Cache) writeAt(id uint32, start int, data []byte) error {
	if start+len(data) > fsconst.BlockSize {
		return fmt.Errorf("block: write overruns block %d: start=%d len=%d", id, start, len(data))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.loadLocked(id)
	if err != nil {
		return err
	}
	copy(b.Data[start:start+len(data)], data)
	b.Modified = true
	return nil
}

// RemoveObject zeroes the first slot reachable from table's addresses whose
// decoded record equals match, then cascades the release of any block (and,
// for indirect levels, any now-empty parent table and its own address slot)
// left entirely empty by the removal. It mirrors Rust block.rs
// remove_object.
func RemoveObject[T any, PT Codec[T]](c *Cache, alloc Allocator, table AddrTable, size int, match func(T) bool) (bool, error) {
	perBlock := recordsPerBlock(size)

	scanAndClear := func(blockID uint32) (bool, error) {
		buf, err := c.GetBuffer(blockID, 0, fsconst.BlockSize)
		if err != nil {
			return false, err
		}
		for i := 0; i < perBlock; i++ {
			var rec T
			if err := PT(&rec).UnmarshalBinary(buf[i*size : (i+1)*size]); err != nil {
				return false, err
			}
			if PT(&rec).Zero() {
				continue
			}
			if match(rec) {
				zero := make([]byte, size)
				if err := c.writeAt(blockID, i*size, zero); err != nil {
					return false, err
				}
				return true, nil
			}
		}
		return false, nil
	}

	isBlockEmpty := func(blockID uint32) (bool, error) {
		buf, err := c.GetBuffer(blockID, 0, fsconst.BlockSize)
		if err != nil {
			return false, err
		}
		for i := 0; i < perBlock; i++ {
			var rec T
			if err := PT(&rec).UnmarshalBinary(buf[i*size : (i+1)*size]); err != nil {
				return false, err
			}
			if !PT(&rec).Zero() {
				return false, nil
			}
		}
		return true, nil
	}

	release := func(id uint32) error {
		if err := alloc.DeallocDataBit(id); err != nil {
			return err
		}
		return c.ClearBlocks([]uint32{id})
	}

	// Direct blocks.
	for slot := 0; slot < fsconst.DirectSlots; slot++ {
		id := table.Addr(slot)
		if id == 0 {
			continue
		}
		removed, err := scanAndClear(id)
		if err != nil {
			return false, err
		}
		if !removed {
			continue
		}
		if empty, err := isBlockEmpty(id); err != nil {
			return false, err
		} else if empty {
			if err := release(id); err != nil {
				return false, err
			}
			table.SetAddr(slot, 0)
		}
		return true, nil
	}

	// First-indirect.
	first := table.Addr(fsconst.FirstIndirectIx)
	if first != 0 {
		ids, err := readIndirectIDs(c, first)
		if err != nil {
			return false, err
		}
		for i, id := range ids {
			if id == 0 {
				continue
			}
			removed, err := scanAndClear(id)
			if err != nil {
				return false, err
			}
			if !removed {
				continue
			}
			if empty, err := isBlockEmpty(id); err != nil {
				return false, err
			} else if empty {
				if err := release(id); err != nil {
					return false, err
				}
				if err := setIndirectSlot(c, first, i, 0); err != nil {
					return false, err
				}
				if allEmpty, err := isBlockEmpty(first); err != nil {
					return false, err
				} else if allEmpty {
					if err := release(first); err != nil {
						return false, err
					}
					table.SetAddr(fsconst.FirstIndirectIx, 0)
				}
			}
			return true, nil
		}
	}

	// Second-indirect.
	second := table.Addr(fsconst.SecondIndirectIx)
	if second != 0 {
		firsts, err := readIndirectIDs(c, second)
		if err != nil {
			return false, err
		}
		for fi, f := range firsts {
			if f == 0 {
				continue
			}
			ids, err := readIndirectIDs(c, f)
			if err != nil {
				return false, err
			}
			for i, id := range ids {
				if id == 0 {
					continue
				}
				removed, err := scanAndClear(id)
				if err != nil {
					return false, err
				}
				if !removed {
					continue
				}
				if empty, err := isBlockEmpty(id); err != nil {
					return false, err
				} else if empty {
					if err := release(id); err != nil {
						return false, err
					}
					if err := setIndirectSlot(c, f, i, 0); err != nil {
						return false, err
					}
					if allEmpty, err := isBlockEmpty(f); err != nil {
						return false, err
					} else if allEmpty {
						if err := release(f); err != nil {
							return false, err
						}
						if err := setIndirectSlot(c, second, fi, 0); err != nil {
							return false, err
						}
						if allEmpty2, err := isBlockEmpty(second); err != nil {
							return false, err
						} else if allEmpty2 {
							if err := release(second); err != nil {
								return false, err
							}
							table.SetAddr(fsconst.SecondIndirectIx, 0)
						}
					}
				}
				return true, nil
			}
		}
	}

	return false, nil
}
