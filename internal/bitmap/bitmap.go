// Package bitmap implements the two independent rotating-cursor allocators
// that track free inodes and free data blocks.
package bitmap

import (
	"fmt"
	"sync"

	"simdisk/internal/block"
	"simdisk/internal/fserr"
	"simdisk/internal/fsconst"
)

// Manager owns both bitmaps and the cache blocks that back them. It
// implements block.Allocator for the data bitmap, which lets the block
// package grow/shrink indirect tables without importing bitmap.
//
// Lock discipline: Manager's lock is always acquired before the cache's
// internal lock in any call path that needs both — callers must never hold
// a cache-derived lock before calling into Manager.
type Manager struct {
	mu    sync.Mutex
	cache *block.Cache

	lastInodeBytePos int
	lastDataBytePos  int
}

// NewManager wraps the cache blocks holding both bitmaps. It does not
// initialize their contents; callers format a fresh bitmap with Format.
func NewManager(c *block.Cache) *Manager {
	return &Manager{cache: c}
}

// Format zero-fills both bitmap regions, used when creating a fresh backing
// file.
func (m *Manager) Format() error {
	ids := make([]uint32, 0, fsconst.InodeBitmapLen+fsconst.DataBitmapLen)
	for i := 0; i < fsconst.InodeBitmapLen; i++ {
		ids = append(ids, uint32(fsconst.InodeBitmapStart+i))
	}
	for i := 0; i < fsconst.DataBitmapLen; i++ {
		ids = append(ids, uint32(fsconst.DataBitmapStart+i))
	}
	if err := m.cache.ClearBlocks(ids); err != nil {
		return err
	}
	m.lastInodeBytePos = 0
	m.lastDataBytePos = 0
	return nil
}

func byteBlock(region int, pos int) (blockID uint32, offset int) {
	return uint32(region + pos/fsconst.BlockSize), pos % fsconst.BlockSize
}

// allocBit performs the rotating cyclic scan shared by the inode and data
// allocators: starting at lastPos, find the first byte that is not 0xFF,
// then the lowest zero bit within it. It mirrors bitmap.rs's alloc_bit.
func (m *Manager) allocBit(region string, totalBytes int, lastPos *int) (int, error) {
	regionStart := fsconst.InodeBitmapStart
	if region == "data" {
		regionStart = fsconst.DataBitmapStart
	}
	for scanned := 0; scanned < totalBytes; scanned++ {
		pos := (*lastPos + scanned) % totalBytes
		blockID, off := byteBlock(regionStart, pos)
		buf, err := m.cache.GetBuffer(blockID, off, off+1)
		if err != nil {
			return 0, err
		}
		b := buf[0]
		if b == 0xFF {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) == 0 {
				b |= 1 << uint(bit)
				if err := m.patchByte(blockID, off, b); err != nil {
					return 0, err
				}
				*lastPos = pos
				return pos*8 + bit, nil
			}
		}
	}
	return 0, fserr.New(fserr.OutOfMemory, fmt.Sprintf("no free %s bits remain", region))
}

func (m *Manager) patchByte(blockID uint32, offset int, value byte) error {
	return m.cache.WriteObjects([]block.ObjectWrite{{
		Obj:   rawByte{value},
		ID:    blockID,
		Start: offset,
	}})
}

// rawByte adapts a single byte to encoding.BinaryMarshaler for Cache.WriteObject.
type rawByte struct{ v byte }

func (r rawByte) MarshalBinary() ([]byte, error) { return []byte{r.v}, nil }

// AllocInodeBit reserves and returns the first free inode id found by the
// rotating cursor's scan, which starts at the byte of the last allocation
// and wraps around.
func (m *Manager) AllocInodeBit() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bit, err := m.allocBit("inode", fsconst.MaxInodes/8, &m.lastInodeBytePos)
	if err != nil {
		return 0, err
	}
	return uint16(bit), nil
}

// DeallocInodeBit clears bit id in the inode bitmap and reports its
// previous value.
func (m *Manager) DeallocInodeBit(id uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deallocBit(fsconst.InodeBitmapStart, int(id))
}

// AllocDataBit reserves one data-bit position and returns the corresponding
// absolute data-area block id. Implements block.Allocator.
func (m *Manager) AllocDataBit() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bit, err := m.allocBit("data", fsconst.DataBitCount/8, &m.lastDataBytePos)
	if err != nil {
		return 0, err
	}
	return uint32(fsconst.DataAreaStart + bit), nil
}

// DeallocDataBit clears the data-bit position corresponding to absolute
// block id blockID. Implements block.Allocator.
func (m *Manager) DeallocDataBit(blockID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bit := int(blockID) - fsconst.DataAreaStart
	if bit < 0 {
		return fmt.Errorf("bitmap: block id %d is outside the data area", blockID)
	}
	_, err := m.deallocBit(fsconst.DataBitmapStart, bit)
	return err
}

// DeallocDataBits clears several data-bit positions in one call, the bulk
// path used when releasing every block of a deleted file at once.
func (m *Manager) DeallocDataBits(blockIDs []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range blockIDs {
		bit := int(id) - fsconst.DataAreaStart
		if bit < 0 {
			return fmt.Errorf("bitmap: block id %d is outside the data area", id)
		}
		if _, err := m.deallocBit(fsconst.DataBitmapStart, bit); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) deallocBit(regionStart int, bit int) (bool, error) {
	blockID, off := byteBlock(regionStart, bit/8)
	buf, err := m.cache.GetBuffer(blockID, off, off+1)
	if err != nil {
		return false, err
	}
	b := buf[0]
	mask := byte(1 << uint(bit%8))
	was := b&mask != 0
	b &^= mask
	if err := m.patchByte(blockID, off, b); err != nil {
		return false, err
	}
	return was, nil
}

// CountFreeInodes scans the inode bitmap and returns the number of unused
// inode ids, used by the info/statfs-style reporting command.
func (m *Manager) CountFreeInodes() (int, error) {
	return m.countFree(fsconst.InodeBitmapStart, fsconst.MaxInodes)
}

// CountFreeData scans the data bitmap and returns the number of unused data
// positions.
func (m *Manager) CountFreeData() (int, error) {
	return m.countFree(fsconst.DataBitmapStart, fsconst.DataBitCount)
}

func (m *Manager) countFree(regionStart int, totalBits int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	free := 0
	totalBytes := totalBits / 8
	for i := 0; i < totalBytes; i++ {
		blockID, off := byteBlock(regionStart, i)
		buf, err := m.cache.GetBuffer(blockID, off, off+1)
		if err != nil {
			return 0, err
		}
		b := buf[0]
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) == 0 {
				free++
			}
		}
	}
	return free, nil
}
