// Package block implements block-granular I/O against the backing file and
// the process-wide write-back cache that mediates every access to it.
package block

import (
	"encoding"
	"fmt"
	"io"
	"os"
	"sync"

	"simdisk/internal/fsconst"
)

// Block is one cached BlockSize-byte record of the backing file.
type Block struct {
	ID       uint32
	Data     [fsconst.BlockSize]byte
	Modified bool
}

// Cache is the single process-wide write-back cache. Reads miss through to
// the backing file; writes only ever touch the in-memory copy until
// SyncAndClear flushes it.
//
// Lock discipline: callers that also need the bitmap lock must take it
// before calling into Cache (see bitmap.Manager), never the reverse.
type Cache struct {
	mu     sync.RWMutex
	file   *os.File
	blocks map[uint32]*Block
}

// NewCache wraps an already-open backing file. The file must be exactly
// fsconst.FSSize bytes.
func NewCache(file *os.File) *Cache {
	return &Cache{
		file:   file,
		blocks: make(map[uint32]*Block, 64),
	}
}

func (c *Cache) loadLocked(id uint32) (*Block, error) {
	if b, ok := c.blocks[id]; ok {
		return b, nil
	}
	b := &Block{ID: id}
	off := int64(id) * fsconst.BlockSize
	if _, err := c.file.ReadAt(b.Data[:], off); err != nil && err != io.EOF {
		return nil, fmt.Errorf("block: read block %d: %w", id, err)
	}
	c.blocks[id] = b
	return b, nil
}

// ReadBlock ensures id is present in the cache.
func (c *Cache) ReadBlock(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.loadLocked(id)
	return err
}

// ReadBlocks ensures every id in ids is present in the cache.
func (c *Cache) ReadBlocks(ids []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if _, err := c.loadLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// GetBuffer returns a read-only copy of data[start:end) of block id. On a
// cache miss (a concurrent sync may have cleared the block out from under
// us) it re-populates the block from the backing file while still holding
// the lock, so the copy is taken from the freshly loaded block.
func (c *Cache) GetBuffer(id uint32, start, end int) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c.mu.Lock()
		b, ok := c.blocks[id]
		if !ok {
			var err error
			b, err = c.loadLocked(id)
			if err != nil {
				c.mu.Unlock()
				return nil, err
			}
		}
		out := make([]byte, end-start)
		copy(out, b.Data[start:end])
		c.mu.Unlock()
		return out, nil
	}
	return nil, fmt.Errorf("block: could not read block %d after retry", id)
}

// BufferRequest is one (id, start, end) triple for a batched GetBuffers call.
type BufferRequest struct {
	ID         uint32
	Start, End int
}

// GetBuffers batches several GetBuffer calls.
func (c *Cache) GetBuffers(reqs []BufferRequest) ([][]byte, error) {
	out := make([][]byte, len(reqs))
	for i, r := range reqs {
		buf, err := c.GetBuffer(r.ID, r.Start, r.End)
		if err != nil {
			return nil, err
		}
		out[i] = buf
	}
	return out, nil
}

// WriteObject serializes obj with the fixed binary codec and copies it into
// the cache at [start, start+len(encoded)). start+len(encoded) must not
// exceed BlockSize.
func (c *Cache) WriteObject(obj encoding.BinaryMarshaler, id uint32, start int) error {
	data, err := obj.MarshalBinary()
	if err != nil {
		return fmt.Errorf("block: serialize: %w", err)
	}
	if start+len(data) > fsconst.BlockSize {
		return fmt.Errorf("block: write_object overruns block %d: start=%d len=%d", id, start, len(data))
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

// ObjectWrite is one (obj, id, start) triple for a batched WriteObjects call.
type ObjectWrite struct {
	Obj   encoding.BinaryMarshaler
	ID    uint32
	Start int
}

// WriteObjects batches several WriteObject calls.
func (c *Cache) WriteObjects(writes []ObjectWrite) error {
	for _, w := range writes {
		if err := c.WriteObject(w.Obj, w.ID, w.Start); err != nil {
			return err
		}
	}
	return nil
}

// WriteContents writes each of contents[i] to the start of block ids[i],
// leaving the remainder of the target block untouched. Each content must be
// at most BlockSize bytes.
func (c *Cache) WriteContents(contents [][]byte, ids []uint32) error {
	if len(contents) > len(ids) {
		return fmt.Errorf("block: write_contents: %d chunks for %d blocks", len(contents), len(ids))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, content := range contents {
		if len(content) > fsconst.BlockSize {
			return fmt.Errorf("block: write_contents: chunk %d exceeds block size", i)
		}
		b, err := c.loadLocked(ids[i])
		if err != nil {
			return err
		}
		copy(b.Data[:len(content)], content)
		b.Modified = true
	}
	return nil
}

// ClearBlocks zero-fills and marks modified every block in ids.
func (c *Cache) ClearBlocks(ids []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		b, err := c.loadLocked(id)
		if err != nil {
			return err
		}
		b.Data = [fsconst.BlockSize]byte{}
		b.Modified = true
	}
	return nil
}

// SyncAndClear writes every modified block back to the backing file and
// empties the cache; clean blocks are dropped without I/O.
func (c *Cache) SyncAndClear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, b := range c.blocks {
		if !b.Modified {
			continue
		}
		off := int64(id) * fsconst.BlockSize
		if _, err := c.file.WriteAt(b.Data[:], off); err != nil {
			return fmt.Errorf("block: sync block %d: %w", id, err)
		}
	}
	c.blocks = make(map[uint32]*Block, 64)
	return nil
}
