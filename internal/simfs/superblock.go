package simfs

import (
	"encoding/binary"
	"fmt"

	"simdisk/internal/fsconst"
)

// superBlock is the fixed record at the very start of block 0: a magic
// number plus the start/length of each fixed region, so a mounted backing
// file is self-describing.
type superBlock struct {
	Magic            uint64
	FSSize           uint32
	InodeBitmapStart uint32
	InodeBitmapLen   uint32
	DataBitmapStart  uint32
	DataBitmapLen    uint32
	InodeAreaStart   uint32
	InodeAreaLen     uint32
	DataAreaStart    uint32
	DataAreaLen      uint32
}

const superBlockSize = 8 + 9*4

func newSuperBlock() superBlock {
	return superBlock{
		Magic:            fsconst.SuperBlockMagic,
		FSSize:           fsconst.FSSize,
		InodeBitmapStart: fsconst.InodeBitmapStart,
		InodeBitmapLen:   fsconst.InodeBitmapLen,
		DataBitmapStart:  fsconst.DataBitmapStart,
		DataBitmapLen:    fsconst.DataBitmapLen,
		InodeAreaStart:   fsconst.InodeAreaStart,
		InodeAreaLen:     fsconst.InodeAreaLen,
		DataAreaStart:    fsconst.DataAreaStart,
		DataAreaLen:      uint32(fsconst.DataAreaLen),
	}
}

func (s superBlock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, superBlockSize)
	binary.LittleEndian.PutUint64(buf[0:], s.Magic)
	binary.LittleEndian.PutUint32(buf[8:], s.FSSize)
	binary.LittleEndian.PutUint32(buf[12:], s.InodeBitmapStart)
	binary.LittleEndian.PutUint32(buf[16:], s.InodeBitmapLen)
	binary.LittleEndian.PutUint32(buf[20:], s.DataBitmapStart)
	binary.LittleEndian.PutUint32(buf[24:], s.DataBitmapLen)
	binary.LittleEndian.PutUint32(buf[28:], s.InodeAreaStart)
	binary.LittleEndian.PutUint32(buf[32:], s.InodeAreaLen)
	binary.LittleEndian.PutUint32(buf[36:], s.DataAreaStart)
	binary.LittleEndian.PutUint32(buf[40:], s.DataAreaLen)
	return buf, nil
}

func (s *superBlock) UnmarshalBinary(buf []byte) error {
	if len(buf) < superBlockSize {
		return fmt.Errorf("simfs: short super block record: %d bytes", len(buf))
	}
	s.Magic = binary.LittleEndian.Uint64(buf[0:])
	s.FSSize = binary.LittleEndian.Uint32(buf[8:])
	s.InodeBitmapStart = binary.LittleEndian.Uint32(buf[12:])
	s.InodeBitmapLen = binary.LittleEndian.Uint32(buf[16:])
	s.DataBitmapStart = binary.LittleEndian.Uint32(buf[20:])
	s.DataBitmapLen = binary.LittleEndian.Uint32(buf[24:])
	s.InodeAreaStart = binary.LittleEndian.Uint32(buf[28:])
	s.InodeAreaLen = binary.LittleEndian.Uint32(buf[32:])
	s.DataAreaStart = binary.LittleEndian.Uint32(buf[36:])
	s.DataAreaLen = binary.LittleEndian.Uint32(buf[40:])
	return nil
}

func (s superBlock) valid() bool {
	return s.Magic == fsconst.SuperBlockMagic && s.FSSize == fsconst.FSSize
}
