package inode_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/fsconst"
	"simdisk/internal/inode"
)

func newTestFS(t *testing.T) (*block.Cache, *bitmap.Manager) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "simdisk-inode-*.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(fsconst.FSSize))
	t.Cleanup(func() { f.Close() })
	c := block.NewCache(f)
	b := bitmap.NewManager(c)
	require.NoError(t, b.Format())
	return c, b
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := &inode.Inode{
		ID: 7, Type: inode.TypeFile, Mode: inode.ModeReadWrite, Nlink: 1,
		Gid: 1, Uid: 2, Size: 1024, Time: 123456789,
	}
	in.Addr[0] = 99
	in.Addr[fsconst.SecondIndirectIx] = 500

	buf, err := in.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, fsconst.InodeSize)

	var out inode.Inode
	require.NoError(t, out.UnmarshalBinary(buf))
	require.Equal(t, *in, out)
}

func TestAllocAssignsSequentialIDs(t *testing.T) {
	c, b := newTestFS(t)
	a, err := inode.Alloc(c, b, inode.TypeFile, inode.ModeRead, 0, 0, 0)
	require.NoError(t, err)
	bb, err := inode.Alloc(c, b, inode.TypeFile, inode.ModeRead, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, a.ID+1, bb.ID)
}

func TestAllocDataBlocksFillsDirectSlotsBeforeIndirect(t *testing.T) {
	c, b := newTestFS(t)
	// size 0 already reserves the first direct slot, matching the original's
	// alloc_data_blocks "at least one block" rule.
	in, err := inode.Alloc(c, b, inode.TypeFile, inode.ModeReadWrite, 0, 0, 0)
	require.NoError(t, err)
	require.NotEqual(t, uint32(0), in.Addr[0])

	for i := 1; i < fsconst.DirectSlots; i++ {
		id, err := inode.AllocDataBlocks(c, b, in)
		require.NoError(t, err)
		require.NotEqual(t, uint32(0), id)
	}
	require.Equal(t, uint32(0), in.Addr[fsconst.FirstIndirectIx])

	_, err = inode.AllocDataBlocks(c, b, in)
	require.NoError(t, err)
	require.NotEqual(t, uint32(0), in.Addr[fsconst.FirstIndirectIx], "ninth block should grow the first-indirect table")
}

func TestDeallocReleasesInodeBitAndZeroesRecord(t *testing.T) {
	c, b := newTestFS(t)
	in, err := inode.Alloc(c, b, inode.TypeFile, inode.ModeRead, 0, 0, 0)
	require.NoError(t, err)
	id := in.ID

	require.NoError(t, inode.Dealloc(c, b, in))

	reread, err := inode.Read(c, id)
	require.NoError(t, err)
	require.True(t, reread.Zero())

	free, err := b.CountFreeInodes()
	require.NoError(t, err)
	require.Equal(t, fsconst.MaxInodes, free)
}

func TestUnlinkatDecrementsNlink(t *testing.T) {
	c, b := newTestFS(t)
	in, err := inode.Alloc(c, b, inode.TypeFile, inode.ModeRead, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, inode.Linkat(c, in))
	require.Equal(t, uint8(2), in.Nlink)

	require.NoError(t, inode.Unlinkat(c, in))
	require.Equal(t, uint8(1), in.Nlink)
}
