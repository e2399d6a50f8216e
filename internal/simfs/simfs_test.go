package simfs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"simdisk/internal/block"
	"simdisk/internal/fsconst"
	"simdisk/internal/inode"
	"simdisk/internal/simfs"
	"simdisk/internal/testutil"
)

// bitSet reads bit pos of the bitmap region starting at regionStart directly
// off the cache, independent of simfs's own repair logic.
func bitSet(t *testing.T, c *block.Cache, regionStart, pos int) bool {
	t.Helper()
	blockID := uint32(regionStart + pos/8/fsconst.BlockSize)
	off := (pos / 8) % fsconst.BlockSize
	buf, err := c.GetBuffer(blockID, off, off+1)
	require.NoError(t, err)
	return buf[0]&(1<<uint(pos%8)) != 0
}

func TestForceClearThenMountRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	fs, err := simfs.ForceClear(path, simfs.PolicyOnExit, testutil.NewLogger())
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	fs2, err := simfs.Mount(path, simfs.PolicyOnExit, testutil.NewLogger())
	require.NoError(t, err)
	defer fs2.Close()

	root := fs2.Root()
	require.Equal(t, uint16(0), root.ID)
	require.Equal(t, inode.TypeDir, root.Type)
}

func TestCreateFileThenInfoReflectsUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := simfs.ForceClear(path, simfs.PolicyImmediate, testutil.NewLogger())
	require.NoError(t, err)
	defer fs.Close()

	root := fs.Root()
	_, err = fs.CreateFile(root, "hello.txt", []byte("hi"), inode.ModeReadWrite, 0, 0)
	require.NoError(t, err)

	info, err := fs.Info()
	require.NoError(t, err)
	require.NotEmpty(t, info)
	// Root's directory block plus the one block of hello.txt.
	require.Contains(t, info, "used: 2.00 KiB")
}

func TestMakeDirectoryCdAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := simfs.ForceClear(path, simfs.PolicyOnExit, testutil.NewLogger())
	require.NoError(t, err)
	defer fs.Close()

	root := fs.Root()
	sub, err := fs.MakeDirectory(root, "docs", inode.ModeReadWrite|inode.ModeExecute, 0, 0)
	require.NoError(t, err)

	back, err := fs.Cd(sub, "..")
	require.NoError(t, err)
	require.Equal(t, root.ID, back.ID)

	entries, err := fs.List(root)
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Name() == "docs" {
			found = true
		}
	}
	require.True(t, found)
}

func TestSignUpAndSignIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := simfs.ForceClear(path, simfs.PolicyOnExit, testutil.NewLogger())
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.SignUp("erin", "pw")
	require.NoError(t, err)

	_, err = fs.SignIn("erin", "pw")
	require.NoError(t, err)

	_, err = fs.SignIn("erin", "wrong")
	require.Error(t, err)
}

func TestCheckReportsValidSuperBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := simfs.ForceClear(path, simfs.PolicyOnExit, testutil.NewLogger())
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.Check())
}

// TestCheckRepairsCorruptBitmapBits simulates the two crash signatures
// spec.md's check command is meant to reconcile: a bitmap bit set with no
// record to back it, on both the inode and data bitmaps.
func TestCheckRepairsCorruptBitmapBits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := simfs.ForceClear(path, simfs.PolicyOnExit, testutil.NewLogger())
	require.NoError(t, err)
	defer fs.Close()

	bm := fs.Bitmap()
	c := fs.Cache()

	// Bit set by AllocInodeBit but never followed by a Write of a matching
	// inode record, as if the process crashed in between.
	badInodeID, err := bm.AllocInodeBit()
	require.NoError(t, err)
	require.True(t, bitSet(t, c, fsconst.InodeBitmapStart, int(badInodeID)))

	// Bit set by AllocDataBit but the block was never actually written.
	badBlockID, err := bm.AllocDataBit()
	require.NoError(t, err)
	require.True(t, bitSet(t, c, fsconst.DataBitmapStart, int(badBlockID)-fsconst.DataAreaStart))

	require.NoError(t, fs.Check())

	require.False(t, bitSet(t, c, fsconst.InodeBitmapStart, int(badInodeID)), "check should clear an inode bit with no matching record")
	require.False(t, bitSet(t, c, fsconst.DataBitmapStart, int(badBlockID)-fsconst.DataAreaStart), "check should clear a data bit pointing at an all-zero block")
}
