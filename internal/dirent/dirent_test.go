package dirent_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/dirent"
	"simdisk/internal/fsconst"
	"simdisk/internal/inode"
)

func newTestFS(t *testing.T) (*block.Cache, *bitmap.Manager) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "simdisk-dirent-*.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(fsconst.FSSize))
	t.Cleanup(func() { f.Close() })
	c := block.NewCache(f)
	b := bitmap.NewManager(c)
	require.NoError(t, b.Format())
	return c, b
}

func TestSplitNameRoundTrip(t *testing.T) {
	base, ext := dirent.SplitName("report.txt")
	require.Equal(t, "report", base)
	require.Equal(t, "txt", ext)

	base, ext = dirent.SplitName("README")
	require.Equal(t, "README", base)
	require.Equal(t, "", ext)
}

func TestInsertAndLookupRoundTrip(t *testing.T) {
	c, b := newTestFS(t)
	dir, err := inode.Alloc(c, b, inode.TypeDir, inode.ModeReadWrite, 0, 0, 0)
	require.NoError(t, err)

	d, err := dirent.New("hello.txt", false, 42)
	require.NoError(t, err)
	require.NoError(t, dirent.Insert(c, b, dir, d))

	found, ok, err := dirent.Lookup(c, dir, "hello.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint16(42), found.InodeID)
	if diff := pretty.Compare(d, found); diff != "" {
		t.Fatalf("round-tripped dirent differs: %s", diff)
	}
}

func TestInsertGrowsPastOneBlock(t *testing.T) {
	c, b := newTestFS(t)
	dir, err := inode.Alloc(c, b, inode.TypeDir, inode.ModeReadWrite, 0, 0, 0)
	require.NoError(t, err)

	// One direct block holds DirentsPerBlock entries; inserting one more
	// must allocate a second direct block rather than overwrite anything.
	for i := 0; i < fsconst.DirentsPerBlock+1; i++ {
		d, err := dirent.New(fmt.Sprintf("f%d", i), false, uint16(i+1))
		require.NoError(t, err)
		require.NoError(t, dirent.Insert(c, b, dir, d))
	}

	entries, err := dirent.GetAll(c, dir)
	require.NoError(t, err)
	require.Len(t, entries, fsconst.DirentsPerBlock+1)
	require.NotEqual(t, uint32(0), dir.Addr[1], "second direct slot should be in use")
}

func TestRemoveReleasesEmptyBlock(t *testing.T) {
	c, b := newTestFS(t)
	dir, err := inode.Alloc(c, b, inode.TypeDir, inode.ModeReadWrite, 0, 0, 0)
	require.NoError(t, err)

	d, err := dirent.New("solo.txt", false, 1)
	require.NoError(t, err)
	require.NoError(t, dirent.Insert(c, b, dir, d))
	require.NotEqual(t, uint32(0), dir.Addr[0])

	removed, err := dirent.Remove(c, b, dir, "solo.txt")
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, uint32(0), dir.Addr[0], "the only occupied block should be released")
}

func TestMakeDirectoryWiresDotAndDotDot(t *testing.T) {
	c, b := newTestFS(t)
	root, err := inode.Alloc(c, b, inode.TypeDir, inode.ModeReadWrite, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dirent.CreateSpecialDirectories(c, b, root, root))

	sub, err := dirent.MakeDirectory(c, b, root, "sub", inode.ModeReadWrite, 0, 0)
	require.NoError(t, err)

	dot, ok, err := dirent.Lookup(c, sub, ".")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sub.ID, dot.InodeID)

	dotdot, ok, err := dirent.Lookup(c, sub, "..")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, root.ID, dotdot.InodeID)
}

func TestRemoveDirectoryRejectsDotAndDotDot(t *testing.T) {
	c, b := newTestFS(t)
	root, err := inode.Alloc(c, b, inode.TypeDir, inode.ModeReadWrite, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dirent.CreateSpecialDirectories(c, b, root, root))

	require.Error(t, dirent.RemoveDirectory(c, b, root, "."))
	require.Error(t, dirent.RemoveDirectory(c, b, root, ".."))
}
