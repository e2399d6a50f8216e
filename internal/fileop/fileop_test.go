package fileop_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/fileop"
	"simdisk/internal/fserr"
	"simdisk/internal/fsconst"
	"simdisk/internal/inode"
)

func newTestFS(t *testing.T) (*block.Cache, *bitmap.Manager, *inode.Inode) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "simdisk-fileop-*.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(fsconst.FSSize))
	t.Cleanup(func() { f.Close() })
	c := block.NewCache(f)
	b := bitmap.NewManager(c)
	require.NoError(t, b.Format())
	dir, err := inode.Alloc(c, b, inode.TypeDir, inode.ModeReadWrite, 0, 0, 0)
	require.NoError(t, err)
	return c, b, dir
}

func TestCreateAndReadSmallFile(t *testing.T) {
	c, b, dir := newTestFS(t)
	content := []byte("the quick brown fox")

	_, err := fileop.Create(c, b, dir, "fox.txt", content, inode.ModeReadWrite, 0, 0)
	require.NoError(t, err)

	got, err := fileop.Read(c, dir, "fox.txt")
	require.NoError(t, err)
	require.True(t, bytes.Equal(content, got))
}

func TestCreateSpanningMultipleBlocks(t *testing.T) {
	c, b, dir := newTestFS(t)
	content := bytes.Repeat([]byte("ab"), fsconst.BlockSize*3)

	_, err := fileop.Create(c, b, dir, "big.bin", content, inode.ModeReadWrite, 0, 0)
	require.NoError(t, err)

	got, err := fileop.Read(c, dir, "big.bin")
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	c, b, dir := newTestFS(t)
	_, err := fileop.Create(c, b, dir, "dup.txt", []byte("a"), inode.ModeReadWrite, 0, 0)
	require.NoError(t, err)

	_, err = fileop.Create(c, b, dir, "dup.txt", []byte("b"), inode.ModeReadWrite, 0, 0)
	require.Error(t, err)
}

func TestRemoveThenReadFails(t *testing.T) {
	c, b, dir := newTestFS(t)
	_, err := fileop.Create(c, b, dir, "gone.txt", []byte("bye"), inode.ModeReadWrite, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fileop.Remove(c, b, dir, "gone.txt"))
	_, err = fileop.Read(c, dir, "gone.txt")
	require.Error(t, err)
}

func TestRenamePreservesContent(t *testing.T) {
	c, b, dir := newTestFS(t)
	_, err := fileop.Create(c, b, dir, "old.txt", []byte("data"), inode.ModeReadWrite, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fileop.Rename(c, dir, "old.txt", "new.txt"))

	got, err := fileop.Read(c, dir, "new.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("data"), got)

	_, err = fileop.Read(c, dir, "old.txt")
	require.Error(t, err)
}

func TestCreateOversizeFileRejected(t *testing.T) {
	c, b, dir := newTestFS(t)
	content := make([]byte, fsconst.MaxFileSize+1)
	_, err := fileop.Create(c, b, dir, "huge.bin", content, inode.ModeReadWrite, 0, 0)
	require.Error(t, err)
	kind, _, ok := fserr.As(err)
	require.True(t, ok)
	require.Equal(t, fserr.OutOfMemory, kind)
}

// TestCreateEmptyFileReservesOneBlock matches the original's
// alloc_data_blocks rule: even a zero-byte file reserves one data block.
func TestCreateEmptyFileReservesOneBlock(t *testing.T) {
	c, b, dir := newTestFS(t)
	in, err := fileop.Create(c, b, dir, "empty.txt", nil, inode.ModeReadWrite, 0, 0)
	require.NoError(t, err)
	require.NotEqual(t, uint32(0), in.Addr[0])
	require.Equal(t, uint32(0), in.Size)

	got, err := fileop.Read(c, dir, "empty.txt")
	require.NoError(t, err)
	require.Empty(t, got)
}
