package bitmap_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"simdisk/internal/bitmap"
	"simdisk/internal/block"
	"simdisk/internal/fsconst"
)

func newTestCache(t *testing.T) *block.Cache {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "simdisk-bitmap-*.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(fsconst.FSSize))
	t.Cleanup(func() { f.Close() })
	return block.NewCache(f)
}

func TestAllocDataBitRotatesAndAvoidsReuse(t *testing.T) {
	c := newTestCache(t)
	m := bitmap.NewManager(c)
	require.NoError(t, m.Format())

	seen := map[uint32]bool{}
	for i := 0; i < 100; i++ {
		id, err := m.AllocDataBit()
		require.NoError(t, err)
		require.False(t, seen[id], "block id %d allocated twice", id)
		seen[id] = true
		require.GreaterOrEqual(t, id, uint32(fsconst.DataAreaStart))
	}
}

func TestDeallocDataBitFreesForReuse(t *testing.T) {
	c := newTestCache(t)
	m := bitmap.NewManager(c)
	require.NoError(t, m.Format())

	id, err := m.AllocDataBit()
	require.NoError(t, err)
	require.NoError(t, m.DeallocDataBit(id))

	freeBefore, err := m.CountFreeData()
	require.NoError(t, err)
	require.Equal(t, fsconst.DataAreaLen, freeBefore)
}

func TestAllocInodeBitStartsAtZero(t *testing.T) {
	c := newTestCache(t)
	m := bitmap.NewManager(c)
	require.NoError(t, m.Format())

	id, err := m.AllocInodeBit()
	require.NoError(t, err)
	require.Equal(t, uint16(0), id)

	id2, err := m.AllocInodeBit()
	require.NoError(t, err)
	require.Equal(t, uint16(1), id2)
}

func TestCountFreeInodesDecreasesOnAlloc(t *testing.T) {
	c := newTestCache(t)
	m := bitmap.NewManager(c)
	require.NoError(t, m.Format())

	before, err := m.CountFreeInodes()
	require.NoError(t, err)

	_, err = m.AllocInodeBit()
	require.NoError(t, err)

	after, err := m.CountFreeInodes()
	require.NoError(t, err)
	require.Equal(t, before-1, after)
}
