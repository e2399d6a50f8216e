package user_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"simdisk/internal/block"
	"simdisk/internal/fsconst"
	"simdisk/internal/user"
)

func newTestTable(t *testing.T) *user.Table {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "simdisk-user-*.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(fsconst.FSSize))
	t.Cleanup(func() { f.Close() })
	c := block.NewCache(f)
	tbl := user.NewTable(c)
	require.NoError(t, tbl.Format())
	return tbl
}

func TestFormatInstallsRoot(t *testing.T) {
	tbl := newTestTable(t)
	rec, err := tbl.SignIn("root", "admin")
	require.NoError(t, err)
	require.Equal(t, uint16(user.RootUID), rec.UID)
	require.Equal(t, uint16(user.RootGID), rec.GID)
}

func TestSignUpAssignsIncreasingUIDs(t *testing.T) {
	tbl := newTestTable(t)
	alice, err := tbl.SignUp("alice", "pw1")
	require.NoError(t, err)
	bob, err := tbl.SignUp("bob", "pw2")
	require.NoError(t, err)
	require.Greater(t, bob.UID, alice.UID)
	require.Equal(t, uint16(1), alice.GID)
}

func TestSignUpDuplicateNameFails(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.SignUp("carol", "pw")
	require.NoError(t, err)
	_, err = tbl.SignUp("carol", "pw2")
	require.Error(t, err)
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.SignUp("dave", "secret")
	require.NoError(t, err)
	_, err = tbl.SignIn("dave", "wrong")
	require.Error(t, err)
}

func TestAbleToModify(t *testing.T) {
	require.True(t, user.AbleToModify(0, 0))
	require.True(t, user.AbleToModify(0, 5))
	require.False(t, user.AbleToModify(5, 0))
}
