package server_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"simdisk/internal/client"
	"simdisk/internal/config"
	"simdisk/internal/protocol"
	"simdisk/internal/server"
)

func startServer(t *testing.T) string {
	t.Helper()
	cfg := config.Server{
		ListenAddr: "127.0.0.1:0",
		DiskPath:   filepath.Join(t.TempDir(), "disk.img"),
		SyncPolicy: config.SyncImmediate,
		Format:     true,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := server.New(cfg, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return srv.Addr().String()
}

func dial(t *testing.T, addr, username string, register bool) *client.Session {
	t.Helper()
	sess, err := client.Dial(addr, username, "pw", register)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

// dialRoot logs in as the root account that formatting installs.
func dialRoot(t *testing.T, addr string) *client.Session {
	t.Helper()
	sess, err := client.Dial(addr, "root", "admin", false)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

// TestDuplicateDirectoryFails exercises S1: creating the same directory
// twice fails the second time.
func TestDuplicateDirectoryFails(t *testing.T) {
	addr := startServer(t)
	sess := dialRoot(t, addr)

	_, err := sess.Run(protocol.VerbMd, []string{"a"}, nil, false)
	require.NoError(t, err)

	_, err = sess.Run(protocol.VerbMd, []string{"a"}, nil, false)
	require.Error(t, err)
}

// TestRemoveNonEmptyDirectoryNeedsConfirmation exercises S2: removing a
// directory with descendants goes through a confirm round-trip, and
// afterward the directory no longer appears in the root listing.
func TestRemoveNonEmptyDirectoryNeedsConfirmation(t *testing.T) {
	addr := startServer(t)
	sess := dialRoot(t, addr)

	_, err := sess.Run(protocol.VerbMd, []string{"a"}, nil, false)
	require.NoError(t, err)
	_, err = sess.Run(protocol.VerbCd, []string{"a"}, nil, false)
	require.NoError(t, err)
	_, err = sess.Run(protocol.VerbMd, []string{"b"}, nil, false)
	require.NoError(t, err)
	_, err = sess.Run(protocol.VerbCd, []string{".."}, nil, false)
	require.NoError(t, err)

	_, err = sess.Run(protocol.VerbRd, []string{"a"}, nil, true)
	require.NoError(t, err)

	res, err := sess.Run(protocol.VerbDir, []string{"~"}, nil, false)
	require.NoError(t, err)
	require.NotContains(t, string(res.Payload), "a/")
}

// TestFileSpanningIndirectBlocksRoundTrips exercises S3: a payload sized to
// exactly fill 8 direct blocks plus a full first-indirect table round-trips
// byte for byte through newfile/cat.
func TestFileSpanningIndirectBlocksRoundTrips(t *testing.T) {
	addr := startServer(t)
	sess := dialRoot(t, addr)

	payload := make([]byte, 1024*(8+256))
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	_, err := sess.Run(protocol.VerbNewFile, []string{"f"}, payload, false)
	require.NoError(t, err)

	res, err := sess.Run(protocol.VerbCat, []string{"f"}, nil, false)
	require.NoError(t, err)
	require.Equal(t, payload, res.Payload)
}

// TestNonRootCannotRemoveRootOwnedFile exercises S4: root may remove a
// directory a non-root user created, but the non-root user cannot remove
// an entry root owns.
func TestNonRootCannotRemoveRootOwnedFile(t *testing.T) {
	addr := startServer(t)

	root := dialRoot(t, addr)
	_, err := root.Run(protocol.VerbNewFile, []string{"y"}, []byte("root file"), false)
	require.NoError(t, err)

	u1 := dial(t, addr, "u1", true)
	_, err = u1.Run(protocol.VerbMd, []string{"x"}, nil, false)
	require.NoError(t, err)

	_, err = root.Run(protocol.VerbRd, []string{"x"}, nil, true)
	require.NoError(t, err)

	_, err = u1.Run(protocol.VerbDel, []string{"y"}, nil, false)
	require.Error(t, err)
}

// TestConcurrentSessionsCreateDistinctFiles exercises S6: two sessions
// concurrently creating uniquely named files never clobber each other: the
// root listing ends up with every file plus "." and "..".
func TestConcurrentSessionsCreateDistinctFiles(t *testing.T) {
	addr := startServer(t)

	const perSession = 20
	run := func(prefix string) chan error {
		errCh := make(chan error, 1)
		go func() {
			sess, err := client.Dial(addr, prefix, "pw", true)
			if err != nil {
				errCh <- err
				return
			}
			defer sess.Close()
			for i := 0; i < perSession; i++ {
				name := prefix + "_" + string(rune('a'+i))
				if _, err := sess.Run(protocol.VerbNewFile, []string{name}, []byte(name), false); err != nil {
					errCh <- err
					return
				}
			}
			errCh <- nil
		}()
		return errCh
	}

	e1 := run("s1")
	e2 := run("s2")
	require.NoError(t, <-e1)
	require.NoError(t, <-e2)

	sess := dialRoot(t, addr)
	res, err := sess.Run(protocol.VerbDir, []string{"~"}, nil, false)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(res.Payload)), "\n")
	require.Len(t, lines, 2*perSession+2)
}
