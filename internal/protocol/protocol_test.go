package protocol_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"simdisk/internal/protocol"
)

func TestParseCommandRoundTrip(t *testing.T) {
	cmd, err := protocol.ParseCommand("alice ~/docs cd sub")
	require.NoError(t, err)
	require.Equal(t, "alice", cmd.Username)
	require.Equal(t, "~/docs", cmd.Cwd)
	require.Equal(t, "cd", cmd.Verb)
	require.Equal(t, []string{"sub"}, cmd.Args)
	require.Equal(t, "alice ~/docs cd sub", cmd.String())
}

func TestParseCommandRejectsShortLine(t *testing.T) {
	_, err := protocol.ParseCommand("alice cd")
	require.Error(t, err)
}

func TestErrMsgRoundTrip(t *testing.T) {
	line := protocol.ErrMsg(errors.New("no such file"))
	msg, ok := protocol.StripErrMsg(line)
	require.True(t, ok)
	require.Equal(t, "no such file", msg)
}

func TestParseInputFileContent(t *testing.T) {
	addr, ok := protocol.ParseInputFileContent(protocol.InputFileContent("127.0.0.1:9001"))
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:9001", addr)
}
