// Package protocol defines the wire tokens and line grammar of the
// control channel, and the helpers that parse and render them.
package protocol

import (
	"fmt"
	"strings"
)

// Control tokens sent by the server in reply to a command exchange.
const (
	BashOK          = "BASH OK"
	EmptyInput      = "EMPTY INPUT"
	CommandConfirm  = "COMMAND CONFIRM"
	ReceiveContents = "RECEIVE CONTENTS"
	CommandOK       = "COMMAND OK"
	LoginSuccess    = "LOGIN_SUCCESS"
	RegistSuccess   = "REGIST SUCCESS"
	ErrMsgPrefix    = "ErrMsg:"
	ExitMsg         = "EXIT"

	// InputFileContentPrefix precedes the ephemeral address the client
	// must connect to in order to upload a file body.
	InputFileContentPrefix = "INPUT FILE CONTENT"
)

// Preamble verbs, sent once per connection before any command exchange.
const (
	VerbLogin  = "login"
	VerbRegist = "regist"
)

// Command verbs recognized in the "<username> <cwd> <verb> [args]" grammar.
const (
	VerbDir        = "dir"
	VerbCd         = "cd"
	VerbMd         = "md"
	VerbRd         = "rd"
	VerbNewFile    = "newfile"
	VerbCat        = "cat"
	VerbDel        = "del"
	VerbCopy       = "copy"
	VerbInfo       = "info"
	VerbCheck      = "check"
	VerbUsers      = "users"
	VerbFormatting = "formatting"
	VerbRen        = "ren"
	VerbStat       = "stat"
)

// HostPrefix marks a copy source argument as a local file on the client's
// host rather than a path inside the simulated disk; the client reads that
// file and uploads its content.
const HostPrefix = "<host>"

// ErrMsg renders err with the wire-level error prefix.
func ErrMsg(err error) string {
	return ErrMsgPrefix + err.Error()
}

// StripErrMsg reports whether line carries the error prefix and, if so,
// returns the message with the prefix removed.
func StripErrMsg(line string) (string, bool) {
	if strings.HasPrefix(line, ErrMsgPrefix) {
		return strings.TrimPrefix(line, ErrMsgPrefix), true
	}
	return "", false
}

// InputFileContent renders the server's upload request for the given
// ephemeral address.
func InputFileContent(addr string) string {
	return InputFileContentPrefix + addr
}

// ParseInputFileContent extracts the address from an InputFileContent line.
func ParseInputFileContent(line string) (string, bool) {
	if strings.HasPrefix(line, InputFileContentPrefix) {
		return strings.TrimPrefix(line, InputFileContentPrefix), true
	}
	return "", false
}

// Command is one parsed "<username> <cwd> <verb> [args]" exchange.
type Command struct {
	Username string
	Cwd      string
	Verb     string
	Args     []string
}

// ParseCommand splits a raw command line into its fixed username/cwd
// preamble and verb/argument tail.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Command{}, fmt.Errorf("protocol: malformed command line %q", line)
	}
	return Command{
		Username: fields[0],
		Cwd:      fields[1],
		Verb:     fields[2],
		Args:     fields[3:],
	}, nil
}

// String renders a Command back into wire form.
func (c Command) String() string {
	parts := append([]string{c.Username, c.Cwd, c.Verb}, c.Args...)
	return strings.Join(parts, " ")
}
