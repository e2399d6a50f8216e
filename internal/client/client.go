// Package client implements the interactive shell: connection preamble,
// local cwd bookkeeping, and rendering of the server's control-token
// replies.
package client

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"simdisk/internal/protocol"
	"simdisk/internal/transport"
)

// Session holds one authenticated connection's client-side state: the
// socket, the logged-in username, and the locally tracked current
// directory path (the server is the source of truth for whether that path
// still resolves; the client only echoes it back on every command).
type Session struct {
	conn net.Conn
	r    *bufio.Reader

	Username string
	cwd      string
}

// Dial connects to addr and performs the login/regist preamble.
func Dial(addr, username, password string, register bool) (*Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect to %s: %w", addr, err)
	}
	s := &Session{conn: conn, r: bufio.NewReader(conn), Username: username, cwd: "~"}

	verb := protocol.VerbLogin
	if register {
		verb = protocol.VerbRegist
	}
	if err := s.writeLine(verb); err != nil {
		return nil, err
	}
	if err := s.writeLine(username); err != nil {
		return nil, err
	}
	if err := s.writeLine(password); err != nil {
		return nil, err
	}

	reply, err := s.readLine()
	if err != nil {
		return nil, err
	}
	if msg, isErr := protocol.StripErrMsg(reply); isErr {
		conn.Close()
		return nil, fmt.Errorf("%s", msg)
	}
	if reply != protocol.LoginSuccess && reply != protocol.RegistSuccess {
		conn.Close()
		return nil, fmt.Errorf("client: unexpected preamble reply %q", reply)
	}
	return s, nil
}

func (s *Session) writeLine(line string) error {
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}

func (s *Session) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Cwd returns the locally tracked current directory, used to build the
// next command line.
func (s *Session) Cwd() string { return s.cwd }

// Close sends EXIT and closes the connection.
func (s *Session) Close() error {
	s.writeLine(protocol.ExitMsg)
	return s.conn.Close()
}

// Result carries what a command exchange produced: the payload delivered
// over the result side channel, if any.
type Result struct {
	Payload []byte
}

// Run sends one verb/args command and drives whatever auxiliary exchange
// the server requests (confirm prompt, upload, result delivery) until
// COMMAND_OK or an error arrives.
func (s *Session) Run(verb string, args []string, upload []byte, confirmYes bool) (*Result, error) {
	cmd := protocol.Command{Username: s.Username, Cwd: s.cwd, Verb: verb, Args: args}
	if err := s.writeLine(cmd.String()); err != nil {
		return nil, err
	}

	res := &Result{}
	for {
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}
		switch {
		case line == protocol.CommandOK:
			if verb == protocol.VerbCd && len(args) > 0 {
				s.cwd = joinCwd(s.cwd, args[0])
			}
			return res, nil
		case line == protocol.EmptyInput:
			return res, fmt.Errorf("empty input")
		case line == protocol.CommandConfirm:
			prompt, err := s.readLine()
			if err != nil {
				return nil, err
			}
			fmt.Fprintln(os.Stderr, prompt)
			answer := "n"
			if confirmYes {
				answer = "y"
			}
			if err := s.writeLine(answer); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, protocol.InputFileContentPrefix):
			addr, _ := protocol.ParseInputFileContent(line)
			if err := transport.SendContent(addr, upload); err != nil {
				return nil, err
			}
		case line == protocol.ReceiveContents:
			addr, err := s.readLine()
			if err != nil {
				return nil, err
			}
			payload, err := transport.ReceiveContent(addr)
			if err != nil {
				return nil, err
			}
			res.Payload = payload
		default:
			if msg, isErr := protocol.StripErrMsg(line); isErr {
				return nil, fmt.Errorf("%s", msg)
			}
		}
	}
}

func joinCwd(cwd, arg string) string {
	if strings.HasPrefix(arg, "~") {
		return arg
	}
	if arg == ".." {
		if i := strings.LastIndexByte(strings.TrimRight(cwd, "/"), '/'); i > 0 {
			return cwd[:i]
		}
		return "~"
	}
	if arg == "." {
		return cwd
	}
	return strings.TrimRight(cwd, "/") + "/" + arg
}
