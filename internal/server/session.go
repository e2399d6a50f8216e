// Package server implements the TCP control-channel listener: connection
// preamble (login/regist), per-command dispatch, and the write-back policy
// scheduler.
package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"

	"simdisk/internal/fserr"
	"simdisk/internal/inode"
	"simdisk/internal/protocol"
	"simdisk/internal/simfs"
	"simdisk/internal/transport"
	"simdisk/internal/user"
)

// session is the per-connection state: the authenticated user, the current
// directory inode, and a logger tagged with a session id so concurrent
// sessions' log lines can be told apart.
type session struct {
	conn net.Conn
	r    *bufio.Reader
	fs   *simfs.FileSystem
	log  *slog.Logger

	user user.Record
	cwd  *inode.Inode
}

func newSession(conn net.Conn, fs *simfs.FileSystem, log *slog.Logger) *session {
	id := uuid.NewString()
	return &session{
		conn: conn,
		r:    bufio.NewReader(conn),
		fs:   fs,
		log:  log.With("session", id, "remote", conn.RemoteAddr().String()),
	}
}

// Serve drives one client connection end to end: authentication preamble,
// then the command loop, until EXIT or disconnect.
func (s *session) Serve() {
	defer s.conn.Close()

	if !s.authenticate(s.r) {
		return
	}
	s.cwd = s.fs.Root()

	for {
		line, err := readLine(s.r)
		if err != nil {
			s.log.Debug("client disconnected", "error", err)
			return
		}
		if line == "" {
			continue
		}
		if line == protocol.ExitMsg {
			if err := s.fs.Sync(); err != nil {
				s.log.Error("sync on exit failed", "error", err)
			}
			return
		}
		s.handleCommand(line)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *session) writeLine(line string) error {
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}

func (s *session) authenticate(r *bufio.Reader) bool {
	verb, err := readLine(r)
	if err != nil {
		return false
	}
	name, err := readLine(r)
	if err != nil {
		return false
	}
	pass, err := readLine(r)
	if err != nil {
		return false
	}

	switch verb {
	case protocol.VerbLogin:
		rec, err := s.fs.SignIn(name, pass)
		if err != nil {
			s.writeLine(protocol.ErrMsg(err))
			return false
		}
		s.user = rec
		return s.writeLine(protocol.LoginSuccess) == nil
	case protocol.VerbRegist:
		rec, err := s.fs.SignUp(name, pass)
		if err != nil {
			s.writeLine(protocol.ErrMsg(err))
			return false
		}
		s.user = rec
		return s.writeLine(protocol.RegistSuccess) == nil
	default:
		s.writeLine(protocol.ErrMsg(fserr.New(fserr.InvalidInput, "expected login or regist")))
		return false
	}
}

func (s *session) handleCommand(line string) {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		s.writeLine(protocol.ErrMsg(err))
		return
	}
	if len(cmd.Args) == 0 && requiresArg(cmd.Verb) {
		s.writeLine(protocol.EmptyInput)
		return
	}

	if err := s.dispatch(cmd); err != nil {
		s.writeLine(protocol.ErrMsg(err))
		return
	}
	s.writeLine(protocol.CommandOK)

	if err := s.fs.MaybeSyncAfterCommand(); err != nil {
		s.log.Error("post-command sync failed", "error", err)
	}
}

func requiresArg(verb string) bool {
	switch verb {
	case protocol.VerbDir, protocol.VerbInfo, protocol.VerbCheck, protocol.VerbUsers, protocol.VerbFormatting:
		return false
	default:
		return true
	}
}

func (s *session) dispatch(cmd protocol.Command) error {
	switch cmd.Verb {
	case protocol.VerbDir:
		return s.cmdDir(cmd)
	case protocol.VerbCd:
		return s.cmdCd(cmd)
	case protocol.VerbMd:
		return s.cmdMd(cmd)
	case protocol.VerbRd:
		return s.cmdRd(cmd)
	case protocol.VerbNewFile:
		return s.cmdNewFile(cmd)
	case protocol.VerbCat:
		return s.cmdCat(cmd)
	case protocol.VerbDel:
		return s.cmdDel(cmd)
	case protocol.VerbCopy:
		return s.cmdCopy(cmd)
	case protocol.VerbInfo:
		return s.cmdInfo()
	case protocol.VerbCheck:
		return s.fs.Check()
	case protocol.VerbUsers:
		return s.cmdUsers()
	case protocol.VerbFormatting:
		return s.cmdFormatting()
	case protocol.VerbRen:
		return s.cmdRen(cmd)
	case protocol.VerbStat:
		return s.cmdStat(cmd)
	default:
		return fserr.New(fserr.InvalidInput, fmt.Sprintf("unknown command %q", cmd.Verb))
	}
}

// resolve walks path from either the session's cwd (relative) or the
// filesystem root (absolute, leading "~") and returns the final directory
// and the trailing component name still to be looked up.
func (s *session) resolve(path string) (*inode.Inode, string, error) {
	dir := s.cwd
	if strings.HasPrefix(path, "~") {
		dir = s.fs.Root()
		path = strings.TrimPrefix(path, "~")
		path = strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return dir, "", nil
	}
	parts := strings.Split(path, "/")
	for _, p := range parts[:len(parts)-1] {
		if p == "" {
			continue
		}
		next, err := s.fs.Cd(dir, p)
		if err != nil {
			return nil, "", err
		}
		dir = next
	}
	return dir, parts[len(parts)-1], nil
}

func (s *session) cmdDir(cmd protocol.Command) error {
	target := s.cwd
	if len(cmd.Args) > 0 && cmd.Args[0] != "/s" {
		d, name, err := s.resolve(cmd.Args[0])
		if err != nil {
			return err
		}
		if name != "" {
			next, err := s.fs.Cd(d, name)
			if err != nil {
				return err
			}
			d = next
		}
		target = d
	}
	entries, err := s.fs.List(target)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Name())
		if e.IsDir {
			sb.WriteString("/")
		}
		sb.WriteString("\n")
	}
	return s.sendContents([]byte(sb.String()))
}

func (s *session) cmdCd(cmd protocol.Command) error {
	dir, name, err := s.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	if name == "" {
		s.cwd = dir
		return nil
	}
	next, err := s.fs.Cd(dir, name)
	if err != nil {
		return err
	}
	s.cwd = next
	return nil
}

func (s *session) cmdMd(cmd protocol.Command) error {
	dir, name, err := s.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	_, err = s.fs.MakeDirectory(dir, name, inode.ModeReadWrite|inode.ModeExecute, s.user.GID, s.user.UID)
	return err
}

func (s *session) cmdRd(cmd protocol.Command) error {
	dir, name, err := s.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	if !s.confirm(fmt.Sprintf("remove directory %q and everything in it?", name)) {
		return fserr.New(fserr.InvalidInput, "cancelled")
	}
	return s.fs.RemoveDirectory(dir, name, s.user.GID)
}

func (s *session) cmdNewFile(cmd protocol.Command) error {
	dir, name, err := s.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	content, err := s.requestContent()
	if err != nil {
		return err
	}
	_, err = s.fs.CreateFile(dir, name, content, inode.ModeReadWrite, s.user.GID, s.user.UID)
	return err
}

func (s *session) cmdCat(cmd protocol.Command) error {
	dir, name, err := s.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	content, err := s.fs.GetFileContent(dir, name)
	if err != nil {
		return err
	}
	return s.sendContents(content)
}

func (s *session) cmdDel(cmd protocol.Command) error {
	dir, name, err := s.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	return s.fs.RemoveFile(dir, name, s.user.GID)
}

func (s *session) cmdCopy(cmd protocol.Command) error {
	if len(cmd.Args) < 2 {
		return fserr.New(fserr.InvalidInput, "copy requires a source and a destination")
	}
	src, dst := cmd.Args[0], cmd.Args[1]

	var content []byte
	if strings.HasPrefix(src, protocol.HostPrefix) {
		var err error
		content, err = s.requestContent()
		if err != nil {
			return err
		}
	} else {
		srcDir, srcName, err := s.resolve(src)
		if err != nil {
			return err
		}
		content, err = s.fs.GetFileContent(srcDir, srcName)
		if err != nil {
			return err
		}
	}

	dstDir, dstName, err := s.resolve(dst)
	if err != nil {
		return err
	}
	_, err = s.fs.CreateFile(dstDir, dstName, content, inode.ModeReadWrite, s.user.GID, s.user.UID)
	return err
}

func (s *session) cmdRen(cmd protocol.Command) error {
	if len(cmd.Args) < 2 {
		return fserr.New(fserr.InvalidInput, "ren requires an old and a new name")
	}
	dir, oldName, err := s.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	_, newName, err := s.resolve(cmd.Args[1])
	if err != nil {
		return err
	}
	return s.fs.Rename(dir, oldName, newName)
}

func (s *session) cmdStat(cmd protocol.Command) error {
	dir, name, err := s.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	d, in, err := s.fs.Stat(dir, name)
	if err != nil {
		return err
	}
	kind := "file"
	if d.IsDir {
		kind = "dir"
	}
	return s.sendContents([]byte(fmt.Sprintf(
		"name: %s\ntype: %s\ninode: %d\nsize: %d\nmode: %d\nnlink: %d\nuid: %d\ngid: %d\n",
		d.Name(), kind, in.ID, in.Size, in.Mode, in.Nlink, in.Uid, in.Gid,
	)))
}

func (s *session) cmdInfo() error {
	text, err := s.fs.Info()
	if err != nil {
		return err
	}
	return s.sendContents([]byte(text))
}

func (s *session) cmdUsers() error {
	if s.user.GID != user.RootGID {
		return fserr.New(fserr.PermissionDenied, "Insufficient user permissions")
	}
	users, err := s.fs.ListUsers()
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, u := range users {
		sb.WriteString(fmt.Sprintf("%s\tuid=%d\tgid=%d\n", u.Name, u.UID, u.GID))
	}
	return s.sendContents([]byte(sb.String()))
}

func (s *session) cmdFormatting() error {
	if s.user.GID != user.RootGID {
		return fserr.New(fserr.PermissionDenied, "Insufficient user permissions")
	}
	if !s.confirm("reformat the entire disk? all data will be lost") {
		return fserr.New(fserr.InvalidInput, "cancelled")
	}
	return fserr.New(fserr.Other, "formatting must be performed by restarting simdiskd with --format")
}

// confirm drives the COMMAND_CONFIRM handshake: the server announces it is
// waiting on a yes/no answer, then reads up to 8 bytes from the client.
func (s *session) confirm(prompt string) bool {
	if err := s.writeLine(protocol.CommandConfirm); err != nil {
		return false
	}
	if err := s.writeLine(prompt); err != nil {
		return false
	}
	buf := make([]byte, 8)
	n, err := s.r.Read(buf)
	if err != nil {
		return false
	}
	answer := strings.TrimSpace(string(buf[:n]))
	return answer == "y" || answer == "Y"
}

// requestContent announces INPUT_FILE_CONTENT<addr> and waits for the
// client to connect and upload a body on that address.
func (s *session) requestContent() ([]byte, error) {
	l, addr, err := transport.Listen()
	if err != nil {
		return nil, fserr.Wrap(fserr.ConnectionAborted, "could not open upload channel", err)
	}
	if err := s.writeLine(protocol.InputFileContent(addr)); err != nil {
		return nil, fserr.Wrap(fserr.ConnectionAborted, "client vanished before upload", err)
	}
	content, err := transport.ReceiveOnce(l)
	if err != nil {
		return nil, fserr.Wrap(fserr.ConnectionAborted, "file upload failed", err)
	}
	return content, nil
}

// sendContents announces RECEIVE_CONTENTS and delivers payload on a fresh
// ephemeral address.
func (s *session) sendContents(payload []byte) error {
	l, addr, err := transport.Listen()
	if err != nil {
		return fserr.Wrap(fserr.ConnectionAborted, "could not open result channel", err)
	}
	if err := s.writeLine(protocol.ReceiveContents); err != nil {
		return fserr.Wrap(fserr.ConnectionAborted, "client vanished before result delivery", err)
	}
	if err := s.writeLine(addr); err != nil {
		return fserr.Wrap(fserr.ConnectionAborted, "client vanished before result delivery", err)
	}
	if err := transport.ServeContent(l, payload); err != nil {
		return fserr.Wrap(fserr.ConnectionAborted, "result delivery failed", err)
	}
	return nil
}
