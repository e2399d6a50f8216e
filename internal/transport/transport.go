// Package transport implements the ephemeral-address side channels used to
// move file content and command results outside the line-oriented control
// socket, mirroring the original shell crate's send_content/receive_content
// helpers.
package transport

import (
	"fmt"
	"io"
	"net"
	"time"
)

// ConnectRetries/ConnectInterval bound the retry-connect loop a client uses
// when the server hands it a fresh ephemeral address: the listener may not
// be accepting yet by the time the address is parsed out of the control
// line.
const (
	ConnectRetries  = 10
	ConnectInterval = 50 * time.Millisecond
)

// DialRetry connects to addr, retrying on refusal up to ConnectRetries
// times at ConnectInterval spacing.
func DialRetry(addr string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < ConnectRetries; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(ConnectInterval)
	}
	return nil, fmt.Errorf("transport: could not connect to %s after %d attempts: %w", addr, ConnectRetries, lastErr)
}

// Listener is a one-shot ephemeral listener: it accepts exactly one
// connection and then closes itself.
type Listener struct {
	ln net.Listener
}

// Listen binds an OS-chosen TCP port on loopback and returns the listener
// together with the address a peer should dial.
func Listen() (*Listener, string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", fmt.Errorf("transport: listen: %w", err)
	}
	return &Listener{ln: ln}, ln.Addr().String(), nil
}

// AcceptOnce blocks for the single connection this listener exists to
// receive, then closes the listener regardless of outcome.
func (l *Listener) AcceptOnce() (net.Conn, error) {
	defer l.ln.Close()
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return conn, nil
}

// SendContent dials addr and writes payload in full before closing, used by
// a client responding to INPUT_FILE_CONTENT.
func SendContent(addr string, payload []byte) error {
	conn, err := DialRetry(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(payload)
	return err
}

// ReceiveContent dials addr and reads until the peer closes, used by a
// client fetching the payload a RECEIVE_CONTENTS reply announces.
func ReceiveContent(addr string) ([]byte, error) {
	conn, err := DialRetry(addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return io.ReadAll(conn)
}

// ServeContent accepts the single expected connection on ln and writes
// payload to it, used by a server responding to its own RECEIVE_CONTENTS
// announcement.
func ServeContent(l *Listener, payload []byte) error {
	conn, err := l.AcceptOnce()
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(payload)
	return err
}

// ReceiveOnce accepts the single expected connection on ln and reads until
// the peer closes, used by a server receiving an uploaded file body.
func ReceiveOnce(l *Listener) ([]byte, error) {
	conn, err := l.AcceptOnce()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return io.ReadAll(conn)
}
