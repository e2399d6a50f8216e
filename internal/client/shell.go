package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"simdisk/internal/protocol"
)

// RunShell reads lines from in, sends each as a command to s, and writes
// replies to out until EOF or the user types exit.
func RunShell(s *Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s:%s> ", s.Username, s.Cwd())
		if !scanner.Scan() {
			return s.Close()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		verb := fields[0]
		args := fields[1:]

		if verb == "exit" {
			return s.Close()
		}

		var upload []byte
		if verb == protocol.VerbNewFile && len(args) > 0 {
			content, err := promptUploadContent(in, out)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			upload = content
		}
		if verb == protocol.VerbCopy && len(args) > 0 && strings.HasPrefix(args[0], protocol.HostPrefix) {
			hostPath := strings.TrimPrefix(args[0], protocol.HostPrefix)
			content, err := os.ReadFile(hostPath)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			upload = content
		}

		res, err := s.Run(verb, args, upload, true)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		if len(res.Payload) > 0 {
			out.Write(res.Payload)
			fmt.Fprintln(out)
		}
	}
}

func promptUploadContent(in io.Reader, out io.Writer) ([]byte, error) {
	fmt.Fprintln(out, "enter file content, end with a single '.' on its own line:")
	scanner := bufio.NewScanner(in)
	var sb strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "." {
			break
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}
