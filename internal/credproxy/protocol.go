// Package credproxy implements the host-side credential proxy (§4.5): a
// per-workspace Unix-domain socket that forwards Docker and Git credential
// requests from inside a container to the real credential helpers
// configured on the host, so host secrets never need to be copied into the
// container filesystem.
package credproxy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
)

// SocketContainerPath is where the proxy's socket is bind-mounted inside
// the container, matched by the shim scripts installed at
// /usr/local/bin/{docker,git}-credential-devc.
const SocketContainerPath = "/run/devc/creds.sock"

// Kind identifies which credential system a request is for.
type Kind string

const (
	KindDocker Kind = "docker"
	KindGit    Kind = "git"
)

// WriteRequest writes the wire protocol's one-line "kind\top\n" header
// followed by body to w.
func WriteRequest(w io.Writer, kind Kind, op string, body []byte) error {
	if _, err := fmt.Fprintf(w, "%s\t%s\n", kind, op); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadRequestHeader reads and parses the "kind\top\n" header line from r.
func ReadRequestHeader(r *bufio.Reader) (Kind, string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	kind, op, ok := strings.Cut(strings.TrimSuffix(line, "\n"), "\t")
	if !ok {
		return "", "", fmt.Errorf("malformed credential request header %q", line)
	}
	return Kind(kind), op, nil
}

// DialAndRequest connects to socketPath, sends the request frame, signals
// end-of-request by half-closing the write side, and returns the server's
// verbatim response. It is the Go client for the same framing that the
// in-container shell shims (shim.go) send through socat.
func DialAndRequest(socketPath string, kind Kind, op string, body []byte) ([]byte, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to credential proxy socket: %w", err)
	}
	defer conn.Close()

	if err := WriteRequest(conn, kind, op, body); err != nil {
		return nil, fmt.Errorf("writing credential request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("reading credential response: %w", err)
	}
	return resp, nil
}
