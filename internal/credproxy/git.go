package credproxy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// gitSubcommand maps the proxy's {get, store, erase} wire vocabulary (shared
// with Docker's) onto the git porcelain's own credential subcommands.
var gitSubcommand = map[string]string{
	"get":   "fill",
	"store": "approve",
	"erase": "reject",
}

// handleGitRequest execs "git credential <subcommand>" on the host, piping
// the request body through to git's stdin and returning its stdout
// verbatim — git's own key=value credential format needs no translation.
func handleGitRequest(op string, body []byte) ([]byte, error) {
	subcommand, ok := gitSubcommand[op]
	if !ok {
		return nil, fmt.Errorf("unsupported git credential op %q", op)
	}

	ctx, cancel := context.WithTimeout(context.Background(), helperTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "credential", subcommand)
	cmd.Stdin = bytes.NewReader(body)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// A proxy request runs headless in a background goroutine; never let git
	// fall back to an interactive terminal prompt waiting for input no one
	// will type.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git credential %s: %w", subcommand, err)
	}
	return stdout.Bytes(), nil
}
