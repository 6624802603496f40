package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Helper wraps the docker/podman CLI binary for executing commands.
type Helper struct {
	command   string
	runtime   string
	logger    *slog.Logger
	toolbox   bool
	toolboxOK sync.Once
}

// NewHelper creates a Helper that shells out to the given command (e.g. "docker" or "podman").
func NewHelper(command string, logger *slog.Logger) *Helper {
	return &Helper{
		command: command,
		runtime: command,
		logger:  logger,
	}
}

// Command returns the base command name (e.g. "docker" or "podman").
func (h *Helper) Command() string {
	return h.command
}

// Run executes the command with the given args and attached I/O streams.
// If the command exits non-zero, the returned error is a *ProviderError
// carrying the runtime name, argv, exit code, and stderr tail.
func (h *Helper) Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	h.toolboxOK.Do(func() { h.toolbox = toolboxBridgeActive() })

	argv := args
	command := h.command
	if h.toolbox {
		command = "flatpak-spawn"
		argv = append([]string{"--host", h.command}, args...)
	}

	h.logger.Debug("exec", "cmd", command, "args", argv)

	cmd := exec.CommandContext(ctx, command, argv...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout

	// Capture stderr for error messages while also writing to the caller's stderr.
	var stderrBuf bytes.Buffer
	if stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, &stderrBuf)
	} else {
		cmd.Stderr = &stderrBuf
	}

	if err := cmd.Run(); err != nil {
		return &ProviderError{
			Runtime:    h.runtime,
			Argv:       scrubArgs(args),
			ExitCode:   exitCodeOf(err),
			StderrTail: tail(stderrBuf.String(), stderrTailLimit),
		}
	}
	return nil
}

// ToolboxArgs returns the argv prefix ("flatpak-spawn", "--host") needed to
// reach the host's container runtime from inside a Fedora Toolbox container,
// or nil if no bridging is needed. Callers that spawn the runtime binary
// directly (rather than through Helper.Run) use this to stay consistent
// with the bridging Helper applies internally.
func (h *Helper) ToolboxArgs() []string {
	h.toolboxOK.Do(func() { h.toolbox = toolboxBridgeActive() })
	if h.toolbox {
		return []string{"flatpak-spawn", "--host"}
	}
	return nil
}

// toolboxBridgeActive reports whether commands must be routed through
// `flatpak-spawn --host` to escape a Fedora Toolbox container and reach the
// host's container runtime.
func toolboxBridgeActive() bool {
	if strings.EqualFold(os.Getenv("DEVC_TEST_PROVIDER"), "toolbox") {
		return true
	}
	_, err := os.Stat("/.flatpak-info")
	return err == nil
}

// sensitiveKeys contains substrings that identify env var names whose values
// should be redacted from error messages.
var sensitiveKeys = []string{
	"TOKEN", "SECRET", "KEY", "PASSWORD", "PASSPHRASE",
	"CREDENTIAL", "AUTH_SOCK",
}

// scrubArgs returns a copy of args with sensitive -e VAR=VALUE pairs redacted.
// Only the value is replaced; the variable name is preserved for debugging.
func scrubArgs(args []string) []string {
	result := make([]string, len(args))
	copy(result, args)
	for i, arg := range result {
		// Look for env var values: the arg after "-e" or args containing "=".
		if i > 0 && args[i-1] == "-e" {
			if k, _, ok := strings.Cut(arg, "="); ok && isSensitiveKey(k) {
				result[i] = k + "=***"
			}
		}
	}
	return result
}

// isSensitiveKey returns true if the env var name contains a sensitive substring.
func isSensitiveKey(name string) bool {
	upper := strings.ToUpper(name)
	for _, key := range sensitiveKeys {
		if strings.Contains(upper, key) {
			return true
		}
	}
	return false
}

// Output executes the command and returns captured stdout.
func (h *Helper) Output(ctx context.Context, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	if err := h.Run(ctx, args, nil, &stdout, nil); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Inspect runs `<cmd> inspect --type <inspectType>` on the given IDs and unmarshals
// the JSON result into the provided pointer.
func (h *Helper) Inspect(ctx context.Context, ids []string, inspectType string, result any) error {
	args := []string{"inspect", "--type", inspectType}
	args = append(args, ids...)

	out, err := h.Output(ctx, args...)
	if err != nil {
		return err
	}
	return json.Unmarshal(out, result)
}
