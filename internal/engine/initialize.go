package engine

import (
	"context"
	"log/slog"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/devc-org/devc/internal/config"
	"github.com/devc-org/devc/internal/workspace"
)

// runInitializeCommand executes the initializeCommand lifecycle hook on the
// host before image build/pull. Per the devcontainer spec, this runs on the
// host machine (not in a container) on every "up" invocation.
func (e *Engine) runInitializeCommand(ctx context.Context, ws *workspace.Workspace, cfg *config.DevContainerConfig) error {
	if len(cfg.InitializeCommand) == 0 {
		return nil
	}

	e.reportProgress("Running initializeCommand...")

	// Named entries of the object form run in parallel; the first failure
	// cancels the others.
	g, gctx := errgroup.WithContext(ctx)
	for hookName, cmdParts := range cfg.InitializeCommand {
		if len(cmdParts) == 0 {
			continue
		}

		label := "initializeCommand"
		if hookName != "" {
			label = "initializeCommand:" + hookName
		}

		var cmd *exec.Cmd
		if len(cmdParts) == 1 {
			// Single string: run via shell.
			cmd = exec.CommandContext(gctx, "sh", "-c", cmdParts[0])
		} else {
			// Array: run as direct exec.
			cmd = exec.CommandContext(gctx, cmdParts[0], cmdParts[1:]...)
		}

		cmd.Dir = ws.Source
		cmd.Stdout = e.stdout
		cmd.Stderr = e.stderr

		e.logger.Debug("executing host command", slog.String("hook", label), slog.String("cmd", cmd.String()))

		g.Go(func() error {
			if err := cmd.Run(); err != nil {
				return &HookFailedError{Hook: label, Err: err}
			}
			return nil
		})
	}

	return g.Wait()
}
