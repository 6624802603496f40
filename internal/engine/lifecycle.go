package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/devc-org/devc/internal/config"
	"github.com/devc-org/devc/internal/driver"
	"github.com/devc-org/devc/internal/workspace"
)

// markerDir is where lifecycle hook idempotence markers are written inside
// the container. Placing markers in-container (rather than host-side) ties
// them to the container itself: a newly created container (rebuild,
// --recreate, compose recreation) starts without markers, instead of
// inheriting workspace-store bookkeeping that has no knowledge of the
// container's actual history.
const markerDir = "/var/devc"

// defaultWaitFor is the lifecycle stage at which a container is considered
// ready for attach when devcontainer.json does not set "waitFor".
const defaultWaitFor = "updateContentCommand"

// lifecycleRunner executes lifecycle hooks inside a container.
type lifecycleRunner struct {
	driver      driver.Driver
	store       *workspace.Store
	workspaceID string
	containerID string
	remoteUser  string
	remoteEnv   map[string]string
	logger      *slog.Logger
	stdout      io.Writer
	stderr      io.Writer
	progress    func(string)
}

// runLifecycleHooks executes the devcontainer lifecycle hooks in order.
// Hooks run as the remote user. Marker files provide idempotency for
// the once-only hooks (onCreate, postCreate); updateContent runs on every
// pass. "Container
// ready." is signaled as soon as the stage named by waitFor (default
// updateContentCommand) completes, so callers waiting to attach don't block
// on hooks that run after the container is otherwise usable.
func (r *lifecycleRunner) runLifecycleHooks(ctx context.Context, cfg *config.DevContainerConfig, workspaceFolder string) error {
	waitFor := cfg.WaitFor
	if waitFor == "" {
		waitFor = defaultWaitFor
	}

	if err := r.runHookWithMarker(ctx, "onCreateCommand", cfg.OnCreateCommand, workspaceFolder); err != nil {
		return err
	}
	r.signalReadyAt("onCreateCommand", waitFor)

	if err := r.runHook(ctx, "updateContentCommand", cfg.UpdateContentCommand, workspaceFolder); err != nil {
		return err
	}
	r.signalReadyAt("updateContentCommand", waitFor)

	if err := r.runHookWithMarker(ctx, "postCreateCommand", cfg.PostCreateCommand, workspaceFolder); err != nil {
		return err
	}
	r.signalReadyAt("postCreateCommand", waitFor)

	if err := r.runHook(ctx, "postStartCommand", cfg.PostStartCommand, workspaceFolder); err != nil {
		return err
	}
	r.signalReadyAt("postStartCommand", waitFor)

	if err := r.runHook(ctx, "postAttachCommand", cfg.PostAttachCommand, workspaceFolder); err != nil {
		return err
	}

	return nil
}

// runResumeHooks executes only the resume-flow lifecycle hooks (postStartCommand
// and postAttachCommand). Per the devcontainer spec, these are the only hooks
// that run when a container is restarted (as opposed to freshly created).
func (r *lifecycleRunner) runResumeHooks(ctx context.Context, cfg *config.DevContainerConfig, workspaceFolder string) error {
	if err := r.runHook(ctx, "postStartCommand", cfg.PostStartCommand, workspaceFolder); err != nil {
		return err
	}
	if err := r.runHook(ctx, "postAttachCommand", cfg.PostAttachCommand, workspaceFolder); err != nil {
		return err
	}
	return nil
}

// signalReadyAt emits "Container ready." once the stage matching waitFor
// has completed. A nil progress callback is a no-op.
func (r *lifecycleRunner) signalReadyAt(stage, waitFor string) {
	if stage != waitFor {
		return
	}
	if r.progress != nil {
		r.progress("Container ready.")
	}
}

// runHookWithMarker executes a lifecycle hook, using an in-container marker
// file at /var/devc/<hook>.ran to ensure it only runs once. Because the
// marker lives inside the container rather than on the host, it belongs to
// that container alone: a newly created container for the same workspace
// has no markers, and the host-side workspace store entry plays no part.
func (r *lifecycleRunner) runHookWithMarker(ctx context.Context, name string, hook config.LifecycleHook, workspaceFolder string) error {
	if len(hook) == 0 {
		return nil
	}

	done, err := r.hookMarkerExists(ctx, name)
	if err != nil {
		r.logger.Warn("failed to check hook marker, running hook again", "hook", name, "error", err)
	} else if done {
		r.logger.Debug("skipping hook (already ran)", "hook", name)
		return nil
	}

	if err := r.runHook(ctx, name, hook, workspaceFolder); err != nil {
		return err
	}

	if err := r.writeHookMarker(ctx, name); err != nil {
		r.logger.Warn("failed to write hook marker", "hook", name, "error", err)
	}
	return nil
}

// hookMarkerExists checks /var/devc/<hook>.ran inside the container. It
// probes with "test ! -f" rather than "test -f": a zero exit confirms
// absence, so a driver that can't be reached (or any other exec failure)
// falls on the side of treating the marker as present and skipping the
// hook rather than re-running a possibly-destructive onCreate/postCreate
// command against a container in an unknown state.
func (r *lifecycleRunner) hookMarkerExists(ctx context.Context, name string) (bool, error) {
	markerPath := markerDir + "/" + name + ".ran"
	err := r.driver.ExecContainer(ctx, r.workspaceID, r.containerID,
		[]string{"test", "!", "-f", markerPath}, nil, io.Discard, io.Discard, nil, "")
	if err == nil {
		return false, nil
	}
	return true, nil
}

// writeHookMarker writes /var/devc/<hook>.ran inside the container,
// creating the marker directory if necessary.
func (r *lifecycleRunner) writeHookMarker(ctx context.Context, name string) error {
	markerPath := markerDir + "/" + name + ".ran"
	cmd := []string{"sh", "-c", fmt.Sprintf("mkdir -p %q && touch %q", markerDir, markerPath)}
	return r.driver.ExecContainer(ctx, r.workspaceID, r.containerID, cmd, nil, io.Discard, io.Discard, nil, "root")
}

// runHook executes a lifecycle hook's commands inside the container. A
// string/array-form hook (the single "" key) runs as one command. An
// object-form hook runs each named entry concurrently, matching the
// devcontainer spec's "parallel object form" semantics; if any entry
// fails, the first error is returned once all entries have finished.
func (r *lifecycleRunner) runHook(ctx context.Context, name string, hook config.LifecycleHook, workspaceFolder string) error {
	if len(hook) == 0 {
		return nil
	}

	if r.progress != nil {
		r.progress("Running " + name + "...")
	}
	r.logger.Debug("running lifecycle hook", "hook", name)

	if cmdParts, ok := hook[""]; ok && len(hook) == 1 {
		return r.runHookEntry(ctx, name, "", cmdParts, workspaceFolder)
	}

	g, gctx := errgroup.WithContext(ctx)
	for hookName, cmdParts := range hook {
		hookName, cmdParts := hookName, cmdParts
		g.Go(func() error {
			return r.runHookEntry(gctx, name, hookName, cmdParts, workspaceFolder)
		})
	}
	return g.Wait()
}

// runHookEntry executes one named (or unnamed) command entry of a hook.
func (r *lifecycleRunner) runHookEntry(ctx context.Context, name, hookName string, cmdParts []string, workspaceFolder string) error {
	if len(cmdParts) == 0 {
		return nil
	}

	label := name
	if hookName != "" {
		label = name + ":" + hookName
	}

	var cmdStr string
	if len(cmdParts) == 1 {
		cmdStr = cmdParts[0]
	} else {
		cmdStr = strings.Join(cmdParts, " ")
	}

	execCmd := r.wrapCommand(cmdStr, workspaceFolder)

	r.logger.Debug("executing hook command", "hook", label, "cmd", execCmd)
	if err := r.driver.ExecContainer(ctx, r.workspaceID, r.containerID, execCmd, nil, r.stdout, r.stderr, envSlice(r.remoteEnv), r.remoteUser); err != nil {
		return &HookFailedError{Hook: label, Err: err}
	}
	return nil
}

// wrapCommand wraps a command string to run in the workspace folder.
// User switching is handled at the driver level via --user.
func (r *lifecycleRunner) wrapCommand(cmdStr string, workspaceFolder string) []string {
	inner := cmdStr
	if workspaceFolder != "" {
		inner = fmt.Sprintf("cd %q 2>/dev/null; %s", workspaceFolder, inner)
	}
	return []string{"sh", "-c", inner}
}
