package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/devc-org/devc/internal/config"
	"github.com/devc-org/devc/internal/credproxy"
	"github.com/devc-org/devc/internal/driver"
	"github.com/devc-org/devc/internal/plugin"
	"github.com/devc-org/devc/internal/workspace"
)

// defaultEntrypoint is used when overrideCommand is not explicitly false.
const defaultEntrypoint = "/bin/sh"

// defaultCmd keeps the container alive when overrideCommand is not false.
var defaultCmd = []string{"-c", "echo Container started; trap \"exit 0\" 15; exec \"$@\"; sleep infinity"}

// upSingle handles the single container path (image or Dockerfile based).
func (e *Engine) upSingle(ctx context.Context, ws *workspace.Workspace, cfg *config.DevContainerConfig, workspaceFolder string, opts UpOptions) (*UpResult, error) {
	// Check for an existing container.
	container, err := e.driver.FindContainer(ctx, ws.ID)
	if err != nil {
		return nil, fmt.Errorf("finding container: %w", err)
	}

	if container != nil && !opts.Recreate {
		// Container exists and we're not forcing recreation.
		if !container.State.IsRunning() {
			e.reportProgress("Starting container...")
			if err := e.driver.StartContainer(ctx, ws.ID, container.ID); err != nil {
				return nil, fmt.Errorf("starting container: %w", err)
			}
		} else {
			e.reportProgress("Container already running")
		}

		// The socket path is deterministic per workspace, so a restarted
		// container's existing bind mount still points at it; only the
		// listener (which died with the previous devc process) needs
		// recreating, not the shim scripts or config files baked in earlier.
		e.startCredProxyListener(ws.ID)

		return e.setupAndReturn(ctx, ws, cfg, container.ID, workspaceFolder, nil)
	}

	// Remove existing container if recreating. Hook markers live inside the
	// container at /var/devc, so they're discarded along with it here.
	if container != nil && opts.Recreate {
		e.reportProgress("Removing container...")
		if err := e.driver.DeleteContainer(ctx, ws.ID, container.ID); err != nil {
			return nil, fmt.Errorf("deleting container for recreation: %w", err)
		}
	}

	// Build the image.
	buildRes, err := e.buildImage(ctx, ws, cfg)
	if err != nil {
		return nil, err
	}

	// Build run options.
	runOpts := e.buildRunOptions(cfg, buildRes.imageName, ws.Source, workspaceFolder)

	credHome := credentialHomeDir(cfg.ContainerUser)
	if err := e.wireCredProxyMounts(ws.ID, credHome, runOpts); err != nil {
		e.logger.Warn("credential proxy unavailable, forwarding disabled for this container", "workspace", ws.ID, "error", err)
	}

	remoteUserHint := cfg.ContainerUser
	pluginResp, err := e.runPreContainerPlugins(ctx, ws, buildRes.imageName, remoteUserHint, workspaceFolder)
	if err != nil {
		return nil, err
	}
	applyPluginResponse(runOpts, pluginResp)

	e.reportProgress("Creating container...")
	if err := e.driver.RunContainer(ctx, ws.ID, runOpts); err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	// Find the newly created container.
	container, err = e.driver.FindContainer(ctx, ws.ID)
	if err != nil {
		return nil, fmt.Errorf("finding new container: %w", err)
	}
	if container == nil {
		return nil, fmt.Errorf("container not found after creation")
	}

	if err := e.applyPluginCopies(ctx, ws.ID, container.ID, pluginResp); err != nil {
		e.logger.Warn("applying plugin file copies failed", "error", err)
	}

	if err := e.runPluginPostCreateScript(ctx, ws.ID, container.ID, remoteUserHint, pluginResp); err != nil {
		e.logger.Warn("running plugin post-create script failed", "error", err)
	}

	if err := e.installCredProxyFiles(ctx, ws.ID, container.ID, credHome); err != nil {
		e.logger.Warn("installing credential proxy shims failed, forwarding disabled for this container", "error", err)
	}

	var pluginWarnings []string
	if pluginResp != nil {
		pluginWarnings = pluginResp.Warnings
	}
	return e.setupAndReturn(ctx, ws, cfg, container.ID, workspaceFolder, pluginWarnings)
}

// credentialHomeDir approximates the remote user's home directory from the
// devcontainer config alone, before the container exists to ask it directly.
// root (the default when containerUser is unset) lives at /root; any other
// user is assumed to follow the common /home/<user> convention.
func credentialHomeDir(containerUser string) string {
	if containerUser == "" || containerUser == "root" {
		return "/root"
	}
	return "/home/" + containerUser
}

// startCredProxyListener restarts the credential proxy's listener for an
// already-existing container whose bind mount (and shim scripts) were set
// up on a previous "up". No-op if credential forwarding isn't configured.
func (e *Engine) startCredProxyListener(workspaceID string) {
	if e.credProxy == nil {
		return
	}
	forwardDocker, forwardGit := e.credentialsEnabled()
	if !forwardDocker && !forwardGit {
		return
	}
	if _, err := e.credProxy.Start(workspaceID); err != nil {
		e.logger.Warn("restarting credential proxy listener failed", "workspace", workspaceID, "error", err)
	}
}

// wireCredProxyMounts starts the credential proxy's socket listener (if
// forwarding is enabled) and adds its bind mount plus a RAM-backed tmpfs for
// the container's ~/.docker directory to runOpts, so spilled credential
// caches never touch the container's writable layer.
func (e *Engine) wireCredProxyMounts(workspaceID, credHome string, runOpts *driver.RunOptions) error {
	if e.credProxy == nil {
		return nil
	}
	forwardDocker, forwardGit := e.credentialsEnabled()
	if !forwardDocker && !forwardGit {
		return nil
	}

	socketPath, err := e.credProxy.Start(workspaceID)
	if err != nil {
		return fmt.Errorf("starting credential proxy: %w", err)
	}

	runOpts.Mounts = append(runOpts.Mounts, config.Mount{
		Type:   "bind",
		Source: socketPath,
		Target: credproxy.SocketContainerPath,
	})
	runOpts.ExtraArgs = append(runOpts.ExtraArgs,
		"--tmpfs", credHome+"/.docker:size=1m,mode=0700")

	return nil
}

// installCredProxyFiles writes the in-container shim scripts and points
// Docker and Git at them, once credHome/.docker's tmpfs is mounted and
// before any lifecycle hook might need to pull/push.
func (e *Engine) installCredProxyFiles(ctx context.Context, workspaceID, containerID, credHome string) error {
	if e.credProxy == nil {
		return nil
	}
	forwardDocker, forwardGit := e.credentialsEnabled()
	if !forwardDocker && !forwardGit {
		return nil
	}

	writeFile := func(target, content, mode string) error {
		dir := filepath.Dir(target)
		mkdirCmd := []string{"sh", "-c", fmt.Sprintf("mkdir -p %q", dir)}
		if err := e.driver.ExecContainer(ctx, workspaceID, containerID, mkdirCmd, nil, io.Discard, io.Discard, nil, "root"); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		writeCmd := []string{"sh", "-c", fmt.Sprintf("cat > %q", target)}
		if err := e.driver.ExecContainer(ctx, workspaceID, containerID, writeCmd, strings.NewReader(content), io.Discard, io.Discard, nil, "root"); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		if mode != "" {
			chmodCmd := []string{"chmod", mode, target}
			if err := e.driver.ExecContainer(ctx, workspaceID, containerID, chmodCmd, nil, io.Discard, io.Discard, nil, "root"); err != nil {
				return fmt.Errorf("chmod %s: %w", target, err)
			}
		}
		return nil
	}

	if forwardDocker {
		if err := writeFile("/usr/local/bin/docker-credential-devc", credproxy.DockerShimScript(), "755"); err != nil {
			return err
		}
		dockerConfig := `{"credsStore":"devc"}` + "\n"
		if err := writeFile(credHome+"/.docker/config.json", dockerConfig, "600"); err != nil {
			return err
		}
	}

	if forwardGit {
		if err := writeFile("/usr/local/bin/git-credential-devc", credproxy.GitShimScript(), "755"); err != nil {
			return err
		}
		gitConfigSnippet := "[credential]\n\thelper = devc\n"
		appendCmd := []string{"sh", "-c", fmt.Sprintf("printf '%%s' %q >> /etc/gitconfig", gitConfigSnippet)}
		if err := e.driver.ExecContainer(ctx, workspaceID, containerID, appendCmd, nil, io.Discard, io.Discard, nil, "root"); err != nil {
			return fmt.Errorf("configuring git credential helper: %w", err)
		}
	}

	return nil
}

// runPreContainerPlugins dispatches the pre-container-run event to the
// engine's plugin manager, if one is set. Returns an empty (zero-value)
// response when no plugins are registered.
func (e *Engine) runPreContainerPlugins(ctx context.Context, ws *workspace.Workspace, imageName, remoteUserHint, workspaceFolder string) (*plugin.PreContainerRunResponse, error) {
	if e.plugins == nil {
		return &plugin.PreContainerRunResponse{}, nil
	}
	req := &plugin.PreContainerRunRequest{
		WorkspaceID:     ws.ID,
		WorkspaceDir:    e.store.WorkspaceDir(ws.ID),
		SourceDir:       ws.Source,
		Runtime:         e.runtime,
		ImageName:       imageName,
		RemoteUser:      remoteUserHint,
		WorkspaceFolder: workspaceFolder,
		ContainerName:   "devc-" + ws.ID,
	}
	resp, err := e.plugins.RunPreContainerRun(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("running pre-container-run plugins: %w", err)
	}
	return resp, nil
}

// applyPluginResponse merges a plugin response's mounts, env, and run args
// into the RunOptions that will be used to create the container.
func applyPluginResponse(opts *driver.RunOptions, resp *plugin.PreContainerRunResponse) {
	if resp == nil {
		return
	}
	opts.Mounts = append(opts.Mounts, resp.Mounts...)
	opts.ExtraArgs = append(opts.ExtraArgs, resp.RunArgs...)
	for k, v := range resp.Env {
		opts.Env = append(opts.Env, k+"="+v)
	}
}

// runPluginPostCreateScript runs a merged plugin response's PostCreateScript
// (if any) inside the container as the remote user, once, right after file
// copies land and before lifecycle hooks run.
func (e *Engine) runPluginPostCreateScript(ctx context.Context, workspaceID, containerID, remoteUser string, resp *plugin.PreContainerRunResponse) error {
	if resp == nil || resp.PostCreateScript == "" {
		return nil
	}
	cmd := []string{"sh", "-c", resp.PostCreateScript}
	if err := e.driver.ExecContainer(ctx, workspaceID, containerID, cmd, nil, io.Discard, io.Discard, nil, remoteUser); err != nil {
		return fmt.Errorf("running plugin post-create script: %w", err)
	}
	return nil
}

// applyPluginCopies writes each of a plugin response's FileCopy entries into
// the newly created container via stdin, then chmods/chowns as requested.
func (e *Engine) applyPluginCopies(ctx context.Context, workspaceID, containerID string, resp *plugin.PreContainerRunResponse) error {
	if resp == nil {
		return nil
	}
	for _, fc := range resp.Copies {
		data, err := os.ReadFile(fc.Source)
		if err != nil {
			return fmt.Errorf("reading plugin file %s: %w", fc.Source, err)
		}

		dir := filepath.Dir(fc.Target)
		mkdirCmd := []string{"sh", "-c", fmt.Sprintf("mkdir -p %q", dir)}
		if err := e.driver.ExecContainer(ctx, workspaceID, containerID, mkdirCmd, nil, io.Discard, io.Discard, nil, "root"); err != nil {
			return fmt.Errorf("creating target directory %s: %w", dir, err)
		}

		writeCmd := []string{"sh", "-c", fmt.Sprintf("cat > %q", fc.Target)}
		if err := e.driver.ExecContainer(ctx, workspaceID, containerID, writeCmd, bytes.NewReader(data), io.Discard, io.Discard, nil, "root"); err != nil {
			return fmt.Errorf("writing %s: %w", fc.Target, err)
		}

		if fc.Mode != "" {
			chmodCmd := []string{"chmod", fc.Mode, fc.Target}
			if err := e.driver.ExecContainer(ctx, workspaceID, containerID, chmodCmd, nil, io.Discard, io.Discard, nil, "root"); err != nil {
				return fmt.Errorf("chmod %s: %w", fc.Target, err)
			}
		}
		if fc.User != "" {
			chownCmd := []string{"chown", fc.User, fc.Target}
			if err := e.driver.ExecContainer(ctx, workspaceID, containerID, chownCmd, nil, io.Discard, io.Discard, nil, "root"); err != nil {
				return fmt.Errorf("chown %s: %w", fc.Target, err)
			}
		}
	}
	return nil
}

// buildRunOptions constructs RunOptions from the devcontainer config.
func (e *Engine) buildRunOptions(cfg *config.DevContainerConfig, imageName, projectRoot, workspaceFolder string) *driver.RunOptions {
	opts := &driver.RunOptions{
		Image:  imageName,
		Labels: make(map[string]string),
	}

	// User.
	if cfg.ContainerUser != "" {
		opts.User = cfg.ContainerUser
	}

	// Entrypoint and command.
	overrideCommand := cfg.OverrideCommand == nil || *cfg.OverrideCommand
	if overrideCommand {
		opts.Entrypoint = defaultEntrypoint
		opts.Cmd = defaultCmd
	}

	// Environment variables.
	for k, v := range cfg.ContainerEnv {
		opts.Env = append(opts.Env, k+"="+v)
	}

	// Init process.
	if cfg.Init != nil && *cfg.Init {
		opts.Init = true
	}

	// Privileged mode.
	if cfg.Privileged != nil && *cfg.Privileged {
		opts.Privileged = true
	}

	// Capabilities.
	opts.CapAdd = cfg.CapAdd

	// Security options.
	opts.SecurityOpt = cfg.SecurityOpt

	// Workspace mount.
	if cfg.WorkspaceMount != "" {
		opts.WorkspaceMount = config.ParseMount(cfg.WorkspaceMount)
	} else {
		// Default workspace mount: bind the project root to the workspace folder.
		opts.WorkspaceMount = config.Mount{
			Type:   "bind",
			Source: projectRoot,
			Target: workspaceFolder,
		}
	}

	// Additional mounts.
	opts.Mounts = cfg.Mounts

	// appPort: publish ports at container creation. Each entry is either
	// "port" (same host and container port) or "hostPort:containerPort".
	for _, p := range cfg.AppPort {
		if strings.Contains(p, ":") {
			opts.Ports = append(opts.Ports, p)
		} else {
			opts.Ports = append(opts.Ports, p+":"+p)
		}
	}

	// Passthrough CLI args from runArgs.
	opts.ExtraArgs = cfg.RunArgs

	return opts
}

// setupAndReturn runs container setup and returns the result.
// On lifecycle hook failure, both the result and error are returned so
// callers can persist the result (container is still usable).
func (e *Engine) setupAndReturn(ctx context.Context, ws *workspace.Workspace, cfg *config.DevContainerConfig, containerID, workspaceFolder string, pluginWarnings []string) (*UpResult, error) {
	remoteUser := e.resolveRemoteUser(ctx, ws.ID, cfg, containerID)

	result := &UpResult{
		ContainerID:     containerID,
		WorkspaceFolder: workspaceFolder,
		RemoteUser:      remoteUser,
		Ports:           e.containerPorts(ctx, ws.ID),
		Warnings:        pluginWarnings,
	}

	// Save an early result so devc exec/shell can find the container,
	// workspace folder, and user while setup (UID sync, env probe,
	// lifecycle hooks) is still running.
	e.saveResult(ws, cfg, result)

	// Run container setup (UID sync, env probe, lifecycle hooks).
	if err := e.setupContainer(ctx, ws, cfg, containerID, workspaceFolder, remoteUser); err != nil {
		return result, fmt.Errorf("setting up container: %w", err)
	}

	return result, nil
}

// detectContainerUser runs whoami inside the container to detect the default
// user. Returns empty string on failure or if the user is root.
func (e *Engine) detectContainerUser(ctx context.Context, workspaceID, containerID string) string {
	var stdout bytes.Buffer
	if err := e.driver.ExecContainer(ctx, workspaceID, containerID, []string{"whoami"}, nil, &stdout, io.Discard, nil, ""); err != nil {
		return ""
	}
	user := strings.TrimSpace(stdout.String())
	if user == "root" {
		return ""
	}
	return user
}

// resolveWorkspaceFolder determines the workspace folder path inside the container.
func resolveWorkspaceFolder(cfg *config.DevContainerConfig, projectRoot string) string {
	if cfg.WorkspaceFolder != "" {
		return cfg.WorkspaceFolder
	}
	return "/workspaces/" + filepath.Base(projectRoot)
}
