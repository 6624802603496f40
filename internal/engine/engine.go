package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devc-org/devc/internal/compose"
	"github.com/devc-org/devc/internal/config"
	"github.com/devc-org/devc/internal/credproxy"
	"github.com/devc-org/devc/internal/driver"
	"github.com/devc-org/devc/internal/plugin"
	"github.com/devc-org/devc/internal/portforward"
	"github.com/devc-org/devc/internal/workspace"
)

// Engine orchestrates devcontainer lifecycle operations.
type Engine struct {
	driver       driver.Driver
	compose      *compose.Helper
	store        *workspace.Store
	logger       *slog.Logger
	stdout       io.Writer
	stderr       io.Writer
	progress     func(string)
	verbose      bool
	runtime      string
	plugins      *plugin.Manager
	portForwards *portforward.Manager
	globalConfig *config.GlobalConfig
	credProxy    *credproxy.Manager
}

// New creates an Engine with the given dependencies.
func New(d driver.Driver, composeHelper *compose.Helper, store *workspace.Store, logger *slog.Logger) *Engine {
	return &Engine{
		driver:  d,
		compose: composeHelper,
		store:   store,
		logger:  logger,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
}

// SetOutput overrides the default stdout and stderr writers.
func (e *Engine) SetOutput(stdout, stderr io.Writer) {
	e.stdout = stdout
	e.stderr = stderr
}

// SetProgress sets a callback for user-facing progress messages.
func (e *Engine) SetProgress(fn func(string)) {
	e.progress = fn
}

// SetVerbose controls whether compose/build subprocess output is streamed
// to stdout (verbose) or discarded (default).
func (e *Engine) SetVerbose(v bool) {
	e.verbose = v
}

// SetRuntime records the detected container runtime name ("docker" or
// "podman"), used to annotate PreContainerRunRequest for plugins.
func (e *Engine) SetRuntime(name string) {
	e.runtime = name
}

// SetPlugins attaches a plugin manager whose PreContainerRun hook runs
// before a single (non-compose) container is created.
func (e *Engine) SetPlugins(mgr *plugin.Manager) {
	e.plugins = mgr
}

// SetPortForwarder attaches the port forwarder used to tunnel forwardPorts
// entries after a container comes up, and to reap those tunnels on
// stop/down/remove. Left nil, forwardPorts is a no-op (appPort publishing
// at container creation still works without it).
func (e *Engine) SetPortForwarder(mgr *portforward.Manager) {
	e.portForwards = mgr
}

// SetGlobalConfig attaches the user's global config, consulted for the
// default onAutoForward policy ([ports] auto_forward) when a forwarded port
// has no portsAttributes entry of its own. Left nil, forwarded ports fall
// back to the "notify" default.
func (e *Engine) SetGlobalConfig(cfg *config.GlobalConfig) {
	e.globalConfig = cfg
}

// SetCredProxy attaches the credential proxy manager used to resolve Docker
// and Git credentials for the container without copying host secrets into
// it. Left nil, the docker-credential-devc and git-credential-devc shims
// are not installed and
// credential forwarding is skipped entirely.
func (e *Engine) SetCredProxy(mgr *credproxy.Manager) {
	e.credProxy = mgr
}

// composeStdout returns the writer compose subprocess output should go to:
// the real stdout when verbose, io.Discard otherwise so routine compose
// chatter doesn't clutter the progress display.
func (e *Engine) composeStdout() io.Writer {
	if e.verbose {
		return e.stdout
	}
	return io.Discard
}

// reportProgress sends a message to the progress callback (if set)
// and logs it at debug level.
func (e *Engine) reportProgress(msg string) {
	if e.progress != nil {
		e.progress(msg)
	}
	e.logger.Debug(msg)
}

// UpOptions controls the behavior of the Up operation.
type UpOptions struct {
	// Recreate forces container recreation even if one already exists.
	Recreate bool
}

// UpResult holds the outcome of a successful Up operation.
type UpResult struct {
	// ContainerID is the container ID.
	ContainerID string

	// ImageName is the name of the built/pulled image.
	ImageName string

	// WorkspaceFolder is the path inside the container where the project is mounted.
	WorkspaceFolder string

	// RemoteUser is the user to run commands as inside the container.
	RemoteUser string

	// Ports lists the host<->container port mappings in effect: ports
	// published at container creation (appPort) plus any forwardPorts
	// tunnels established by the port forwarder.
	Ports []driver.PortBinding

	// Warnings holds non-fatal plugin warnings raised while bringing the
	// container up (e.g. a coding-agent preset skipped for failing
	// validation). Empty when nothing warned.
	Warnings []string
}

// Up brings a devcontainer up for the given workspace. Concurrent Up calls
// for the same workspace are serialized by an advisory lock; a second
// caller fails fast with *workspace.ErrBusy rather than racing container
// mutation.
func (e *Engine) Up(ctx context.Context, ws *workspace.Workspace, opts UpOptions) (*UpResult, error) {
	e.logger.Debug("up", "workspace", ws.ID, "source", ws.Source)

	lock := e.store.NewLock(ws.ID)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			e.logger.Warn("failed to release workspace lock", "error", err)
		}
	}()

	cfg, workspaceFolder, err := e.parseAndSubstitute(ws)
	if err != nil {
		return nil, err
	}

	// The credential proxy's lifetime is scoped to this single invocation of
	// "up" (§4.5: "runs as a child goroutine of the devc process that issued
	// up... no persistent background daemon"), unlike the port forwarder's
	// tunnels, which outlive the process and are reaped separately by
	// stop/down/remove.
	defer func() {
		if e.credProxy != nil {
			e.credProxy.Stop(ws.ID)
		}
	}()

	// Run initializeCommand on the host before image build/pull.
	if err := e.runInitializeCommand(ctx, ws, cfg); err != nil {
		return nil, fmt.Errorf("initializeCommand: %w", err)
	}

	// Route by config type.
	var result *UpResult
	var upErr error
	if len(cfg.DockerComposeFile) > 0 {
		result, upErr = e.upCompose(ctx, ws, cfg, workspaceFolder, opts)
	} else {
		result, upErr = e.upSingle(ctx, ws, cfg, workspaceFolder, opts)
	}

	// Save final result with probed environment. An early result (without
	// remoteEnv) is saved in setupAndReturn before lifecycle hooks run so
	// devc exec/shell work while hooks are still executing.
	if result != nil {
		e.saveResult(ws, cfg, result)
	}

	if upErr != nil {
		return nil, upErr
	}

	e.startForwardPorts(ctx, ws, cfg, result)

	return result, nil
}

// portPlan is one port to bring up a tunnel for: either explicitly declared
// in forwardPorts (hostPort may differ from containerPort) or discovered via
// a live /proc/net/tcp{,6} scan (hostPort == containerPort).
type portPlan struct {
	hostPort, containerPort int
}

// startForwardPorts discovers and forwards ports for a freshly started
// container: explicitly declared forwardPorts entries always forward;
// §4.7's live discovery (scanning /proc/net/tcp{,6} for LISTEN sockets)
// additionally picks up any other non-loopback-bound port, skipping ones
// already covered by an explicit entry. Failures are logged and downgrade
// a port to advisory-only rather than failing Up — per-port forwarding is
// best-effort.
func (e *Engine) startForwardPorts(ctx context.Context, ws *workspace.Workspace, cfg *config.DevContainerConfig, result *UpResult) {
	if e.portForwards == nil || result == nil || result.ContainerID == "" {
		return
	}

	declared := make(map[uint16]bool)
	var plan []portPlan
	for _, spec := range cfg.ForwardPorts {
		hostPort, containerPort, err := parsePortSpec(spec)
		if err != nil {
			e.logger.Warn("skipping malformed forwardPorts entry", "entry", spec, "error", err)
			continue
		}
		declared[uint16(containerPort)] = true
		plan = append(plan, portPlan{hostPort: hostPort, containerPort: containerPort})
	}

	discovered, err := portforward.DetectPorts(ctx, e.driver, ws.ID, result.ContainerID, declared)
	if err != nil {
		e.logger.Debug("port discovery failed, forwarding only explicit forwardPorts", "workspace", ws.ID, "error", err)
	}
	for _, dp := range discovered {
		if declared[dp.Port] {
			continue
		}
		plan = append(plan, portPlan{hostPort: int(dp.Port), containerPort: int(dp.Port)})
	}

	if len(plan) == 0 {
		return
	}

	if err := portforward.EnsureSocat(ctx, e.driver, ws.ID, result.ContainerID); err != nil {
		e.logger.Warn("socat unavailable in container, forwardPorts downgraded to advisory-only", "workspace", ws.ID, "error", err)
		return
	}

	globalAutoForward := ""
	if e.globalConfig != nil {
		globalAutoForward = e.globalConfig.Ports.AutoForward
	}

	for _, p := range plan {
		attr := cfg.PortsAttributes[strconv.Itoa(p.containerPort)]
		policy := portforward.ResolvePolicy(attr.OnAutoForward, globalAutoForward)
		if policy == portforward.PolicyIgnore {
			e.logger.Debug("port forwarding skipped by onAutoForward=ignore policy", "port", p.containerPort)
			continue
		}

		tun, err := e.portForwards.StartTunnel(ctx, ws.ID, result.ContainerID, p.hostPort, p.containerPort)
		if err != nil {
			e.logger.Warn("failed to start port tunnel, port downgraded to advisory-only", "port", p.containerPort, "error", err)
			continue
		}
		e.logger.Debug("forwarding port", "workspace", ws.ID, "hostPort", tun.HostPort, "containerPort", tun.ContainerPort)
		result.Ports = append(result.Ports, driver.PortBinding{ContainerPort: tun.ContainerPort, HostPort: tun.HostPort, Protocol: "tcp"})

		if policy == portforward.PolicyOpenBrowser {
			if err := portforward.MaybeOpenBrowser(result.ContainerID, tun.HostPort, attr.Protocol == "https"); err != nil {
				e.logger.Debug("failed to open browser for forwarded port", "port", tun.HostPort, "error", err)
			}
		}
	}
}

// credentialsEnabled reports whether Docker and/or Git credential forwarding
// is enabled for this engine, per the user's global config. Both default to
// enabled when no config file is present (see defaultGlobalConfig in
// internal/config).
func (e *Engine) credentialsEnabled() (forwardDocker, forwardGit bool) {
	if e.globalConfig == nil {
		return true, true
	}
	return e.globalConfig.Credentials.ForwardDocker, e.globalConfig.Credentials.ForwardGit
}

// reapPortForwards stops and reaps every port tunnel running for a
// workspace. Best-effort: a failure here must not block stop/down/remove.
func (e *Engine) reapPortForwards(ctx context.Context, workspaceID string) {
	if e.portForwards == nil {
		return
	}
	if err := e.portForwards.StopAll(ctx, workspaceID); err != nil {
		e.logger.Warn("failed to reap port tunnels", "workspace", workspaceID, "error", err)
	}
}

// parsePortSpec parses a forwardPorts/appPort entry ("containerPort" or
// "hostPort:containerPort") into host and container port numbers.
func parsePortSpec(spec string) (hostPort, containerPort int, err error) {
	if idx := strings.Index(spec, ":"); idx >= 0 {
		hostPort, err = strconv.Atoi(spec[:idx])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid host port in %q: %w", spec, err)
		}
		containerPort, err = strconv.Atoi(spec[idx+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid container port in %q: %w", spec, err)
		}
		return hostPort, containerPort, nil
	}
	p, err := strconv.Atoi(spec)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q: %w", spec, err)
	}
	return p, p, nil
}

// saveResult persists the workspace result to disk so devc exec/shell can
// find the container, workspace folder, user, and environment.
func (e *Engine) saveResult(ws *workspace.Workspace, cfg *config.DevContainerConfig, result *UpResult) {
	ws.LastUsedAt = time.Now()
	if err := e.store.Save(ws); err != nil {
		e.logger.Warn("failed to update workspace timestamps", "error", err)
	}

	mergedJSON, _ := json.Marshal(cfg)
	wsResult := &workspace.Result{
		ContainerID:     result.ContainerID,
		MergedConfig:    mergedJSON,
		WorkspaceFolder: result.WorkspaceFolder,
		RemoteEnv:       cfg.RemoteEnv,
		RemoteUser:      result.RemoteUser,
	}
	if err := e.store.SaveResult(ws.ID, wsResult); err != nil {
		e.logger.Warn("failed to save workspace result", "error", err)
	}
}

// Stop stops the container for the given workspace.
func (e *Engine) Stop(ctx context.Context, ws *workspace.Workspace) error {
	e.logger.Debug("stop", "workspace", ws.ID)
	e.reapPortForwards(ctx, ws.ID)

	// For compose workspaces, use compose stop to stop all services.
	if result, err := e.store.LoadResult(ws.ID); err == nil && result != nil {
		var cfg config.DevContainerConfig
		if json.Unmarshal(result.MergedConfig, &cfg) == nil && len(cfg.DockerComposeFile) > 0 {
			if e.compose != nil {
				cd := configDir(ws)
				composeFiles := resolveComposeFiles(cd, cfg.DockerComposeFile)
				projectName := compose.ProjectName(ws.ID)
				env := devcontainerEnv(ws.ID, ws.Source, result.WorkspaceFolder)
				return e.compose.Stop(ctx, projectName, composeFiles, e.stdout, e.stderr, env)
			}
		}
	}

	// Non-compose path: stop the individual container.
	container, err := e.driver.FindContainer(ctx, ws.ID)
	if err != nil {
		return fmt.Errorf("finding container: %w", err)
	}
	if container == nil {
		return fmt.Errorf("no container found for workspace %s", ws.ID)
	}

	return e.driver.StopContainer(ctx, ws.ID, container.ID)
}

// Remove removes the container and all workspace state, including the
// workspace store entry (the workspace stops being known to `devc list`).
func (e *Engine) Remove(ctx context.Context, ws *workspace.Workspace) error {
	e.logger.Debug("remove", "workspace", ws.ID)

	if err := e.teardownContainer(ctx, ws); err != nil {
		return err
	}

	return e.store.Delete(ws.ID)
}

// Down stops and removes the container but keeps the workspace store entry,
// so a subsequent `devc up` recognizes the workspace and creates a fresh
// container. Hook markers live inside the removed container at /var/devc,
// so they are discarded along with it rather than tracked separately.
func (e *Engine) Down(ctx context.Context, ws *workspace.Workspace) error {
	e.logger.Debug("down", "workspace", ws.ID)
	return e.teardownContainer(ctx, ws)
}

// teardownContainer stops/removes the running container or compose services
// for a workspace, without touching the workspace's store entry.
func (e *Engine) teardownContainer(ctx context.Context, ws *workspace.Workspace) error {
	e.reapPortForwards(ctx, ws.ID)

	// For compose workspaces, use compose down to remove all services.
	if result, err := e.store.LoadResult(ws.ID); err == nil && result != nil {
		var cfg config.DevContainerConfig
		if json.Unmarshal(result.MergedConfig, &cfg) == nil && len(cfg.DockerComposeFile) > 0 {
			if e.compose != nil {
				cd := configDir(ws)
				composeFiles := resolveComposeFiles(cd, cfg.DockerComposeFile)
				projectName := compose.ProjectName(ws.ID)
				env := devcontainerEnv(ws.ID, ws.Source, result.WorkspaceFolder)
				if err := e.compose.Down(ctx, projectName, composeFiles, e.composeStdout(), e.stderr, env); err != nil {
					e.logger.Warn("failed to bring down compose services", "error", err)
				}
			}
			return nil
		}
	}

	// Non-compose path: remove the individual container.
	container, err := e.driver.FindContainer(ctx, ws.ID)
	if err != nil {
		return fmt.Errorf("finding container: %w", err)
	}
	if container != nil {
		if err := e.driver.DeleteContainer(ctx, ws.ID, container.ID); err != nil {
			return fmt.Errorf("deleting container: %w", err)
		}
	}

	return nil
}

// Status returns the current container details for a workspace, or nil if not found.
func (e *Engine) Status(ctx context.Context, ws *workspace.Workspace) (*driver.ContainerDetails, error) {
	return e.driver.FindContainer(ctx, ws.ID)
}

// --- shared helpers ---

// parseAndSubstitute parses and performs variable substitution on the
// devcontainer config for the given workspace. Returns the fully resolved
// config and the workspace folder path inside the container.
func (e *Engine) parseAndSubstitute(ws *workspace.Workspace) (*config.DevContainerConfig, string, error) {
	cfgPath := filepath.Join(ws.Source, ws.DevContainerPath)
	cfg, err := config.Parse(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("parsing devcontainer config: %w", err)
	}

	workspaceFolder := resolveWorkspaceFolder(cfg, ws.Source)
	// Pre-expand local-path variables in workspaceFolder so the substitution
	// context gets a concrete path for ${containerWorkspaceFolder} references.
	workspaceFolder = strings.NewReplacer(
		"${localWorkspaceFolder}", ws.Source,
		"${localWorkspaceFolderBasename}", filepath.Base(ws.Source),
	).Replace(workspaceFolder)

	subCtx := &config.SubstitutionContext{
		DevContainerID:           ws.ID,
		LocalWorkspaceFolder:     ws.Source,
		ContainerWorkspaceFolder: workspaceFolder,
		Env:                      envMap(),
	}
	cfg, err = config.Substitute(subCtx, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("substituting variables: %w", err)
	}

	// Re-resolve after full substitution in case workspaceFolder referenced
	// other variables (e.g. ${devcontainerId}).
	workspaceFolder = resolveWorkspaceFolder(cfg, ws.Source)

	return cfg, workspaceFolder, nil
}

// resolveRemoteUser determines the remote user for a container, using the
// config's remoteUser/containerUser with fallback to detecting the container's
// default user via whoami.
func (e *Engine) resolveRemoteUser(ctx context.Context, workspaceID string, cfg *config.DevContainerConfig, containerID string) string {
	remoteUser := cfg.RemoteUser
	if remoteUser == "" {
		remoteUser = cfg.ContainerUser
	}
	if remoteUser == "" {
		remoteUser = e.detectContainerUser(ctx, workspaceID, containerID)
	}
	if remoteUser == "" {
		remoteUser = "root"
	}
	return remoteUser
}

// configDir returns the directory containing the devcontainer config file.
func configDir(ws *workspace.Workspace) string {
	return filepath.Dir(filepath.Join(ws.Source, ws.DevContainerPath))
}

// recreateComposeServices tears down and recreates compose services for the
// given workspace. It generates a compose override, brings services up, and
// returns the primary service container ID. featureImage is the image name to
// override the primary service with (empty string to skip the override).
func (e *Engine) recreateComposeServices(ctx context.Context, ws *workspace.Workspace, cfg *config.DevContainerConfig, workspaceFolder, featureImage string) (string, error) {
	cd := configDir(ws)
	composeFiles := resolveComposeFiles(cd, cfg.DockerComposeFile)
	projectName := compose.ProjectName(ws.ID)
	env := devcontainerEnv(ws.ID, ws.Source, workspaceFolder)

	// Down removes old containers so Up creates new ones with updated config.
	if err := e.compose.Down(ctx, projectName, composeFiles, e.stdout, e.stderr, env); err != nil {
		return "", fmt.Errorf("compose down: %w", err)
	}

	// Generate override and bring services up.
	overridePath, err := e.generateComposeOverride(ws, cfg, workspaceFolder, cd, composeFiles, featureImage)
	if err != nil {
		return "", fmt.Errorf("generating compose override: %w", err)
	}
	defer func() { _ = os.Remove(overridePath) }()

	allFiles := append(composeFiles[:len(composeFiles):len(composeFiles)], overridePath)
	services := ensureServiceIncluded(cfg.RunServices, cfg.Service)

	e.reportProgress("Starting services...")
	if err := e.compose.Up(ctx, projectName, allFiles, services, e.stdout, e.stderr, env); err != nil {
		return "", fmt.Errorf("compose up: %w", err)
	}

	container, err := e.findComposeContainer(ctx, ws.ID, projectName, allFiles, env, "after recreate")
	if err != nil {
		return "", err
	}

	return container.ID, nil
}

// resolveComposeFiles resolves compose file paths relative to configDir.
func resolveComposeFiles(cd string, paths []string) []string {
	files := make([]string, len(paths))
	for i, f := range paths {
		files[i] = filepath.Join(cd, f)
	}
	return files
}

// devcontainerEnv builds the devcontainer variable env slice for passing to
// docker compose subprocesses so ${VAR} references in compose files resolve.
func devcontainerEnv(workspaceID, localFolder, containerFolder string) []string {
	return []string{
		"localWorkspaceFolder=" + localFolder,
		"localWorkspaceFolderBasename=" + filepath.Base(localFolder),
		"containerWorkspaceFolder=" + containerFolder,
		"containerWorkspaceFolderBasename=" + filepath.Base(containerFolder),
		"devcontainerId=" + workspaceID,
	}
}
