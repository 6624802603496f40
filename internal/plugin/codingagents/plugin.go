package codingagents

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/devc-org/devc/internal/config"
	"github.com/devc-org/devc/internal/plugin"
)

// Plugin stages host coding-agent config/credentials for each enabled
// preset (Codex, Claude Code, Cursor, Gemini CLI) into the container, and
// installs the agent's CLI on first boot if it isn't already on PATH.
type Plugin struct {
	cfg     config.AgentsConfig
	homeDir string // overridable for testing; defaults to os.UserHomeDir()
}

// New creates a coding-agents plugin governed by cfg (the user's [agents]
// config section). Per-preset entries with Enabled explicitly false are
// skipped even when cfg.Enabled is true.
func New(cfg config.AgentsConfig) *Plugin {
	return &Plugin{cfg: cfg}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string { return "coding-agents" }

// AgentSyncResult records the outcome of syncing one coding-agent preset:
// whether its host config passed validation, whether any files were staged
// for copy into the container, whether an install step was queued, and any
// warnings raised along the way (e.g. a required file missing on host).
type AgentSyncResult struct {
	Agent     Kind
	Validated bool
	Copied    bool
	Installed bool
	Warnings  []string
}

// PreContainerRun stages each enabled preset's host config into the
// workspace state dir and returns the file copies plus install script
// needed to bring it into the container.
func (p *Plugin) PreContainerRun(_ context.Context, req *plugin.PreContainerRunRequest) (*plugin.PreContainerRunResponse, error) {
	if !p.cfg.Enabled {
		return nil, nil
	}
	_, resp, err := p.sync(req)
	return resp, err
}

// Validate checks each enabled preset's host config for the files §4.6
// requires, without staging or copying anything. Used by `devc agents
// doctor`, which reports on host readiness without touching any container.
func (p *Plugin) Validate() ([]AgentSyncResult, error) {
	home, err := p.home()
	if err != nil {
		return nil, err
	}

	var results []AgentSyncResult
	for _, kind := range All {
		override := p.presetOverride(kind)
		if override.Enabled != nil && !*override.Enabled {
			continue
		}
		pr := presets[kind]
		hostConfigDir := expandHome(effectiveHostConfigPath(pr, override), home)

		result := AgentSyncResult{Agent: kind}
		if kind == KindClaude {
			missing, err := claudeMissingFiles(hostConfigDir, home)
			if err != nil {
				return nil, fmt.Errorf("validating %s config: %w", kind, err)
			}
			result.Validated = len(missing) == 0
			if len(missing) > 0 && len(missing) != len(claudeRequiredFiles(hostConfigDir, home)) {
				for _, m := range missing {
					result.Warnings = append(result.Warnings, claudeMissingWarning(m))
				}
			}
		} else {
			info, err := os.Stat(hostConfigDir)
			if err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("validating %s config: %w", kind, err)
			}
			result.Validated = err == nil && info.IsDir()
		}
		results = append(results, result)
	}
	return results, nil
}

// Sync validates and stages every enabled preset's host config against req,
// returning both the per-agent result set and the merged response to apply
// to a container. Used directly by `devc agents sync`, which targets an
// already-running container rather than one about to be created.
func (p *Plugin) Sync(req *plugin.PreContainerRunRequest) ([]AgentSyncResult, *plugin.PreContainerRunResponse, error) {
	return p.sync(req)
}

func (p *Plugin) home() (string, error) {
	if p.homeDir != "" {
		return p.homeDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return home, nil
}

func effectiveHostConfigPath(pr preset, override config.AgentPresetConfig) string {
	if override.ConfigPath != "" {
		return override.ConfigPath
	}
	return pr.defaultHostConfigPath
}

func (p *Plugin) sync(req *plugin.PreContainerRunRequest) ([]AgentSyncResult, *plugin.PreContainerRunResponse, error) {
	home, err := p.home()
	if err != nil {
		return nil, nil, err
	}

	remoteHome := plugin.InferRemoteHome(req.RemoteUser)
	owner := req.RemoteUser
	if owner == "" {
		owner = "root"
	}

	resp := &plugin.PreContainerRunResponse{}
	var installSteps []string
	var results []AgentSyncResult

	for _, kind := range All {
		pr := presets[kind]
		override := p.presetOverride(kind)
		if override.Enabled != nil && !*override.Enabled {
			continue
		}

		hostConfigDir := expandHome(effectiveHostConfigPath(pr, override), home)
		result := AgentSyncResult{Agent: kind}

		// Claude invariant: .credentials.json, settings.json, and the
		// top-level ~/.claude.json must all be present, or none of them are
		// copied — a partial sync forces Claude Code to re-onboard. A host
		// with none of the three is simply "Claude not set up here" and
		// warrants no warning; the invariant only fires once the user has
		// started (but not finished) onboarding on this host.
		if kind == KindClaude {
			missing, err := claudeMissingFiles(hostConfigDir, home)
			if err != nil {
				return nil, nil, fmt.Errorf("validating %s config: %w", kind, err)
			}
			if len(missing) == len(claudeRequiredFiles(hostConfigDir, home)) {
				results = append(results, result)
				continue // nothing on the host to stage for this agent
			}
			if len(missing) > 0 {
				for _, m := range missing {
					result.Warnings = append(result.Warnings, claudeMissingWarning(m))
				}
				resp.Warnings = append(resp.Warnings, result.Warnings...)
				results = append(results, result)
				continue
			}
		}

		staged, err := p.stagePreset(req, pr, hostConfigDir, home, remoteHome, owner)
		if err != nil {
			return nil, nil, fmt.Errorf("staging %s config: %w", kind, err)
		}
		result.Validated = staged != nil
		if staged == nil {
			results = append(results, result)
			continue // nothing on the host to stage for this agent
		}
		result.Copied = true
		resp.Copies = append(resp.Copies, staged...)

		for k, v := range envForward(override.EnvForward) {
			if resp.Env == nil {
				resp.Env = make(map[string]string)
			}
			resp.Env[k] = v
		}

		if step := installStep(pr, override); step != "" {
			installSteps = append(installSteps, step)
			result.Installed = true
		}

		results = append(results, result)
	}

	if len(installSteps) > 0 {
		resp.PostCreateScript = strings.Join(installSteps, "\n")
	}

	if len(resp.Copies) == 0 && resp.PostCreateScript == "" && len(resp.Warnings) == 0 {
		return results, nil, nil
	}
	return results, resp, nil
}

// claudeRequiredFile pairs a required host path with the host-relative name
// used to report it in a warning.
type claudeRequiredFile struct {
	path string
	name string
}

// claudeRequiredFiles names the three host-side files the Claude invariant
// requires, in a fixed order so warnings are reproducible.
func claudeRequiredFiles(hostConfigDir, home string) []claudeRequiredFile {
	return []claudeRequiredFile{
		{filepath.Join(hostConfigDir, ".credentials.json"), "~/.claude/.credentials.json"},
		{filepath.Join(hostConfigDir, "settings.json"), "~/.claude/settings.json"},
		{filepath.Join(home, ".claude.json"), "~/.claude.json"},
	}
}

// claudeMissingFiles reports which of the three required Claude files are
// absent on the host. An empty result means all three exist.
func claudeMissingFiles(hostConfigDir, home string) ([]string, error) {
	var missing []string
	for _, f := range claudeRequiredFiles(hostConfigDir, home) {
		if _, err := os.Stat(f.path); os.IsNotExist(err) {
			missing = append(missing, f.name)
		} else if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// claudeMissingWarning formats the warning emitted when the Claude invariant
// fails, naming the missing file and the consequence of skipping the copy.
func claudeMissingWarning(missing string) string {
	return fmt.Sprintf("claude: missing %s, skipping sync to avoid partial re-onboarding", missing)
}

// presetOverride returns the user's per-preset config override for kind, or
// its zero value if none is configured.
func (p *Plugin) presetOverride(kind Kind) config.AgentPresetConfig {
	switch kind {
	case KindCodex:
		return p.cfg.Codex
	case KindClaude:
		return p.cfg.Claude
	case KindCursor:
		return p.cfg.Cursor
	case KindGemini:
		return p.cfg.Gemini
	default:
		return config.AgentPresetConfig{}
	}
}

// stagePreset copies hostConfigDir (and the preset's extra sync paths, like
// Claude Code's top-level ~/.claude.json) into the workspace's plugin
// staging dir, returning the resulting FileCopy entries. Returns nil, nil if
// nothing exists on the host to stage.
func (p *Plugin) stagePreset(req *plugin.PreContainerRunRequest, pr preset, hostConfigDir, home, remoteHome, owner string) ([]plugin.FileCopy, error) {
	stageRoot := filepath.Join(req.WorkspaceDir, "plugins", "coding-agents", string(pr.kind))

	var copies []plugin.FileCopy

	if info, err := os.Stat(hostConfigDir); err == nil && info.IsDir() {
		dstDir := filepath.Join(stageRoot, "config")
		if err := copyDir(hostConfigDir, dstDir); err != nil {
			return nil, err
		}
		copies = append(copies, plugin.FileCopy{
			Source: dstDir,
			Target: filepath.Join(remoteHome, pr.defaultContainerPath),
			User:   owner,
		})
	} else if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	for _, sp := range pr.extraSyncPaths {
		hostPath := expandHome(sp.host, home)
		if _, err := os.Stat(hostPath); os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}
		dst := filepath.Join(stageRoot, filepath.Base(sp.container))
		if err := copyFile(hostPath, dst, 0o600); err != nil {
			return nil, err
		}
		copies = append(copies, plugin.FileCopy{
			Source: dst,
			Target: filepath.Join(remoteHome, strings.TrimPrefix(sp.container, "/")),
			Mode:   "0600",
			User:   owner,
		})
	}

	if len(copies) == 0 {
		return nil, nil
	}
	return copies, nil
}

// expandHome resolves a preset path given as a bare "~"-relative suffix
// (e.g. ".codex" or ".claude.json") against home.
func expandHome(path, home string) string {
	path = strings.TrimPrefix(path, "~/")
	path = strings.TrimPrefix(path, "~")
	path = strings.TrimPrefix(path, "/")
	return filepath.Join(home, path)
}

// envForward builds the env map for a preset's configured EnvForward keys,
// copying each one from the host process environment when set.
func envForward(keys []string) map[string]string {
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			out[k] = v
		}
	}
	return out
}

// installStep returns the shell snippet that installs pr's CLI on first
// boot if it's missing, honoring an Install=false opt-out or an OnStart
// override that replaces the default install command entirely.
func installStep(pr preset, override config.AgentPresetConfig) string {
	if override.Install != nil && !*override.Install {
		return ""
	}
	cmd := pr.defaultInstallCommand
	if override.OnStart != "" {
		cmd = override.OnStart
	}
	if cmd == "" {
		return ""
	}
	return fmt.Sprintf("command -v %s >/dev/null 2>&1 || %s", pr.binaryProbe, cmd)
}

// copyFile copies a single file from src to dst with the given permissions.
func copyFile(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, perm)
}

// copyDir recursively copies src into dst, preserving each file's mode.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}
