package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// GlobalConfig is devc's user-level configuration, read from
// <XDG_CONFIG_HOME>/devc/config.toml. It is read-only from the rest of the
// core's perspective once loaded; only SaveGlobalConfig writes it back to
// disk.
type GlobalConfig struct {
	Runtime     RuntimeConfig     `toml:"runtime"`
	Credentials CredentialsConfig `toml:"credentials"`
	Ports       PortsConfig       `toml:"ports"`
	Agents      AgentsConfig      `toml:"agents"`
}

// RuntimeConfig overrides container runtime auto-detection.
type RuntimeConfig struct {
	Name string `toml:"name,omitempty"`
}

// CredentialsConfig toggles the credential proxy's Docker/Git forwarding.
type CredentialsConfig struct {
	ForwardDocker bool `toml:"forward_docker"`
	ForwardGit    bool `toml:"forward_git"`
}

// PortsConfig holds the default auto-forward policy, used when a port has
// no per-port portsAttributes.onAutoForward entry of its own.
type PortsConfig struct {
	AutoForward string `toml:"auto_forward,omitempty"`
}

// AgentsConfig gates the whole coding-agent injector plus per-preset
// overrides.
type AgentsConfig struct {
	Enabled bool              `toml:"enabled"`
	Codex   AgentPresetConfig `toml:"codex"`
	Claude  AgentPresetConfig `toml:"claude"`
	Cursor  AgentPresetConfig `toml:"cursor"`
	Gemini  AgentPresetConfig `toml:"gemini"`
}

// AgentPresetConfig overrides a single coding-agent preset's defaults.
type AgentPresetConfig struct {
	Enabled    *bool    `toml:"enabled,omitempty"`
	Install    *bool    `toml:"install,omitempty"`
	OnStart    string   `toml:"on_start,omitempty"`
	EnvForward []string `toml:"env_forward,omitempty"`
	ConfigPath string   `toml:"config_path,omitempty"`
}

// defaultGlobalConfig returns the configuration used when no config.toml
// exists yet, and the base that a config.toml's own values are decoded over.
func defaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Credentials: CredentialsConfig{ForwardDocker: true, ForwardGit: true},
		Ports:       PortsConfig{AutoForward: "notify"},
		Agents:      AgentsConfig{Enabled: false},
	}
}

// GlobalConfigPath returns <XDG_CONFIG_HOME>/devc/config.toml, honoring
// XDG_CONFIG_HOME when set and falling back to ~/.config otherwise.
func GlobalConfigPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "devc", "config.toml"), nil
}

// LoadGlobalConfig reads and parses the global config file. A missing file
// is not an error: it yields defaultGlobalConfig(). A malformed file is an
// error, since (unlike workspace state) there is no generated content to
// quarantine and regenerate here — the user's own edits need to be shown
// the parse error so they can fix it.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultGlobalConfig(), nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	cfg := defaultGlobalConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing global config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveGlobalConfig writes cfg to the global config path, creating its
// parent directory if needed. No devc command calls it; the CLI has no
// `config` command.
func SaveGlobalConfig(cfg *GlobalConfig) error {
	path, err := GlobalConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding global config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp config file into place: %w", err)
	}
	return nil
}
