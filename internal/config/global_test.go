package config

import (
	"path/filepath"
	"testing"
)

func TestLoadGlobalConfig_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadGlobalConfig()
	if err != nil {
		t.Fatalf("LoadGlobalConfig() error = %v", err)
	}
	if !cfg.Credentials.ForwardDocker {
		t.Error("default Credentials.ForwardDocker should be true")
	}
	if cfg.Ports.AutoForward != "notify" {
		t.Errorf("default Ports.AutoForward = %q, want notify", cfg.Ports.AutoForward)
	}
}

func TestSaveThenLoadGlobalConfig_RoundTrips(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	want := &GlobalConfig{
		Runtime:     RuntimeConfig{Name: "podman"},
		Credentials: CredentialsConfig{ForwardDocker: true, ForwardGit: false},
		Ports:       PortsConfig{AutoForward: "silent"},
		Agents: AgentsConfig{
			Enabled: true,
			Claude:  AgentPresetConfig{OnStart: "claude --resume"},
		},
	}
	if err := SaveGlobalConfig(want); err != nil {
		t.Fatalf("SaveGlobalConfig() error = %v", err)
	}

	got, err := LoadGlobalConfig()
	if err != nil {
		t.Fatalf("LoadGlobalConfig() error = %v", err)
	}
	if got.Runtime.Name != want.Runtime.Name {
		t.Errorf("Runtime.Name = %q, want %q", got.Runtime.Name, want.Runtime.Name)
	}
	if got.Ports.AutoForward != want.Ports.AutoForward {
		t.Errorf("Ports.AutoForward = %q, want %q", got.Ports.AutoForward, want.Ports.AutoForward)
	}
	if got.Agents.Claude.OnStart != want.Agents.Claude.OnStart {
		t.Errorf("Agents.Claude.OnStart = %q, want %q", got.Agents.Claude.OnStart, want.Agents.Claude.OnStart)
	}
}

func TestGlobalConfigPath_UsesXDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := GlobalConfigPath()
	if err != nil {
		t.Fatalf("GlobalConfigPath() error = %v", err)
	}
	want := filepath.Join(dir, "devc", "config.toml")
	if path != want {
		t.Errorf("GlobalConfigPath() = %q, want %q", path, want)
	}
}
