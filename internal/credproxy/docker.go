package credproxy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker-credential-helpers/client"
	"github.com/docker/docker-credential-helpers/credentials"
)

// dockerCredConfig mirrors the subset of ~/.docker/config.json the proxy
// needs to resolve registry credentials the same way the Docker CLI does.
type dockerCredConfig struct {
	CredsStore  string            `json:"credsStore,omitempty"`
	CredHelpers map[string]string `json:"credHelpers,omitempty"`
	Auths       map[string]struct {
		Auth string `json:"auth,omitempty"`
	} `json:"auths,omitempty"`
}

func dockerConfigPath() string {
	if dir := os.Getenv("DOCKER_CONFIG"); dir != "" {
		return filepath.Join(dir, "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docker", "config.json")
}

func readDockerCredConfig() (*dockerCredConfig, error) {
	path := dockerConfigPath()
	if path == "" {
		return &dockerCredConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &dockerCredConfig{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg := &dockerCredConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// helperFor resolves the credential-helper program name for registry,
// honoring credHelpers' per-registry override over the credsStore default —
// the same precedence a real Docker client applies.
func (c *dockerCredConfig) helperFor(registry string) string {
	if h, ok := c.CredHelpers[registry]; ok {
		return h
	}
	return c.CredsStore
}

// handleDockerRequest resolves one Docker credential-helper request using
// the host's own config.json and helper programs.
func handleDockerRequest(op string, body []byte) ([]byte, error) {
	cfg, err := readDockerCredConfig()
	if err != nil {
		return nil, err
	}

	switch op {
	case "get":
		return dockerGet(cfg, strings.TrimSpace(string(body)))
	case "store":
		var creds credentials.Credentials
		if err := json.Unmarshal(body, &creds); err != nil {
			return nil, fmt.Errorf("decoding store request: %w", err)
		}
		return nil, dockerStore(cfg, &creds)
	case "erase":
		return nil, dockerErase(cfg, strings.TrimSpace(string(body)))
	case "list":
		return dockerList(cfg)
	default:
		return nil, fmt.Errorf("unsupported docker credential op %q", op)
	}
}

func dockerGet(cfg *dockerCredConfig, registry string) ([]byte, error) {
	if helper := cfg.helperFor(registry); helper != "" {
		creds, err := client.Get(client.NewShellProgramFunc("docker-credential-"+helper), registry)
		if err == nil {
			return json.Marshal(credentials.Credentials{
				ServerURL: registry,
				Username:  creds.Username,
				Secret:    creds.Secret,
			})
		}
		if !credentials.IsErrCredentialsNotFound(err) {
			return nil, fmt.Errorf("resolving credentials via %s: %w", helper, err)
		}
	}

	if entry, ok := cfg.Auths[registry]; ok && entry.Auth != "" {
		decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
		if err == nil {
			if user, pass, ok := strings.Cut(string(decoded), ":"); ok {
				return json.Marshal(credentials.Credentials{ServerURL: registry, Username: user, Secret: pass})
			}
		}
	}

	return nil, credentials.NewErrCredentialsNotFound()
}

func dockerStore(cfg *dockerCredConfig, creds *credentials.Credentials) error {
	helper := cfg.helperFor(creds.ServerURL)
	if helper == "" {
		return fmt.Errorf("no credential helper configured for %s", creds.ServerURL)
	}
	return client.Store(client.NewShellProgramFunc("docker-credential-"+helper), creds)
}

func dockerErase(cfg *dockerCredConfig, registry string) error {
	helper := cfg.helperFor(registry)
	if helper == "" {
		return fmt.Errorf("no credential helper configured for %s", registry)
	}
	return client.Erase(client.NewShellProgramFunc("docker-credential-"+helper), registry)
}

func dockerList(cfg *dockerCredConfig) ([]byte, error) {
	helpers := map[string]bool{}
	if cfg.CredsStore != "" {
		helpers[cfg.CredsStore] = true
	}
	for _, h := range cfg.CredHelpers {
		helpers[h] = true
	}

	result := make(map[string]string)
	for helper := range helpers {
		out, err := client.List(client.NewShellProgramFunc("docker-credential-" + helper))
		if err != nil {
			continue
		}
		for k, v := range out {
			result[k] = v
		}
	}
	return json.Marshal(result)
}
