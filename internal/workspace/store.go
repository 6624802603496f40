package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	workspaceConfigFile = "workspace.json"
	workspaceResultFile = "result.json"
)

// ErrWorkspaceNotFound is returned when a workspace does not exist in the store.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Store manages workspace state on disk at a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a Store at the default location (~/.devc/workspaces).
// The DEVC_HOME env var overrides the base directory: $DEVC_HOME/workspaces.
func NewStore() (*Store, error) {
	var baseDir string
	if devcHome := os.Getenv("DEVC_HOME"); devcHome != "" {
		baseDir = filepath.Join(devcHome, "workspaces")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".devc", "workspaces")
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspaces directory: %w", err)
	}

	return &Store{baseDir: baseDir}, nil
}

// NewStoreAt creates a Store with a custom base directory. Useful for testing.
func NewStoreAt(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the store's root directory. The workspace lock (§4.3)
// places its lock file alongside workspace state, under this directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// writeAtomic writes data to path by first writing to a sibling temp file
// and renaming it into place, so a reader never observes a partial file.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// readQuarantined reads and unmarshals a JSON file into out. If the file is
// present but fails to parse, it is renamed to "<path>.corrupt" and the
// call reports (false, nil) rather than erroring out, so a corrupt state
// file degrades to "not found" instead of blocking every future operation.
func readQuarantined(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		_ = os.Rename(path, path+".corrupt")
		return false, nil
	}
	return true, nil
}

// Save writes a workspace config to disk atomically.
func (s *Store) Save(ws *Workspace) error {
	dir := s.workspaceDir(ws.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating workspace directory: %w", err)
	}

	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling workspace: %w", err)
	}

	path := filepath.Join(dir, workspaceConfigFile)
	if err := writeAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing workspace config: %w", err)
	}

	return nil
}

// Load reads a workspace config from disk. A corrupt file is quarantined
// and reported as ErrWorkspaceNotFound rather than a hard failure.
func (s *Store) Load(id string) (*Workspace, error) {
	path := filepath.Join(s.workspaceDir(id), workspaceConfigFile)

	var ws Workspace
	ok, err := readQuarantined(path, &ws)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	return &ws, nil
}

// Delete removes a workspace directory from disk.
func (s *Store) Delete(id string) error {
	dir := s.workspaceDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	return nil
}

// List returns all known workspace IDs.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// Only include directories that contain a workspace.json.
		path := filepath.Join(s.baseDir, entry.Name(), workspaceConfigFile)
		if _, err := os.Stat(path); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Exists checks if a workspace exists on disk.
func (s *Store) Exists(id string) bool {
	path := filepath.Join(s.workspaceDir(id), workspaceConfigFile)
	_, err := os.Stat(path)
	return err == nil
}

// SaveResult writes a build result to disk atomically.
func (s *Store) SaveResult(id string, result *Result) error {
	dir := s.workspaceDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating workspace directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	path := filepath.Join(dir, workspaceResultFile)
	if err := writeAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}

	return nil
}

// LoadResult reads a build result from disk. Returns nil, nil if not found
// or if the file is corrupt (quarantined as a side effect).
func (s *Store) LoadResult(id string) (*Result, error) {
	path := filepath.Join(s.workspaceDir(id), workspaceResultFile)

	var result Result
	ok, err := readQuarantined(path, &result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &result, nil
}

func (s *Store) workspaceDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// WorkspaceDir returns the host directory where per-workspace state (lock
// files, staged plugin data, cached results) is kept for the given id.
func (s *Store) WorkspaceDir(id string) string {
	return s.workspaceDir(id)
}
