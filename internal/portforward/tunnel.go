package portforward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/devc-org/devc/internal/driver"
	"golang.org/x/sync/errgroup"
)

// ErrNoPackageManager is returned when none of the known package managers
// are present in the container to install socat.
var ErrNoPackageManager = errors.New("no supported package manager found to install socat")

// packageManagers lists install commands tried, in order, to bring socat
// onto a container that's missing it.
var packageManagers = []struct {
	probe, install string
}{
	{"apt-get", "apt-get update && apt-get install -y socat"},
	{"apk", "apk add --no-cache socat"},
	{"dnf", "dnf install -y socat"},
	{"yum", "yum install -y socat"},
	{"pacman", "pacman -Sy --noconfirm socat"},
}

// reapGrace is how long a tunnel's socat process is given to exit after
// SIGTERM before it's sent SIGKILL.
const reapGrace = 2 * time.Second

// Tunnel is a running host-side socat process forwarding a host port to a
// container port via the runtime's exec command.
type Tunnel struct {
	WorkspaceID   string
	ContainerPort int
	HostPort      int
	cmd           *exec.Cmd
	done          chan struct{}
}

// Manager spawns and reaps port tunnels for containers reached through a
// single container runtime binary (docker or podman).
type Manager struct {
	runtimeCmd    string
	toolboxPrefix []string
	logger        *slog.Logger
	stateDir      string // holds one <workspaceID>.json PID sidecar per workspace

	mu      sync.Mutex
	tunnels map[string][]*Tunnel // keyed by workspace ID
}

// NewManager creates a Manager that forwards to containers via runtimeCmd
// (e.g. "docker" or "podman"), optionally bridged through toolboxPrefix
// (e.g. ["flatpak-spawn", "--host"] when running inside a Toolbox container).
// stateDir, when non-empty, is where each workspace's running tunnel PIDs
// are recorded so a later, separate devc process (e.g. "devc stop" run
// after the "devc up" that started the tunnels has already exited) can
// still find and reap them; pass "" to keep tunnels reapable only within
// the process that started them.
func NewManager(runtimeCmd string, toolboxPrefix []string, stateDir string, logger *slog.Logger) *Manager {
	return &Manager{
		runtimeCmd:    runtimeCmd,
		toolboxPrefix: toolboxPrefix,
		stateDir:      stateDir,
		logger:        logger,
		tunnels:       make(map[string][]*Tunnel),
	}
}

// persistedTunnel is one entry of a workspace's PID sidecar file.
type persistedTunnel struct {
	PID      int `json:"pid"`
	HostPort int `json:"hostPort"`
}

func (m *Manager) stateFile(workspaceID string) string {
	if m.stateDir == "" {
		return ""
	}
	return filepath.Join(m.stateDir, workspaceID+".json")
}

// persist snapshots the in-memory tunnel list for workspaceID to its PID
// sidecar file. Best-effort: failures are logged, never fatal, since the
// in-process tunnel map still works for reaping within this same process.
func (m *Manager) persist(workspaceID string) {
	path := m.stateFile(workspaceID)
	if path == "" {
		return
	}

	m.mu.Lock()
	tunnels := m.tunnels[workspaceID]
	entries := make([]persistedTunnel, 0, len(tunnels))
	for _, t := range tunnels {
		if t.cmd.Process != nil {
			entries = append(entries, persistedTunnel{PID: t.cmd.Process.Pid, HostPort: t.HostPort})
		}
	}
	m.mu.Unlock()

	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		m.logger.Debug("failed to create port-forward state dir", "error", err)
		return
	}
	data, err := json.Marshal(entries)
	if err != nil {
		m.logger.Debug("failed to encode port-forward state", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logger.Debug("failed to write port-forward state", "error", err)
	}
}

// reapPersisted signals every PID recorded in workspaceID's sidecar file
// (SIGTERM, then SIGKILL after reapGrace), then removes the file. This is
// what lets a later, separate devc invocation reap tunnels whose spawning
// process already exited.
func (m *Manager) reapPersisted(workspaceID string) {
	path := m.stateFile(workspaceID)
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var entries []persistedTunnel
	if err := json.Unmarshal(data, &entries); err != nil {
		os.Remove(path)
		return
	}

	alive := make([]*os.Process, 0, len(entries))
	for _, e := range entries {
		proc, err := os.FindProcess(e.PID)
		if err != nil {
			continue
		}
		if proc.Signal(syscall.Signal(0)) != nil {
			continue // already gone
		}
		_ = proc.Signal(syscall.SIGTERM)
		alive = append(alive, proc)
	}
	if len(alive) > 0 {
		time.Sleep(reapGrace)
		for _, proc := range alive {
			_ = proc.Signal(syscall.SIGKILL)
		}
	}
	os.Remove(path)
}

// commandExists execs "command -v <name>" inside the container.
func commandExists(ctx context.Context, d driver.Driver, workspaceID, containerID, name string) bool {
	cmd := []string{"sh", "-c", "command -v " + name}
	return d.ExecContainer(ctx, workspaceID, containerID, cmd, nil, io.Discard, io.Discard, nil, "") == nil
}

// EnsureSocat checks whether socat is present in the container and, if not,
// attempts a best-effort install via whichever package manager is found
// first. Returns ErrNoPackageManager if none of the known managers exist;
// callers should treat any error here as non-fatal and downgrade the
// affected port to advisory-only.
func EnsureSocat(ctx context.Context, d driver.Driver, workspaceID, containerID string) error {
	if commandExists(ctx, d, workspaceID, containerID, "socat") {
		return nil
	}

	for _, pm := range packageManagers {
		if !commandExists(ctx, d, workspaceID, containerID, pm.probe) {
			continue
		}
		installCmd := []string{"sh", "-c", pm.install}
		if err := d.ExecContainer(ctx, workspaceID, containerID, installCmd, nil, io.Discard, io.Discard, nil, "root"); err != nil {
			return fmt.Errorf("installing socat via %s: %w", pm.probe, err)
		}
		if commandExists(ctx, d, workspaceID, containerID, "socat") {
			return nil
		}
		return fmt.Errorf("socat install via %s reported success but binary still not found", pm.probe)
	}

	return ErrNoPackageManager
}

// reserveHostPort tries to bind preferred; on collision it binds an
// OS-assigned ephemeral port instead. The listener is closed immediately —
// socat does its own listening — so there's a narrow window for another
// process to steal the port before socat binds it.
func reserveHostPort(preferred int) (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(preferred))
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return 0, fmt.Errorf("reserving ephemeral host port: %w", err)
		}
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port, nil
}

// execAddress builds the socat EXEC: address's inner command — the runtime
// invocation that, once forked by socat, bridges stdio to the container's
// own socat listening on containerPort. Colons in the nested TCP address
// are backslash-escaped since socat's address grammar uses ':' as a field
// separator.
func (m *Manager) execAddress(containerID string, containerPort int) string {
	parts := make([]string, 0, len(m.toolboxPrefix)+6)
	parts = append(parts, m.toolboxPrefix...)
	parts = append(parts, m.runtimeCmd, "exec", "-i", containerID,
		"socat", "-", fmt.Sprintf(`TCP\:127.0.0.1\:%d`, containerPort))
	return strings.Join(parts, " ")
}

// StartTunnel spawns a host socat listening on preferredHostPort (or an
// ephemeral port on collision) that forwards each connection through the
// runtime's exec into the container's own socat on containerPort.
func (m *Manager) StartTunnel(ctx context.Context, workspaceID, containerID string, preferredHostPort, containerPort int) (*Tunnel, error) {
	hostPort, err := reserveHostPort(preferredHostPort)
	if err != nil {
		return nil, err
	}

	listenAddr := fmt.Sprintf("TCP-LISTEN:%d,reuseaddr,fork", hostPort)
	execAddr := "EXEC:" + m.execAddress(containerID, containerPort)

	cmd := exec.Command("socat", listenAddr, execAddr)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning socat tunnel: %w", err)
	}

	t := &Tunnel{
		WorkspaceID:   workspaceID,
		ContainerPort: containerPort,
		HostPort:      hostPort,
		cmd:           cmd,
		done:          make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			m.logger.Debug("socat tunnel exited", "workspace", workspaceID, "hostPort", hostPort, "error", err, "stderr", stderr.String())
		}
		close(t.done)
	}()

	m.mu.Lock()
	m.tunnels[workspaceID] = append(m.tunnels[workspaceID], t)
	m.mu.Unlock()
	m.persist(workspaceID)

	return t, nil
}

// IsRunning reports whether the tunnel's socat process is still alive.
func (t *Tunnel) IsRunning() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// stop sends SIGTERM, then SIGKILL after reapGrace if the process hasn't
// exited.
func (t *Tunnel) stop() {
	if t.cmd.Process == nil {
		return
	}
	_ = t.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-t.done:
		return
	case <-time.After(reapGrace):
		_ = t.cmd.Process.Kill()
		<-t.done
	}
}

// StopAll reaps every tunnel tracked for workspaceID, sending SIGTERM then
// SIGKILL (after reapGrace) in parallel via errgroup. It also reaps any
// tunnels recorded in the PID sidecar file that this process did not itself
// start — tunnels spawned by an earlier, now-exited "devc up" invocation.
func (m *Manager) StopAll(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	tunnels := m.tunnels[workspaceID]
	delete(m.tunnels, workspaceID)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, t := range tunnels {
		t := t
		g.Go(func() error {
			t.stop()
			return nil
		})
	}
	g.Go(func() error {
		m.reapPersisted(workspaceID)
		return nil
	})
	return g.Wait()
}

