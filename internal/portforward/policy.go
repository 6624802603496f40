package portforward

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"
)

// AutoForwardPolicy governs what happens when a port is newly discovered
// and forwarded.
type AutoForwardPolicy string

const (
	PolicyNotify      AutoForwardPolicy = "notify"
	PolicyOpenBrowser AutoForwardPolicy = "openBrowser"
	PolicyIgnore      AutoForwardPolicy = "ignore"
	PolicySilent      AutoForwardPolicy = "silent"
)

// ResolvePolicy returns the effective auto-forward policy for a port:
// a per-port attribute, when set, always wins over the global default.
func ResolvePolicy(perPort, global string) AutoForwardPolicy {
	if perPort != "" {
		return AutoForwardPolicy(perPort)
	}
	if global != "" {
		return AutoForwardPolicy(global)
	}
	return PolicyNotify
}

// browserOpener tracks which (containerID, port) pairs have already had
// their browser opened, so openBrowser only fires once per pair even
// across repeated port re-discovery.
type browserOpener struct {
	mu     sync.Mutex
	opened map[string]bool
}

var defaultOpener = &browserOpener{opened: make(map[string]bool)}

// MaybeOpenBrowser opens the OS URL handler on http(s)://localhost:<port>
// for a newly forwarded port under the openBrowser policy, but only once
// per (containerID, port) pair.
func MaybeOpenBrowser(containerID string, port int, https bool) error {
	key := fmt.Sprintf("%s/%d", containerID, port)

	defaultOpener.mu.Lock()
	if defaultOpener.opened[key] {
		defaultOpener.mu.Unlock()
		return nil
	}
	defaultOpener.opened[key] = true
	defaultOpener.mu.Unlock()

	scheme := "http"
	if https {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://localhost:%d", scheme, port)

	return openURL(url)
}

// openURL shells out to the platform's URL opener.
func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/C", "start", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
