package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/devc-org/devc/internal/compose"
	"github.com/devc-org/devc/internal/driver"
	"github.com/spf13/cobra"
)

// formatPorts renders port bindings as "hostPort->containerPort/protocol",
// sorted by host port ascending and comma-joined.
func formatPorts(ports []driver.PortBinding) string {
	if len(ports) == 0 {
		return ""
	}
	sorted := make([]driver.PortBinding, len(ports))
	copy(sorted, ports)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].HostPort < sorted[j].HostPort })

	parts := make([]string, len(sorted))
	for i, p := range sorted {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		parts[i] = fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, proto)
	}
	return strings.Join(parts, ", ")
}

// formatComposePorts renders compose service port bindings the same way as
// formatPorts.
func formatComposePorts(ports []compose.PortBinding) string {
	if len(ports) == 0 {
		return ""
	}
	sorted := make([]compose.PortBinding, len(ports))
	copy(sorted, ports)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].HostPort < sorted[j].HostPort })

	parts := make([]string, len(sorted))
	for i, p := range sorted {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		parts[i] = fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, proto)
	}
	return strings.Join(parts, ", ")
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"ps"},
	Short:   "Show the status of the current workspace container",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()

		eng, _, store, err := newEngine()
		if err != nil {
			return err
		}

		ws, err := currentWorkspace(store, false)
		if err != nil {
			return err
		}

		container, err := eng.Status(cmd.Context(), ws)
		if err != nil {
			return err
		}

		u.Keyval("workspace", ws.ID)
		u.Keyval("source", ws.Source)

		if container == nil {
			u.Keyval("status", u.StatusColor("no container"))
			return nil
		}

		u.Keyval("container", shortID(container.ID))
		u.Keyval("status", u.StatusColor(container.State.Status))
		if ports := formatPorts(container.Ports); ports != "" {
			u.Keyval("ports", ports)
		}
		return nil
	},
}
