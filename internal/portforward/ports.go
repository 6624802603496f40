// Package portforward discovers listening ports inside a devcontainer and
// forwards them to the host via socat run through the container runtime's
// exec command, without requiring SSH or a published port at container
// creation time.
package portforward

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/devc-org/devc/internal/driver"
)

// DetectedPort describes a port found listening inside a container.
type DetectedPort struct {
	Port     uint16
	Protocol string
	Address  net.IP // decoded local bind address
	Loopback bool
}

// lowestInterestingPort is the threshold below which a listening port is
// ignored unless it is one of a small set of well-known ports developers
// commonly forward (ssh, http, https).
const lowestInterestingPort = 1024

var alwaysInteresting = map[uint16]bool{22: true, 80: true, 443: true}

// DetectPorts execs into the container and parses /proc/net/tcp{,6} for
// sockets in LISTEN state, returning the sorted, deduplicated port list.
// declaredPorts names ports explicitly listed in forwardPorts/appPort; a
// discovered port bound only to loopback is dropped unless it appears in
// declaredPorts, per the "don't surface every localhost-only daemon"
// discovery rule.
func DetectPorts(ctx context.Context, d driver.Driver, workspaceID, containerID string, declaredPorts map[uint16]bool) ([]DetectedPort, error) {
	var stdout bytes.Buffer
	cmd := []string{"/bin/sh", "-c", "cat /proc/net/tcp /proc/net/tcp6 2>/dev/null || true"}
	if err := d.ExecContainer(ctx, workspaceID, containerID, cmd, nil, &stdout, io.Discard, nil, "root"); err != nil {
		return nil, fmt.Errorf("exec port discovery: %w", err)
	}

	all := parseProcNetTCP(stdout.String())
	detected := make([]DetectedPort, 0, len(all))
	for _, p := range all {
		if p.Loopback && !declaredPorts[p.Port] {
			continue
		}
		detected = append(detected, p)
	}
	return detected, nil
}

// parseProcNetTCP extracts listening sockets from the contents of
// /proc/net/tcp or /proc/net/tcp6.
//
// Each data line looks like:
//
//	sl  local_address rem_address   st tx_queue rx_queue ...
//	 0: 00000000:0050 00000000:0000 0A 00000000:00000000 ...
//
// local_address is ADDR:PORT, ADDR a little-endian-per-word hex encoding of
// the bind address; st 0A means LISTEN. Ports below 1024 are dropped unless
// they're a well-known port devs commonly forward (22/80/443), to avoid
// flooding the list with system daemons.
func parseProcNetTCP(data string) []DetectedPort {
	seen := make(map[uint16]bool)
	var ports []DetectedPort

	lines := strings.Split(data, "\n")
	if len(lines) > 0 {
		lines = lines[1:] // skip header
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		if fields[3] != "0A" {
			continue
		}
		local := fields[1]
		idx := strings.Index(local, ":")
		if idx < 0 || idx+1 >= len(local) {
			continue
		}
		addrHex, portHex := local[:idx], local[idx+1:]

		portVal, err := strconv.ParseUint(portHex, 16, 16)
		if err != nil {
			continue
		}
		port := uint16(portVal)
		if port < lowestInterestingPort && !alwaysInteresting[port] {
			continue
		}
		if seen[port] {
			continue
		}
		seen[port] = true

		addr := decodeProcNetAddr(addrHex)
		ports = append(ports, DetectedPort{
			Port:     port,
			Protocol: "tcp",
			Address:  addr,
			Loopback: addr != nil && addr.IsLoopback(),
		})
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Port < ports[j].Port })
	return ports
}

// decodeProcNetAddr decodes a /proc/net/tcp{,6} ADDR hex field into a net.IP.
// The kernel prints each 32-bit word of the address in host byte order, so
// on every little-endian host (the only architectures devc targets) each
// 4-byte word must be reversed to recover network byte order.
func decodeProcNetAddr(hexAddr string) net.IP {
	if len(hexAddr) != 8 && len(hexAddr) != 32 {
		return nil
	}
	raw, err := hex.DecodeString(hexAddr)
	if err != nil {
		return nil
	}
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = raw[i+3], raw[i+2], raw[i+1], raw[i]
	}
	return net.IP(out)
}
