package tools

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	portScanTimeout     = 2 * time.Second
	portScanConcurrency = 64
	portScanMaxPorts    = 4096
)

// NewPortScanTool creates the port_scan tool: a plain TCP connect scan.
// Read-only against the target and independent of the console, so it carries
// no mutex key and runs freely in parallel with other tools.
func NewPortScanTool() *Tool {
	return &Tool{
		Name:        "port_scan",
		DisplayName: "Port Scan",
		Description: "TCP connect scan against a host. Reports which of the requested ports accept connections.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"host": map[string]interface{}{
					"type":        "string",
					"description": "Target hostname or IP address",
				},
				"ports": map[string]interface{}{
					"type":        "string",
					"description": "Ports to scan: comma-separated values and ranges, e.g. '22,80,443,8000-8100'. Defaults to the top ports 1-1024.",
				},
			},
			"required": []string{"host"},
		},
		Execute: executePortScan,
	}
}

func executePortScan(ctx context.Context, req Request) (string, error) {
	host, ok := req.Args["host"].(string)
	if !ok || strings.TrimSpace(host) == "" {
		return "", fmt.Errorf("host argument is required")
	}
	host = strings.TrimSpace(host)

	spec := "1-1024"
	if p, ok := req.Args["ports"].(string); ok && strings.TrimSpace(p) != "" {
		spec = p
	}
	ports, err := ParsePortSpec(spec)
	if err != nil {
		return "", err
	}

	open := scanPorts(ctx, host, ports)
	if len(open) == 0 {
		return fmt.Sprintf("No open TCP ports found on %s (%d ports checked)", host, len(ports)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Open TCP ports on %s (%d of %d checked):\n", host, len(open), len(ports))
	for _, p := range open {
		fmt.Fprintf(&b, "- %d/tcp open\n", p)
	}
	return b.String(), nil
}

func scanPorts(ctx context.Context, host string, ports []int) []int {
	var (
		mu   sync.Mutex
		open []int
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, portScanConcurrency)
	dialer := net.Dialer{Timeout: portScanTimeout}

	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(p int) {
			defer wg.Done()
			defer func() { <-sem }()
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p)))
			if err != nil {
				return
			}
			conn.Close()
			mu.Lock()
			open = append(open, p)
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	sort.Ints(open)
	return open
}

// ParsePortSpec expands a comma-separated list of ports and ranges.
func ParsePortSpec(spec string) ([]int, error) {
	seen := make(map[int]bool)
	var ports []int

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if idx := strings.Index(part, "-"); idx > 0 {
			lo, hi = part[:idx], part[idx+1:]
		}
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		if start < 1 || end > 65535 || end < start {
			return nil, fmt.Errorf("port range %q out of bounds", part)
		}
		for p := start; p <= end; p++ {
			if !seen[p] {
				seen[p] = true
				ports = append(ports, p)
			}
			if len(ports) > portScanMaxPorts {
				return nil, fmt.Errorf("port spec expands to more than %d ports", portScanMaxPorts)
			}
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("port spec %q is empty", spec)
	}
	sort.Ints(ports)
	return ports, nil
}
