package tm

import (
	"fmt"
	"net"
	"os"
)

// AnnounceMode selects how a task manager advertises its address.
type AnnounceMode string

const (
	AnnounceNone     AnnounceMode = "none"
	AnnounceCatNodes AnnounceMode = "cat_nodes"
)

// Announce appends "node <addr>\n" to nodesPath when mode is
// AnnounceCatNodes; it is a no-op otherwise. See spec.md section 4.2.
func Announce(mode AnnounceMode, nodesPath, addr string) error {
	if mode != AnnounceCatNodes {
		return nil
	}
	f, err := os.OpenFile(nodesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("tm: announce: open %s: %w", nodesPath, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "node %s\n", addr)
	if err != nil {
		return fmt.Errorf("tm: announce: write %s: %w", nodesPath, err)
	}
	return nil
}

// ResolveConnectableAddr rewrites addr's host to an externally reachable
// one when the bound host is unspecified (e.g. "0.0.0.0" or "::"),
// mirroring the original tm.py Listener's GetConnectableAddr: a task
// manager bound to every interface must still announce one address the
// rest of the fleet can actually dial. Addresses already bound to a
// specific host are returned unchanged.
func ResolveConnectableAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("tm: resolve connectable addr: %w", err)
	}
	if host != "" {
		if ip := net.ParseIP(host); ip == nil || !ip.IsUnspecified() {
			return addr, nil
		}
	}
	outbound, err := outboundAddr()
	if err != nil {
		return "", fmt.Errorf("tm: resolve connectable addr: %w", err)
	}
	return net.JoinHostPort(outbound, port), nil
}

// outboundAddr returns the local IP the OS would use to reach the
// public internet, without sending any packet (UDP dial only resolves
// routing).
func outboundAddr() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local addr type %T", conn.LocalAddr())
	}
	return local.IP.String(), nil
}
