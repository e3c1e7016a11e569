// Package discovery loads the task manager fleet from the
// line-oriented nodes.txt file, reloaded before every job-manager and
// committer pass. See spec.md section 4.5.
package discovery

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"spits/lib/core"
	"spits/lib/slog"
)

// ParseError describes a single malformed line. It does not abort
// parsing of the rest of the file.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("discovery: line %d: %s: %q", e.Line, e.Reason, e.Text)
}

type proxy struct {
	protocol string
	address  string
	port     string
}

// Parse reads nodes.txt content and returns the Fleet of simple (not
// proxied) nodes it describes. Malformed lines are skipped and reported
// as ParseErrors; proxied node lines are skipped and logged, not
// reported as errors. Neither aborts parsing of the rest of the file.
func Parse(r io.Reader, logger slog.Logger) (core.Fleet, []error) {
	fleet := make(core.Fleet)
	proxies := make(map[string]proxy)
	var errs []error

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "proxy"):
			name, p, err := parseProxyLine(line)
			if err != nil {
				errs = append(errs, &ParseError{Line: lineNo, Text: line, Reason: err.Error()})
				continue
			}
			proxies[name] = p
		case strings.HasPrefix(line, "node"):
			ep, skip, err := parseNodeLine(line, proxies)
			if err != nil {
				errs = append(errs, &ParseError{Line: lineNo, Text: line, Reason: err.Error()})
				continue
			}
			if skip {
				if logger != nil {
					logger.Info(&slog.LogRecord{Msg: "discovery: node behind a proxy is ignored", Details: line})
				}
				continue
			}
			fleet[ep.Name] = ep
		default:
			errs = append(errs, &ParseError{Line: lineNo, Text: line, Reason: "unrecognized line prefix"})
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}
	return fleet, errs
}

func parseProxyLine(line string) (string, proxy, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", proxy{}, fmt.Errorf("expected 'proxy <name> <protocol>:<address>:<port>'")
	}
	name := fields[1]
	gate := strings.Split(fields[2], ":")
	if len(gate) != 3 {
		return "", proxy{}, fmt.Errorf("expected protocol:address:port, got %q", fields[2])
	}
	return name, proxy{protocol: gate[0], address: gate[1], port: gate[2]}, nil
}

func parseNodeLine(line string, proxies map[string]proxy) (core.TMEndpoint, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return core.TMEndpoint{}, false, fmt.Errorf("expected 'node <host>:<port>'")
	}
	name := fields[1]
	host, port, err := splitHostPort(name)
	if err != nil {
		return core.TMEndpoint{}, false, err
	}

	switch len(fields) {
	case 2:
		return core.TMEndpoint{Name: name, Network: "tcp", Address: host + ":" + port}, false, nil
	case 4:
		if fields[2] != "through" {
			return core.TMEndpoint{}, false, fmt.Errorf("expected 'through <proxyname>'")
		}
		if _, ok := proxies[fields[3]]; !ok {
			return core.TMEndpoint{}, false, fmt.Errorf("unknown proxy %q", fields[3])
		}
		// Proxied nodes are recognized but out of scope: skip, don't error.
		return core.TMEndpoint{}, true, nil
	default:
		return core.TMEndpoint{}, false, fmt.Errorf("unrecognized node line shape")
	}
}

func splitHostPort(token string) (host, port string, err error) {
	idx := strings.LastIndex(token, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("expected host:port, got %q", token)
	}
	host, port = token[:idx], token[idx+1:]
	if host == "" || port == "" {
		return "", "", fmt.Errorf("expected host:port, got %q", token)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", fmt.Errorf("expected numeric port, got %q", port)
	}
	return host, port, nil
}

// Fleet holds the current, stickily-reloaded set of task manager
// endpoints.
//
// A Fleet is not safe for concurrent use: Reload replaces the held
// fleet without locking. In practice each of the job-manager and
// committer loops owns its own Fleet.
type Fleet struct {
	Path   string
	Logger slog.Logger

	current core.Fleet
}

// NewFleet returns a Fleet that loads from path on every Reload. An
// empty path defaults to "./nodes.txt".
func NewFleet(path string, logger slog.Logger) *Fleet {
	if path == "" {
		path = "nodes.txt"
	}
	return &Fleet{Path: path, Logger: logger, current: make(core.Fleet)}
}

// Reload re-reads the discovery file. A reload that yields an empty
// fleet (missing file, unreadable file, or a file with no valid node
// lines) is ignored: the previously held fleet is kept (stickiness).
// A reload that yields a non-empty fleet wholly replaces the prior one.
func (f *Fleet) Reload() core.Fleet {
	file, err := os.Open(f.Path)
	if err != nil {
		f.warnf("could not open discovery file, keeping previous fleet: %v", err)
		return f.current
	}
	defer file.Close()

	next, errs := Parse(file, f.Logger)
	for _, e := range errs {
		f.warnf("discovery parse error: %v", e)
	}
	if len(next) == 0 {
		f.warnf("reloaded discovery file is empty, keeping previous fleet of %d", len(f.current))
		return f.current
	}
	f.current = next
	return f.current
}

// Current returns the last successfully (non-empty) loaded fleet
// without reloading.
func (f *Fleet) Current() core.Fleet {
	return f.current
}

func (f *Fleet) warnf(format string, args ...any) {
	if f.Logger == nil {
		return
	}
	f.Logger.Warn(&slog.LogRecord{Msg: fmt.Sprintf(format, args...)})
}
