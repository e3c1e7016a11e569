// Package config loads the runtime's key=value configuration surface
// with three-tier precedence: built-in defaults, an optional YAML file
// (config=path.yaml), then key=value command-line overrides, which win.
// See spec.md section 6 for the recognized keys; SPEC_FULL.md section 9
// for the precedence order and the additive expansion keys.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every key=value option recognized by cmd/jm and cmd/tm.
// Not every field applies to both binaries; cmd/jm and cmd/tm each read
// only the fields relevant to their role.
type Config struct {
	KillTMs bool   `yaml:"killtms"`
	Log     string `yaml:"log"`

	ConnectTimeout time.Duration `yaml:"ctimeout"`
	ReadTimeout    time.Duration `yaml:"rtimeout"`
	WriteTimeout   time.Duration `yaml:"stimeout"`
	SendBackoff    time.Duration `yaml:"sbackoff"`
	RecvBackoff    time.Duration `yaml:"rbackoff"`

	TMMode   string `yaml:"tmmode"`
	TMAddr   string `yaml:"tmaddr"`
	TMPort   int    `yaml:"tmport"`
	Workers  int    `yaml:"nw"`
	Overfill int    `yaml:"overfill"`
	Announce string `yaml:"announce"`

	// Metrics, Config, and MaxPayload are additive keys beyond
	// spec.md's flat surface (SPEC_FULL.md section 6.4).
	Metrics    string `yaml:"metrics"`
	MaxPayload int64  `yaml:"maxpayload"`

	// NodesFile is not itself a recognized key; it is always
	// "nodes.txt" per spec.md section 4.5.
	NodesFile string `yaml:"-"`
}

// Defaults returns the built-in defaults, before any YAML file or
// key=value override is applied. Timeouts and backoffs are expressed
// in seconds on the wire surface but held here as time.Duration.
func Defaults() Config {
	return Config{
		KillTMs: true,

		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		SendBackoff:    1 * time.Second,
		RecvBackoff:    1 * time.Second,

		TMMode:   "tcp",
		TMAddr:   "0.0.0.0",
		TMPort:   0,
		Workers:  0,
		Overfill: 0,
		Announce: "none",

		MaxPayload: 64 * 1024 * 1024,
		NodesFile:  "nodes.txt",
	}
}

// Load computes a Config by layering, in increasing precedence: the
// built-in Defaults, an optional YAML file named by a "config=" token,
// and finally the key=value tokens themselves. Before that it loads an
// optional .env file into the process environment with godotenv, as
// weather-server does; Load itself reads no environment variable.
//
// tokens is the list of "key=value" strings scanned from argv by
// cmd/jm's and cmd/tm's args.go, in order of appearance.
func Load(tokens []string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path, ok := findKey(tokens, "config"); ok {
		if err := applyYAMLFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	for _, tok := range tokens {
		key, value, err := splitToken(tok)
		if err != nil {
			return Config{}, err
		}
		if err := applyKey(&cfg, key, value); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", tok, err)
		}
	}

	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func findKey(tokens []string, key string) (string, bool) {
	for _, tok := range tokens {
		k, v, err := splitToken(tok)
		if err == nil && k == key {
			return v, true
		}
	}
	return "", false
}

func splitToken(tok string) (key, value string, err error) {
	for i := 0; i < len(tok); i++ {
		if tok[i] == '=' {
			return tok[:i], tok[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("expected key=value, got %q", tok)
}

func applyKey(cfg *Config, key, value string) error {
	switch key {
	case "killtms":
		return parseBool(value, &cfg.KillTMs)
	case "log":
		cfg.Log = value
	case "ctimeout":
		return parseSeconds(value, &cfg.ConnectTimeout)
	case "rtimeout":
		return parseSeconds(value, &cfg.ReadTimeout)
	case "stimeout":
		return parseSeconds(value, &cfg.WriteTimeout)
	case "sbackoff":
		return parseSeconds(value, &cfg.SendBackoff)
	case "rbackoff":
		return parseSeconds(value, &cfg.RecvBackoff)
	case "tmmode":
		cfg.TMMode = value
	case "tmaddr":
		cfg.TMAddr = value
	case "tmport":
		return parseInt(value, &cfg.TMPort)
	case "nw":
		return parseInt(value, &cfg.Workers)
	case "overfill":
		return parseInt(value, &cfg.Overfill)
	case "announce":
		cfg.Announce = value
	case "metrics":
		cfg.Metrics = value
	case "maxpayload":
		return parseInt64(value, &cfg.MaxPayload)
	case "config":
		// already consumed by Load before the override pass.
	default:
		return fmt.Errorf("unrecognized key %q", key)
	}
	return nil
}

func parseBool(s string, dst *bool) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("expected bool, got %q", s)
	}
	*dst = v
	return nil
}

func parseInt(s string, dst *int) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", s)
	}
	*dst = v
	return nil
}

func parseInt64(s string, dst *int64) error {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", s)
	}
	*dst = v
	return nil
}

func parseSeconds(s string, dst *time.Duration) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected seconds, got %q", s)
	}
	*dst = time.Duration(v * float64(time.Second))
	return nil
}
