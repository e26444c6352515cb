// Package config loads and persists the per-user Harmonia configuration
// file. Grounded directly on the teacher's own internal/config/config.go
// idiom: a Config struct of sub-structs, Default/Load/Save/Ensure/Validate
// free functions, and a JSON file rewritten atomically on save.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Identity Identity     `json:"identity"`
	Tempo    TempoConfig  `json:"tempo"`
	Groups   GroupsConfig `json:"groups"`
	MIDI     MIDIConfig   `json:"midi"`
	HTTP     HTTPConfig   `json:"http"`
}

type Identity struct {
	Nickname string `json:"nickname"`
	DataDir  string `json:"data_dir"`
}

// TempoConfig configures the peer-to-peer tempo session (spec.md §4.2).
type TempoConfig struct {
	MulticastGroup string `json:"multicast_group"`
	Port           int    `json:"port"`
	DisableLink    bool   `json:"disable_link"`
}

// GroupsConfig configures the participatory group-start protocol
// (spec.md §4.3).
type GroupsConfig struct {
	MulticastGroup string  `json:"multicast_group"`
	Port           int     `json:"port"`
	Quantum        float64 `json:"quantum_beats"`
}

// MIDIConfig names the physical or virtual MIDI output port to open at
// startup; an empty value means the first available port.
type MIDIConfig struct {
	OutputPort string `json:"output_port"`
}

type HTTPConfig struct {
	Addr  string `json:"addr"`
	Debug bool   `json:"debug"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			Nickname: "",
			DataDir:  "data",
		},
		Tempo: TempoConfig{
			MulticastGroup: "224.76.78.75",
			Port:           20808,
			DisableLink:    false,
		},
		Groups: GroupsConfig{
			MulticastGroup: "224.76.78.75",
			Port:           20809,
			Quantum:        4,
		},
		MIDI: MIDIConfig{
			OutputPort: "",
		},
		HTTP: HTTPConfig{
			Addr:  "127.0.0.1:8787",
			Debug: false,
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.DataDir) == "" {
		return errors.New("identity.data_dir is required")
	}

	if err := validateMulticast(c.Tempo.MulticastGroup, c.Tempo.Port); err != nil {
		return fmt.Errorf("tempo: %w", err)
	}
	if err := validateMulticast(c.Groups.MulticastGroup, c.Groups.Port); err != nil {
		return fmt.Errorf("groups: %w", err)
	}
	if c.Tempo.Port == c.Groups.Port {
		return errors.New("tempo.port and groups.port must differ")
	}
	if c.Groups.Quantum <= 0 {
		return errors.New("groups.quantum_beats must be > 0")
	}

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}

	return nil
}

func validateMulticast(group string, port int) error {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("multicast_group %q is not a valid multicast address", group)
	}
	if port <= 0 || port > 65535 {
		return errors.New("port must be 1..65535")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(path, b)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

// writeFileAtomic writes via a temp file in the same directory followed by
// a rename, the same pattern used throughout this codebase for durable
// writes (see internal/storage/atomic.go) — duplicated here in miniature
// so this low-level package carries no dependency on internal/storage.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".harmonia-cfg-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
