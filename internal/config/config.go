package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Peer identifies a seed node in the cluster.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration with YAML support for values like "3s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the agent configuration.
type Config struct {
	NodeID         string   `yaml:"node_id"`
	ListenAddr     string   `yaml:"listen_addr"`
	AdvertiseAddr  string   `yaml:"advertise_addr"`
	Seeds          []Peer   `yaml:"seeds"`
	DataDir        string   `yaml:"data_dir"`
	Bootstrap      bool     `yaml:"bootstrap"`
	ProbeInterval  Duration `yaml:"probe_interval"`
	SuspectTimeout Duration `yaml:"suspect_timeout"`
	DeadTimeout    Duration `yaml:"dead_timeout"`
	Fanout         int      `yaml:"fanout"`
	MaxSyncBatch   int      `yaml:"max_sync_batch"`
	VNodes         int      `yaml:"vnodes"`
	LogLevel       string   `yaml:"log_level"`
}

// Default returns a configuration with usable defaults. The node ID is
// randomly generated; production deployments should pin it so the
// identity survives restarts.
func Default() Config {
	return Config{
		NodeID:         uuid.NewString(),
		ListenAddr:     ":7946",
		ProbeInterval:  Duration(1 * time.Second),
		SuspectTimeout: Duration(3 * time.Second),
		DeadTimeout:    Duration(10 * time.Second),
		Fanout:         3,
		MaxSyncBatch:   256,
		VNodes:         128,
		LogLevel:       "info",
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies and fills
// derived fields.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id cannot be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.AdvertiseAddr == "" {
		c.AdvertiseAddr = c.ListenAddr
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive")
	}
	if c.SuspectTimeout.Std() <= c.ProbeInterval.Std() {
		return fmt.Errorf("suspect_timeout must exceed probe_interval")
	}
	if c.DeadTimeout.Std() <= c.SuspectTimeout.Std() {
		return fmt.Errorf("dead_timeout must exceed suspect_timeout")
	}
	if c.Fanout <= 0 {
		c.Fanout = 3
	}
	for _, seed := range c.Seeds {
		if seed.ID == "" || seed.Addr == "" {
			return fmt.Errorf("seed ID and address cannot be empty: %+v", seed)
		}
	}
	return nil
}

// ParsePeers parses a comma-separated list of peers in the format
// "id1=addr1,id2=addr2".
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{ID: id, Addr: addr})
	}

	return peers, nil
}

// SeedIDs returns the IDs of all configured seeds.
func (c *Config) SeedIDs() []string {
	out := make([]string, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		out = append(out, s.ID)
	}
	return out
}
