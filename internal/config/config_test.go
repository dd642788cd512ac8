package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single", "n1=127.0.0.1:7001", 1, false},
		{"multiple", "n1=127.0.0.1:7001,n2=127.0.0.1:7002", 2, false},
		{"spaces", " n1 = 127.0.0.1:7001 , n2 = 127.0.0.1:7002 ", 2, false},
		{"trailing comma", "n1=127.0.0.1:7001,", 1, false},
		{"missing addr", "n1", 0, true},
		{"empty id", "=127.0.0.1:7001", 0, true},
		{"empty addr", "n1=", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peers, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePeers(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && len(peers) != tt.want {
				t.Errorf("ParsePeers(%q) = %d peers, want %d", tt.input, len(peers), tt.want)
			}
		})
	}
}

func TestParsePeers_Fields(t *testing.T) {
	peers, err := ParsePeers("n1=127.0.0.1:7001")
	if err != nil {
		t.Fatalf("ParsePeers: %v", err)
	}
	if peers[0].ID != "n1" || peers[0].Addr != "127.0.0.1:7001" {
		t.Errorf("unexpected peer: %+v", peers[0])
	}
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.NodeID == "" {
		t.Error("default config should generate a node ID")
	}
	if cfg.AdvertiseAddr != cfg.ListenAddr {
		t.Error("advertise address should default to listen address")
	}
}

func TestValidate_Rejections(t *testing.T) {
	mutations := []struct {
		name string
		mut  func(*Config)
	}{
		{"empty node id", func(c *Config) { c.NodeID = "" }},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"zero probe interval", func(c *Config) { c.ProbeInterval = 0 }},
		{"suspect before probe", func(c *Config) { c.SuspectTimeout = c.ProbeInterval }},
		{"dead before suspect", func(c *Config) { c.DeadTimeout = c.SuspectTimeout }},
		{"incomplete seed", func(c *Config) { c.Seeds = []Peer{{ID: "x"}} }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memberd.yaml")

	raw := `
node_id: n1
listen_addr: ":7001"
bootstrap: true
probe_interval: 500ms
suspect_timeout: 2s
dead_timeout: 6s
seeds:
  - id: n2
    addr: "127.0.0.1:7002"
log_level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.NodeID != "n1" || !cfg.Bootstrap {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.ProbeInterval.Std() != 500*time.Millisecond {
		t.Errorf("probe_interval = %v", cfg.ProbeInterval.Std())
	}
	if len(cfg.Seeds) != 1 || cfg.Seeds[0].Addr != "127.0.0.1:7002" {
		t.Errorf("seeds = %+v", cfg.Seeds)
	}
	// Unset fields keep their defaults.
	if cfg.Fanout != 3 || cfg.VNodes != 128 {
		t.Errorf("defaults not preserved: %+v", cfg)
	}

	if got := cfg.SeedIDs(); len(got) != 1 || got[0] != "n2" {
		t.Errorf("SeedIDs = %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/memberd.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
