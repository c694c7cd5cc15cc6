// Package config loads the YAML bring-up configuration that an
// external collaborator hands to a Node: link address, the slotframes
// to install, radio calibration, and lattice tuning (spec.md 9). It
// does not perform bring-up itself, only types and parses what
// bring-up code would consume, the way the teacher's config.go reads
// a text config into plain option structs before direwolf.go acts on
// them.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uwbmesh/tschcore/internal/addr"
)

// Slotframe describes one slotframe this node should install at
// bring-up (spec.md 4.4).
type Slotframe struct {
	Priority int `yaml:"priority"`
	Length   int `yaml:"length"`
}

// Config is the typed form of a node's bring-up YAML file.
type Config struct {
	// Self is this node's link address, hex-encoded (e.g. "0102030405060708").
	Self string `yaml:"self"`

	// Slotframes lists every slotframe to install on startup.
	Slotframes []Slotframe `yaml:"slotframes"`

	// AntennaDelayTicks calibrates the DW1000's fixed antenna delay out
	// of every TOA measurement (spec.md 4.6).
	AntennaDelayTicks int64 `yaml:"antenna_delay_ticks"`

	// LatticeR overrides location.LatticeR for this deployment's
	// physical spacing; zero means "use the package default."
	LatticeR float64 `yaml:"lattice_r"`

	// ForcedBeaconIndex pins this node's lattice index for test rigs
	// that need a deterministic topology rather than the normal
	// beacon-selection state machine (spec.md 4.6). -1 means unforced.
	ForcedBeaconIndex int `yaml:"forced_beacon_index"`

	// SSID is the network identifier advertised and scanned for
	// (spec.md 4.5).
	SSID string `yaml:"ssid"`

	// SnapshotPath, if non-empty, enables periodic neighbor-table
	// snapshots at this strftime-pattern path (internal/diag).
	SnapshotPath string `yaml:"snapshot_path"`

	// BridgeEnabled starts the host-facing pty bridge for this node
	// (internal/bridge) acting as a border router.
	BridgeEnabled bool `yaml:"bridge_enabled"`

	// DiscoveryEnabled announces this node's bridge service over
	// DNS-SD (internal/discovery), meaningful only with BridgeEnabled.
	DiscoveryEnabled bool `yaml:"discovery_enabled"`
}

// Load reads and parses a bring-up config from path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Config{ForcedBeaconIndex: -1}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// SelfAddr decodes Self into an addr.Addr.
func (c Config) SelfAddr() (addr.Addr, error) {
	b, err := hex.DecodeString(c.Self)
	if err != nil {
		return addr.Addr{}, fmt.Errorf("config: self %q is not hex: %w", c.Self, err)
	}
	if len(b) != addr.Len {
		return addr.Addr{}, fmt.Errorf("config: self %q must be %d hex bytes", c.Self, addr.Len)
	}
	return addr.FromBytes(b), nil
}
