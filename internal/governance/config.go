// Package governance holds node bootstrap configuration and the runtime
// tunable-parameter store, which schedules parameter changes carried by
// governance transactions to take effect after a latency window (§4.7).
package governance

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mesh mTLS. When nil or
// all paths empty, the mesh transport falls back to plain TCP/WS.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// SeedPeer identifies a remote node to dial on startup.
type SeedPeer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// GenesisConfig describes the chain's initial validator set and treasury.
type GenesisConfig struct {
	Validators []string `json:"validators"` // authorised proposer pubkey hexes
	Treasury   string   `json:"treasury"`   // pubkey hex credited with the genesis mint
}

// Config holds all node configuration (§6, ambient stack).
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	APIPort int    `json:"api_port"`
	P2PPort int    `json:"p2p_port"`

	Genesis   GenesisConfig `json:"genesis"`
	SeedPeers []SeedPeer    `json:"seed_peers,omitempty"`
	TLS       *TLSConfig    `json:"tls,omitempty"`

	// Consensus/ledger tunables (§4.7). Store.ApplyGovernanceTx can schedule
	// changes to them, but the node does not pass sealed governance
	// transactions to it, so at runtime they keep these configured values.
	MaxTxPerBlock          int     `json:"max_tx_per_block"`
	AuthorityLatencyBlocks int64   `json:"authority_latency_blocks"`
	DeliberationQuorum     float64 `json:"deliberation_quorum"`
	SafetyFloor            float64 `json:"safety_floor"`
	MaxRounds              int     `json:"max_rounds"`
	RoundTimeoutSeconds    int     `json:"round_timeout_seconds"`
	MintRewardPerDecision  uint64  `json:"mint_reward_per_decision"`

	// Thresholds holds the per-category approval threshold τ(category)
	// (§4.3): proposal category name -> τ. Missing categories fall back to
	// DefaultCategoryThreshold. Store.ApplyGovernanceTx accepts changes keyed
	// "threshold:<category>"; see the note on the tunables above.
	Thresholds map[string]float64 `json:"thresholds,omitempty"`

	// GenerativeProvider names the council's GenerativeCapability backend.
	// Only "mock" is implemented: any other value is logged at startup and
	// the mock backend is used. ProviderAPIKey is read from the
	// PROVIDER_API_KEY env var at startup and is never persisted to disk.
	GenerativeProvider string `json:"generative_provider"`
	ProviderAPIKey     string `json:"-"`
}

// DefaultCategoryThreshold names the category whose τ is used for any
// category not present in Thresholds, and for a proposal with no category.
const DefaultCategoryThreshold = "routine"

// DefaultThresholds is the §4.3 per-category approval threshold table.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		"routine":        0.50,
		"high_impact":    0.70,
		"constitutional": 0.85,
		"emergency":      0.60,
	}
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:                 "orbis0",
		DataDir:                "./data",
		APIPort:                6429,
		P2PPort:                30303,
		MaxTxPerBlock:          256,
		AuthorityLatencyBlocks: 10,
		DeliberationQuorum:     0.6,
		SafetyFloor:            0.2,
		MaxRounds:              3,
		RoundTimeoutSeconds:    30,
		MintRewardPerDecision:  10,
		Thresholds:             DefaultThresholds(),
		GenerativeProvider:     "mock",
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("api_port must be 1-65535, got %d", c.APIPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.APIPort == c.P2PPort {
		return fmt.Errorf("api_port and p2p_port must not be the same (%d)", c.APIPort)
	}
	if len(c.Genesis.Validators) == 0 {
		return fmt.Errorf("genesis.validators list must not be empty")
	}
	for i, v := range c.Genesis.Validators {
		b, err := hex.DecodeString(v)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("genesis.validators[%d]: must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, v)
		}
	}
	if c.Genesis.Treasury == "" {
		return fmt.Errorf("genesis.treasury must not be empty")
	}
	if c.DeliberationQuorum <= 0 || c.DeliberationQuorum > 1 {
		return fmt.Errorf("deliberation_quorum must be in (0, 1], got %f", c.DeliberationQuorum)
	}
	if c.SafetyFloor < 0 || c.SafetyFloor > 1 {
		return fmt.Errorf("safety_floor must be in [0, 1], got %f", c.SafetyFloor)
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("max_rounds must be positive, got %d", c.MaxRounds)
	}
	for category, tau := range c.Thresholds {
		if tau <= 0 || tau > 1 {
			return fmt.Errorf("thresholds[%s] must be in (0, 1], got %f", category, tau)
		}
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
