// Package config loads the operator-facing tool configuration and signing key
// material.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the tool's YAML configuration. Every field has a devnet-friendly
// default so a bare file works end to end.
type Config struct {
	RPCURL     string `yaml:"rpc_url"`
	WSURL      string `yaml:"ws_url"`
	Commitment string `yaml:"commitment"`

	// SquadsProgram overrides the canonical squads deployment when set.
	SquadsProgram string `yaml:"squads_program"`
	// NTTManager is the token's manager program id.
	NTTManager string `yaml:"ntt_manager"`
	// ExpectedVault, when set, is checked against the derived vault 0 before
	// any authority handoff proceeds.
	ExpectedVault string `yaml:"expected_vault"`

	// TokenDecimals is the resource's native decimal precision.
	TokenDecimals int32 `yaml:"token_decimals"`
	// PeerChain is the source chain for inbound limit updates.
	PeerChain string `yaml:"peer_chain"`

	// SendTxn gates submission; false means dry run (serialize and print).
	SendTxn bool `yaml:"send_txn"`

	KeypairPath string `yaml:"keypair_path"`
	HandlePath  string `yaml:"handle_path"`
	JournalPath string `yaml:"journal_path"`
	ListenAddr  string `yaml:"listen_addr"`
}

func defaults() Config {
	return Config{
		RPCURL:        "https://api.devnet.solana.com",
		WSURL:         "wss://api.devnet.solana.com",
		Commitment:    "confirmed",
		TokenDecimals: 9,
		PeerChain:     "Sepolia",
		SendTxn:       true,
		KeypairPath:   "config/keys.json",
		HandlePath:    "config/multisig-info.json",
		JournalPath:   "config/proposals.db",
		ListenAddr:    ":8080",
	}
}

// Load reads the YAML file over the defaults. A missing file yields pure
// defaults only when allowMissing is set.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
