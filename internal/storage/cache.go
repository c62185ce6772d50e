package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// MultisigHandle is the small local record written after creating a squad and
// read by the later workflows. It is purely a handle cache; the ledger stays
// authoritative.
type MultisigHandle struct {
	MultisigPubkey    string `json:"multisigPubkey"`
	CreationSignature string `json:"creationSignature,omitempty"`
}

// Address parses the cached multisig pubkey.
func (h *MultisigHandle) Address() (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(h.MultisigPubkey)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("cached multisig pubkey %q: %w", h.MultisigPubkey, err)
	}
	return pk, nil
}

// SaveHandle writes the handle cache, pretty-printed for operator inspection.
func SaveHandle(path string, h MultisigHandle) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write multisig handle %s: %w", path, err)
	}
	return nil
}

// LoadHandle reads the handle cache.
func LoadHandle(path string) (*MultisigHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read multisig handle %s: %w", path, err)
	}
	var h MultisigHandle
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse multisig handle %s: %w", path, err)
	}
	if h.MultisigPubkey == "" {
		return nil, fmt.Errorf("multisig handle %s has no multisigPubkey", path)
	}
	return &h, nil
}
