package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// LoadKeypair reads a signing keypair from the operator's secret file. Both
// common formats are accepted: the solana-keygen JSON byte array and a bare
// base58-encoded private key.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("parse keypair %s: %w", path, err)
		}
		if len(key) != 64 {
			return nil, fmt.Errorf("keypair %s has %d bytes, want 64", path, len(key))
		}
		return key, nil
	}

	raw, err := base58.Decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse keypair %s as base58: %w", path, err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("keypair %s has %d bytes, want 64", path, len(raw))
	}
	return solana.PrivateKey(raw), nil
}
