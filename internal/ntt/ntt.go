// Package ntt binds the native-token-transfer manager program's owner-scoped
// instruction surface: ownership transfer/claim and rate-limit / pause
// parameter updates. The rate-limit semantics themselves are opaque here;
// limits are passed through as native-precision integers.
package ntt

import (
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
)

// BPFLoaderUpgradeableProgramID owns upgradeable program accounts and their
// program-data records.
var BPFLoaderUpgradeableProgramID = solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

// ChainID is a Wormhole chain identifier.
type ChainID uint16

var chainIDs = map[string]ChainID{
	"Solana":          1,
	"Ethereum":        2,
	"Bsc":             4,
	"Polygon":         5,
	"Avalanche":       6,
	"Optimism":        24,
	"Arbitrum":        23,
	"Base":            30,
	"Sepolia":         10002,
	"ArbitrumSepolia": 10003,
	"BaseSepolia":     10004,
	"OptimismSepolia": 10005,
}

// ChainIDByName resolves a chain name to its wire identifier.
func ChainIDByName(name string) (ChainID, error) {
	if id, ok := chainIDs[name]; ok {
		return id, nil
	}
	known := make([]string, 0, len(chainIDs))
	for k := range chainIDs {
		known = append(known, k)
	}
	sort.Strings(known)
	return 0, fmt.Errorf("unknown chain %q (known: %v)", name, known)
}
