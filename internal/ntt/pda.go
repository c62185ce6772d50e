package ntt

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

func derive(seeds [][]byte, programID solana.PublicKey) solana.PublicKey {
	pda, _, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		panic(fmt.Sprintf("derive program address: %v", err))
	}
	return pda
}

// ConfigPDA is the manager's config account, whose owner field names the
// current authority.
func ConfigPDA(manager solana.PublicKey) solana.PublicKey {
	return derive([][]byte{[]byte("config")}, manager)
}

// OutboxRateLimitPDA is the outbound transfer ceiling record.
func OutboxRateLimitPDA(manager solana.PublicKey) solana.PublicKey {
	return derive([][]byte{[]byte("outbox_rate_limit")}, manager)
}

// InboxRateLimitPDA is the per-source-chain inbound ceiling record.
func InboxRateLimitPDA(manager solana.PublicKey, chain ChainID) solana.PublicKey {
	chainBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(chainBytes, uint16(chain))
	return derive([][]byte{[]byte("inbox_rate_limit"), chainBytes}, manager)
}

// UpgradeLockPDA is the temporary escrow that holds the pending owner between
// the delegate and claim phases of an ownership handoff.
func UpgradeLockPDA(manager solana.PublicKey) solana.PublicKey {
	return derive([][]byte{[]byte("upgrade_lock")}, manager)
}

// ProgramDataPDA is the manager's program-data account under the upgradeable
// BPF loader.
func ProgramDataPDA(manager solana.PublicKey) solana.PublicKey {
	return derive([][]byte{manager.Bytes()}, BPFLoaderUpgradeableProgramID)
}
