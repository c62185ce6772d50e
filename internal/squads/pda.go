package squads

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the canonical Squads v4 program deployment.
var DefaultProgramID = solana.MustPublicKeyFromBase58("SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf")

var (
	seedPrefix        = []byte("multisig")
	seedProgramConfig = []byte("program_config")
	seedMultisig      = []byte("multisig")
	seedVault         = []byte("vault")
	seedTransaction   = []byte("transaction")
	seedProposal      = []byte("proposal")
)

func derive(programID solana.PublicKey, seeds ...[]byte) solana.PublicKey {
	pda, _, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		// Off-curve search only fails for pathological seeds; treat as a bug.
		panic(fmt.Sprintf("derive program address: %v", err))
	}
	return pda
}

// ProgramConfigPDA is the squads program's global config account, which names
// the creation-fee treasury.
func ProgramConfigPDA(programID solana.PublicKey) solana.PublicKey {
	return derive(programID, seedPrefix, seedProgramConfig)
}

// MultisigPDA derives the group's stable address from its one-time creation
// key. The creation key never signs anything again after creation.
func MultisigPDA(programID, createKey solana.PublicKey) solana.PublicKey {
	return derive(programID, seedPrefix, seedMultisig, createKey.Bytes())
}

// VaultPDA derives vault `index` of a multisig, the account that acts as the
// group's collective signer.
func VaultPDA(programID, multisig solana.PublicKey, index uint8) solana.PublicKey {
	return derive(programID, seedPrefix, multisig.Bytes(), seedVault, []byte{index})
}

// TransactionPDA derives the vault-transaction record for a transaction index.
func TransactionPDA(programID, multisig solana.PublicKey, index uint64) solana.PublicKey {
	return derive(programID, seedPrefix, multisig.Bytes(), seedTransaction, indexBytes(index))
}

// ProposalPDA derives the voting record bound to a transaction index.
func ProposalPDA(programID, multisig solana.PublicKey, index uint64) solana.PublicKey {
	return derive(programID, seedPrefix, multisig.Bytes(), seedTransaction, indexBytes(index), seedProposal)
}

func indexBytes(index uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, index)
	return b
}
