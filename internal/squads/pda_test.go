package squads

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Known deployment: this multisig/vault pair comes from a production squad
// whose runbook cross-checks the derived vault against this exact value.
func TestVaultPDAKnownDeployment(t *testing.T) {
	ms, err := solana.PublicKeyFromBase58("45S975zzDtnmx6q1NatWLPYLd1ptubUCigdRQR7Cn31W")
	require.NoError(t, err)

	vault := VaultPDA(DefaultProgramID, ms, 0)
	assert.Equal(t, "3Zc77zF9zghpjU97CVoZQ8QswC8bwpcX55KFQdJcRkCc", vault.String())
}

func TestPDADerivationsAreDeterministicAndDistinct(t *testing.T) {
	createKey := solana.NewWallet().PublicKey()
	ms := MultisigPDA(DefaultProgramID, createKey)
	assert.Equal(t, ms, MultisigPDA(DefaultProgramID, createKey))

	tx1 := TransactionPDA(DefaultProgramID, ms, 1)
	tx2 := TransactionPDA(DefaultProgramID, ms, 2)
	prop1 := ProposalPDA(DefaultProgramID, ms, 1)

	assert.NotEqual(t, tx1, tx2)
	assert.NotEqual(t, tx1, prop1)
	assert.NotEqual(t, ms, ProgramConfigPDA(DefaultProgramID))
	assert.NotEqual(t, VaultPDA(DefaultProgramID, ms, 0), VaultPDA(DefaultProgramID, ms, 1))
}
