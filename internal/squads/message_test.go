package squads

import (
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileMessageOrdersAndIndexes(t *testing.T) {
	vault := solana.NewWallet().PublicKey()
	program := solana.NewWallet().PublicKey()
	config := solana.NewWallet().PublicKey()
	rateLimit := solana.NewWallet().PublicKey()

	ix := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(config),
		solana.Meta(vault).SIGNER(),
		solana.Meta(rateLimit).WRITE(),
	}, []byte{1, 2, 3})

	msg, err := CompileMessage(vault, []solana.Instruction{ix})
	require.NoError(t, err)

	// vault is the sole (writable) signer and leads the key table
	assert.Equal(t, uint8(1), msg.NumSigners)
	assert.Equal(t, uint8(1), msg.NumWritableSigners)
	assert.Equal(t, uint8(1), msg.NumWritableNonSigners)
	require.Len(t, msg.AccountKeys, 4)
	assert.Equal(t, vault, msg.AccountKeys[0])
	assert.Equal(t, rateLimit, msg.AccountKeys[1])

	assert.True(t, msg.IsSignerIndex(0))
	assert.True(t, msg.IsWritableIndex(0))
	assert.True(t, msg.IsWritableIndex(1))
	assert.False(t, msg.IsWritableIndex(2))
	assert.False(t, msg.IsWritableIndex(3))

	require.Len(t, msg.Instructions, 1)
	ci := msg.Instructions[0]
	assert.Equal(t, program, msg.AccountKeys[ci.ProgramIDIndex])
	require.Len(t, ci.AccountIndexes, 3)
	assert.Equal(t, config, msg.AccountKeys[ci.AccountIndexes[0]])
	assert.Equal(t, vault, msg.AccountKeys[ci.AccountIndexes[1]])
	assert.Equal(t, rateLimit, msg.AccountKeys[ci.AccountIndexes[2]])
	assert.Equal(t, []byte{1, 2, 3}, ci.Data)
}

func TestCompileMessageMergesDuplicateMetas(t *testing.T) {
	vault := solana.NewWallet().PublicKey()
	program := solana.NewWallet().PublicKey()
	shared := solana.NewWallet().PublicKey()

	ix1 := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(shared),
	}, []byte{1})
	ix2 := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(shared).WRITE(),
	}, []byte{2})

	msg, err := CompileMessage(vault, []solana.Instruction{ix1, ix2})
	require.NoError(t, err)

	// shared appears once and the writable flag wins
	require.Len(t, msg.AccountKeys, 3)
	idx := msg.Instructions[0].AccountIndexes[0]
	assert.Equal(t, idx, msg.Instructions[1].AccountIndexes[0])
	assert.True(t, msg.IsWritableIndex(int(idx)))
}

func TestCompileMessageRejectsEmptyBundle(t *testing.T) {
	_, err := CompileMessage(solana.NewWallet().PublicKey(), nil)
	assert.Error(t, err)
}

func TestMessageWireRoundTrip(t *testing.T) {
	vault := solana.NewWallet().PublicKey()
	program := solana.NewWallet().PublicKey()
	acc := solana.NewWallet().PublicKey()

	ix := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(vault).SIGNER().WRITE(),
		solana.Meta(acc).WRITE(),
	}, []byte{0xde, 0xad})

	msg, err := CompileMessage(vault, []solana.Instruction{ix})
	require.NoError(t, err)

	raw, err := msg.Bytes()
	require.NoError(t, err)

	var decoded TransactionMessage
	require.NoError(t, decoded.UnmarshalWithDecoder(bin.NewBorshDecoder(raw)))
	assert.Equal(t, msg, decoded)

	metas := decoded.AccountMetas()
	require.Len(t, metas, len(decoded.AccountKeys))
	for _, m := range metas {
		assert.False(t, m.IsSigner)
	}
}
