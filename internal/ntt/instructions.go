package ntt

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

func anchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

func instructionData(name string, encode func(*bin.Encoder) error) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(anchorDiscriminator(name))
	if encode != nil {
		if err := encode(bin.NewBorshEncoder(&buf)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// NewTransferOwnershipInstruction names newOwner as the pending owner, held in
// the upgrade-lock escrow until claimed. Signed by the current sole owner.
func NewTransferOwnershipInstruction(manager, owner, newOwner solana.PublicKey) (solana.Instruction, error) {
	data, err := instructionData("transfer_ownership", nil)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(manager, solana.AccountMetaSlice{
		solana.Meta(ConfigPDA(manager)).WRITE(),
		solana.Meta(owner).SIGNER(),
		solana.Meta(newOwner),
		solana.Meta(UpgradeLockPDA(manager)),
		solana.Meta(ProgramDataPDA(manager)).WRITE(),
		solana.Meta(BPFLoaderUpgradeableProgramID),
	}, data), nil
}

// NewClaimOwnershipInstruction completes the handoff; only the pending owner
// can satisfy the newOwner signature, which for a vault means going through
// the multisig's collective authorization path.
func NewClaimOwnershipInstruction(manager, newOwner solana.PublicKey) (solana.Instruction, error) {
	data, err := instructionData("claim_ownership", nil)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(manager, solana.AccountMetaSlice{
		solana.Meta(ConfigPDA(manager)).WRITE(),
		solana.Meta(UpgradeLockPDA(manager)).WRITE(),
		solana.Meta(newOwner).SIGNER(),
		solana.Meta(ProgramDataPDA(manager)).WRITE(),
		solana.Meta(BPFLoaderUpgradeableProgramID),
	}, data), nil
}

// NewSetOutboundLimitInstruction sets the outbound transfer ceiling, in the
// token's native precision. Owner-scoped.
func NewSetOutboundLimitInstruction(manager, owner solana.PublicKey, limit uint64) (solana.Instruction, error) {
	data, err := instructionData("set_outbound_limit", func(enc *bin.Encoder) error {
		return enc.WriteUint64(limit, binary.LittleEndian)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(manager, solana.AccountMetaSlice{
		solana.Meta(ConfigPDA(manager)),
		solana.Meta(owner).SIGNER(),
		solana.Meta(OutboxRateLimitPDA(manager)).WRITE(),
	}, data), nil
}

// NewSetInboundLimitInstruction sets the inbound ceiling for one source chain.
// The chain's inbox rate-limit record must already exist.
func NewSetInboundLimitInstruction(manager, owner solana.PublicKey, chain ChainID, limit uint64) (solana.Instruction, error) {
	data, err := instructionData("set_inbound_limit", func(enc *bin.Encoder) error {
		if err := enc.WriteUint64(limit, binary.LittleEndian); err != nil {
			return err
		}
		return enc.WriteUint16(uint16(chain), binary.LittleEndian)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(manager, solana.AccountMetaSlice{
		solana.Meta(ConfigPDA(manager)),
		solana.Meta(owner).SIGNER(),
		solana.Meta(InboxRateLimitPDA(manager, chain)).WRITE(),
	}, data), nil
}

// NewSetPausedInstruction pauses or resumes transfers. Owner-scoped.
func NewSetPausedInstruction(manager, owner solana.PublicKey, paused bool) (solana.Instruction, error) {
	data, err := instructionData("set_paused", func(enc *bin.Encoder) error {
		return enc.WriteBool(paused)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(manager, solana.AccountMetaSlice{
		solana.Meta(owner).SIGNER(),
		solana.Meta(ConfigPDA(manager)).WRITE(),
	}, data), nil
}
