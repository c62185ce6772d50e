package squads

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// anchorDiscriminator is the 8-byte instruction tag for a snake_case method.
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

func writeOptionString(enc *bin.Encoder, s *string) error {
	if s == nil {
		return enc.WriteUint8(0)
	}
	enc.WriteUint8(1)
	enc.WriteUint32(uint32(len(*s)), binary.LittleEndian)
	return enc.WriteBytes([]byte(*s), false)
}

// CreateArgs parameterizes multisig_create_v2.
type CreateArgs struct {
	ConfigAuthority *solana.PublicKey
	Threshold       uint16
	Members         []Member
	TimeLock        uint32
	RentCollector   *solana.PublicKey
	Memo            *string
}

// NewMultisigCreateInstruction builds multisig_create_v2. The create key and
// the creator both sign; the creator pays the creation fee to the treasury.
func NewMultisigCreateInstruction(
	programID solana.PublicKey,
	args CreateArgs,
	programConfig, treasury, multisig, createKey, creator solana.PublicKey,
) (solana.Instruction, error) {
	data, err := instructionData("multisig_create_v2", func(enc *bin.Encoder) error {
		if err := writeOptionPubkey(enc, args.ConfigAuthority); err != nil {
			return err
		}
		enc.WriteUint16(args.Threshold, binary.LittleEndian)
		enc.WriteUint32(uint32(len(args.Members)), binary.LittleEndian)
		for _, m := range args.Members {
			writePubkey(enc, m.Key)
			enc.WriteUint8(m.Permissions)
		}
		enc.WriteUint32(args.TimeLock, binary.LittleEndian)
		if err := writeOptionPubkey(enc, args.RentCollector); err != nil {
			return err
		}
		return writeOptionString(enc, args.Memo)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(programConfig),
		solana.Meta(treasury).WRITE(),
		solana.Meta(multisig).WRITE(),
		solana.Meta(createKey).SIGNER(),
		solana.Meta(creator).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// NewVaultTransactionCreateInstruction records an immutable instruction bundle
// at the next transaction index and bumps the multisig's counter.
func NewVaultTransactionCreateInstruction(
	programID solana.PublicKey,
	multisig, transaction, creator solana.PublicKey,
	vaultIndex uint8,
	ephemeralSigners uint8,
	message []byte,
	memo *string,
) (solana.Instruction, error) {
	data, err := instructionData("vault_transaction_create", func(enc *bin.Encoder) error {
		enc.WriteUint8(vaultIndex)
		enc.WriteUint8(ephemeralSigners)
		enc.WriteUint32(uint32(len(message)), binary.LittleEndian)
		if err := enc.WriteBytes(message, false); err != nil {
			return err
		}
		return writeOptionString(enc, memo)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(multisig).WRITE(),
		solana.Meta(transaction).WRITE(),
		solana.Meta(creator).SIGNER(),
		solana.Meta(creator).WRITE().SIGNER(), // rent payer
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// NewProposalCreateInstruction opens the voting record for an index.
func NewProposalCreateInstruction(
	programID solana.PublicKey,
	multisig, proposal, creator solana.PublicKey,
	transactionIndex uint64,
	draft bool,
) (solana.Instruction, error) {
	data, err := instructionData("proposal_create", func(enc *bin.Encoder) error {
		enc.WriteUint64(transactionIndex, binary.LittleEndian)
		return enc.WriteBool(draft)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(multisig),
		solana.Meta(proposal).WRITE(),
		solana.Meta(creator).SIGNER(),
		solana.Meta(creator).WRITE().SIGNER(), // rent payer
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// NewProposalApproveInstruction casts one member's Approve vote.
func NewProposalApproveInstruction(
	programID solana.PublicKey,
	multisig, member, proposal solana.PublicKey,
	memo *string,
) (solana.Instruction, error) {
	data, err := instructionData("proposal_approve", func(enc *bin.Encoder) error {
		return writeOptionString(enc, memo)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(multisig),
		solana.Meta(member).WRITE().SIGNER(),
		solana.Meta(proposal).WRITE(),
	}, data), nil
}

// NewVaultTransactionExecuteInstruction replays the recorded bundle under the
// vault's signature. The message's key table is appended in order as remaining
// accounts; none of them signs the outer transaction.
func NewVaultTransactionExecuteInstruction(
	programID solana.PublicKey,
	multisig, proposal, transaction, member solana.PublicKey,
	message *TransactionMessage,
) (solana.Instruction, error) {
	data, err := instructionData("vault_transaction_execute", nil)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(multisig),
		solana.Meta(proposal).WRITE(),
		solana.Meta(transaction),
		solana.Meta(member).SIGNER(),
	}
	metas = append(metas, message.AccountMetas()...)
	return solana.NewInstruction(programID, metas, data), nil
}
