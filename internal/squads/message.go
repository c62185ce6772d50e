package squads

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// CompiledInstruction is one instruction of a vault transaction message, with
// accounts referred to by index into the message's key table.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// TransactionMessage is the squads wire form of an instruction bundle. Account
// keys are ordered writable signers, readonly signers, writable non-signers,
// readonly non-signers; the three counters encode the boundaries. Address
// table lookups are not used by this system and must be empty.
type TransactionMessage struct {
	NumSigners            uint8
	NumWritableSigners    uint8
	NumWritableNonSigners uint8
	AccountKeys           []solana.PublicKey
	Instructions          []CompiledInstruction
}

// IsWritableIndex classifies a key-table index using the boundary counters.
func (m *TransactionMessage) IsWritableIndex(i int) bool {
	if i < int(m.NumSigners) {
		return i < int(m.NumWritableSigners)
	}
	return i-int(m.NumSigners) < int(m.NumWritableNonSigners)
}

// IsSignerIndex reports whether the key at index signs the inner message. The
// vault PDA occupies a signer slot; the ledger produces its signature only
// through the multisig program's invoke path.
func (m *TransactionMessage) IsSignerIndex(i int) bool {
	return i < int(m.NumSigners)
}

// CompileMessage flattens instructions into the squads message form with
// `payer` (the vault) as the leading writable signer.
func CompileMessage(payer solana.PublicKey, instrs []solana.Instruction) (TransactionMessage, error) {
	if len(instrs) == 0 {
		return TransactionMessage{}, fmt.Errorf("compile message: no instructions")
	}

	type meta struct {
		signer   bool
		writable bool
		order    int
	}
	metas := map[solana.PublicKey]*meta{
		payer: {signer: true, writable: true, order: 0},
	}
	next := 1
	upsert := func(key solana.PublicKey, signer, writable bool) {
		if m, ok := metas[key]; ok {
			m.signer = m.signer || signer
			m.writable = m.writable || writable
			return
		}
		metas[key] = &meta{signer: signer, writable: writable, order: next}
		next++
	}
	for _, ix := range instrs {
		for _, acc := range ix.Accounts() {
			upsert(acc.PublicKey, acc.IsSigner, acc.IsWritable)
		}
		upsert(ix.ProgramID(), false, false)
	}

	keys := make([]solana.PublicKey, 0, len(metas))
	for k := range metas {
		keys = append(keys, k)
	}
	// Stable bucket order: writable signers, readonly signers, writable
	// non-signers, readonly non-signers; first-seen order within each bucket.
	bucket := func(m *meta) int {
		switch {
		case m.signer && m.writable:
			return 0
		case m.signer:
			return 1
		case m.writable:
			return 2
		default:
			return 3
		}
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0; j-- {
			a, b := metas[keys[j-1]], metas[keys[j]]
			if bucket(a) > bucket(b) || (bucket(a) == bucket(b) && a.order > b.order) {
				keys[j-1], keys[j] = keys[j], keys[j-1]
			}
		}
	}

	msg := TransactionMessage{AccountKeys: keys}
	indexOf := make(map[solana.PublicKey]uint8, len(keys))
	for i, k := range keys {
		indexOf[k] = uint8(i)
		m := metas[k]
		if m.signer {
			msg.NumSigners++
			if m.writable {
				msg.NumWritableSigners++
			}
		} else if m.writable {
			msg.NumWritableNonSigners++
		}
	}

	for _, ix := range instrs {
		data, err := ix.Data()
		if err != nil {
			return TransactionMessage{}, fmt.Errorf("compile message: instruction data: %w", err)
		}
		ci := CompiledInstruction{
			ProgramIDIndex: indexOf[ix.ProgramID()],
			Data:           data,
		}
		for _, acc := range ix.Accounts() {
			ci.AccountIndexes = append(ci.AccountIndexes, indexOf[acc.PublicKey])
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// AccountMetas renders the key table as outer-transaction metas for execution.
// No key is marked signer: the multisig program signs for the vault internally
// and everything else already signed when the bundle was recorded.
func (m *TransactionMessage) AccountMetas() []*solana.AccountMeta {
	metas := make([]*solana.AccountMeta, len(m.AccountKeys))
	for i, k := range m.AccountKeys {
		metas[i] = &solana.AccountMeta{
			PublicKey:  k,
			IsWritable: m.IsWritableIndex(i),
		}
	}
	return metas
}

// Bytes serializes the message for the vault_transaction_create argument.
func (m *TransactionMessage) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.MarshalWithEncoder(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *TransactionMessage) MarshalWithEncoder(enc *bin.Encoder) error {
	enc.WriteUint8(m.NumSigners)
	enc.WriteUint8(m.NumWritableSigners)
	enc.WriteUint8(m.NumWritableNonSigners)
	if len(m.AccountKeys) > 255 {
		return fmt.Errorf("message has %d account keys, limit 255", len(m.AccountKeys))
	}
	enc.WriteUint8(uint8(len(m.AccountKeys)))
	for _, k := range m.AccountKeys {
		writePubkey(enc, k)
	}
	enc.WriteUint8(uint8(len(m.Instructions)))
	for _, ci := range m.Instructions {
		enc.WriteUint8(ci.ProgramIDIndex)
		enc.WriteUint8(uint8(len(ci.AccountIndexes)))
		enc.WriteBytes(ci.AccountIndexes, false)
		enc.WriteUint16(uint16(len(ci.Data)), binary.LittleEndian)
		if err := enc.WriteBytes(ci.Data, false); err != nil {
			return err
		}
	}
	// address table lookups: always empty here
	return enc.WriteUint8(0)
}

func (m *TransactionMessage) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if m.NumSigners, err = dec.ReadUint8(); err != nil {
		return err
	}
	if m.NumWritableSigners, err = dec.ReadUint8(); err != nil {
		return err
	}
	if m.NumWritableNonSigners, err = dec.ReadUint8(); err != nil {
		return err
	}
	nKeys, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	m.AccountKeys = make([]solana.PublicKey, nKeys)
	for i := range m.AccountKeys {
		if m.AccountKeys[i], err = readPubkey(dec); err != nil {
			return err
		}
	}
	nIx, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	m.Instructions = make([]CompiledInstruction, nIx)
	for i := range m.Instructions {
		ci := &m.Instructions[i]
		if ci.ProgramIDIndex, err = dec.ReadUint8(); err != nil {
			return err
		}
		nAcc, err := dec.ReadUint8()
		if err != nil {
			return err
		}
		if ci.AccountIndexes, err = dec.ReadNBytes(int(nAcc)); err != nil {
			return err
		}
		dataLen, err := dec.ReadUint16(binary.LittleEndian)
		if err != nil {
			return err
		}
		if ci.Data, err = dec.ReadNBytes(int(dataLen)); err != nil {
			return err
		}
	}
	nLookups, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	if nLookups != 0 {
		return fmt.Errorf("message carries %d address table lookups, unsupported", nLookups)
	}
	return nil
}
