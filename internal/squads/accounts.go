package squads

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// accountDiscriminator is the 8-byte anchor account tag.
func accountDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("account:" + name))
	return h[:8]
}

// Multisig mirrors the on-chain group record.
type Multisig struct {
	CreateKey             solana.PublicKey
	ConfigAuthority       solana.PublicKey
	Threshold             uint16
	TimeLock              uint32
	TransactionIndex      uint64
	StaleTransactionIndex uint64
	RentCollector         *solana.PublicKey
	Bump                  uint8
	Members               []Member
}

// MemberByKey returns the member entry for a key, if present.
func (m *Multisig) MemberByKey(key solana.PublicKey) (Member, bool) {
	for _, mem := range m.Members {
		if mem.Key.Equals(key) {
			return mem, true
		}
	}
	return Member{}, false
}

// VoterCount counts members holding the Vote permission.
func (m *Multisig) VoterCount() int {
	n := 0
	for _, mem := range m.Members {
		if mem.CanVote() {
			n++
		}
	}
	return n
}

// ValidateConfig enforces the creation-time invariants: non-empty unique
// members, masks within range, and 1 <= threshold <= count(voting members).
func ValidateConfig(members []Member, threshold uint16) error {
	if len(members) == 0 {
		return &ConfigurationError{Reason: "member list is empty"}
	}
	seen := make(map[solana.PublicKey]struct{}, len(members))
	voters := 0
	for _, m := range members {
		if _, dup := seen[m.Key]; dup {
			return &ConfigurationError{Reason: fmt.Sprintf("duplicate member %s", m.Key)}
		}
		seen[m.Key] = struct{}{}
		if m.Permissions == 0 || m.Permissions > PermissionFull {
			return &ConfigurationError{Reason: fmt.Sprintf("member %s has invalid permission mask %d", m.Key, m.Permissions)}
		}
		if m.CanVote() {
			voters++
		}
	}
	if threshold == 0 {
		return &ConfigurationError{Reason: "threshold must be at least 1"}
	}
	if int(threshold) > voters {
		return &ConfigurationError{Reason: fmt.Sprintf("threshold %d exceeds %d voting members", threshold, voters)}
	}
	return nil
}

func (m *Multisig) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if m.CreateKey, err = readPubkey(dec); err != nil {
		return err
	}
	if m.ConfigAuthority, err = readPubkey(dec); err != nil {
		return err
	}
	if m.Threshold, err = dec.ReadUint16(binary.LittleEndian); err != nil {
		return err
	}
	if m.TimeLock, err = dec.ReadUint32(binary.LittleEndian); err != nil {
		return err
	}
	if m.TransactionIndex, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if m.StaleTransactionIndex, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if m.RentCollector, err = readOptionPubkey(dec); err != nil {
		return err
	}
	if m.Bump, err = dec.ReadUint8(); err != nil {
		return err
	}
	count, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return err
	}
	m.Members = make([]Member, count)
	for i := range m.Members {
		if m.Members[i].Key, err = readPubkey(dec); err != nil {
			return err
		}
		if m.Members[i].Permissions, err = dec.ReadUint8(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multisig) MarshalWithEncoder(enc *bin.Encoder) error {
	writePubkey(enc, m.CreateKey)
	writePubkey(enc, m.ConfigAuthority)
	enc.WriteUint16(m.Threshold, binary.LittleEndian)
	enc.WriteUint32(m.TimeLock, binary.LittleEndian)
	enc.WriteUint64(m.TransactionIndex, binary.LittleEndian)
	enc.WriteUint64(m.StaleTransactionIndex, binary.LittleEndian)
	writeOptionPubkey(enc, m.RentCollector)
	enc.WriteUint8(m.Bump)
	enc.WriteUint32(uint32(len(m.Members)), binary.LittleEndian)
	for _, mem := range m.Members {
		writePubkey(enc, mem.Key)
		if err := enc.WriteUint8(mem.Permissions); err != nil {
			return err
		}
	}
	return nil
}

// Proposal mirrors the on-chain voting record for one transaction index.
type Proposal struct {
	Multisig         solana.PublicKey
	TransactionIndex uint64
	Status           ProposalStatus
	Bump             uint8
	Approved         []solana.PublicKey
	Rejected         []solana.PublicKey
	Cancelled        []solana.PublicKey
}

// HasApproved reports whether the member already voted Approve.
func (p *Proposal) HasApproved(key solana.PublicKey) bool {
	for _, k := range p.Approved {
		if k.Equals(key) {
			return true
		}
	}
	return false
}

func (p *Proposal) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if p.Multisig, err = readPubkey(dec); err != nil {
		return err
	}
	if p.TransactionIndex, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if p.Status, err = readProposalStatus(dec); err != nil {
		return err
	}
	if p.Bump, err = dec.ReadUint8(); err != nil {
		return err
	}
	if p.Approved, err = readPubkeyVec(dec); err != nil {
		return err
	}
	if p.Rejected, err = readPubkeyVec(dec); err != nil {
		return err
	}
	if p.Cancelled, err = readPubkeyVec(dec); err != nil {
		return err
	}
	return nil
}

func (p *Proposal) MarshalWithEncoder(enc *bin.Encoder) error {
	writePubkey(enc, p.Multisig)
	enc.WriteUint64(p.TransactionIndex, binary.LittleEndian)
	writeProposalStatus(enc, p.Status)
	enc.WriteUint8(p.Bump)
	writePubkeyVec(enc, p.Approved)
	writePubkeyVec(enc, p.Rejected)
	return writePubkeyVec(enc, p.Cancelled)
}

// VaultTransaction mirrors the immutable instruction bundle record.
type VaultTransaction struct {
	Multisig             solana.PublicKey
	Creator              solana.PublicKey
	Index                uint64
	Bump                 uint8
	VaultIndex           uint8
	VaultBump            uint8
	EphemeralSignerBumps []uint8
	Message              TransactionMessage
}

func (t *VaultTransaction) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if t.Multisig, err = readPubkey(dec); err != nil {
		return err
	}
	if t.Creator, err = readPubkey(dec); err != nil {
		return err
	}
	if t.Index, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if t.Bump, err = dec.ReadUint8(); err != nil {
		return err
	}
	if t.VaultIndex, err = dec.ReadUint8(); err != nil {
		return err
	}
	if t.VaultBump, err = dec.ReadUint8(); err != nil {
		return err
	}
	count, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return err
	}
	if t.EphemeralSignerBumps, err = dec.ReadNBytes(int(count)); err != nil {
		return err
	}
	return t.Message.UnmarshalWithDecoder(dec)
}

func (t *VaultTransaction) MarshalWithEncoder(enc *bin.Encoder) error {
	writePubkey(enc, t.Multisig)
	writePubkey(enc, t.Creator)
	enc.WriteUint64(t.Index, binary.LittleEndian)
	enc.WriteUint8(t.Bump)
	enc.WriteUint8(t.VaultIndex)
	enc.WriteUint8(t.VaultBump)
	enc.WriteUint32(uint32(len(t.EphemeralSignerBumps)), binary.LittleEndian)
	if err := enc.WriteBytes(t.EphemeralSignerBumps, false); err != nil {
		return err
	}
	return t.Message.MarshalWithEncoder(enc)
}

// ProgramConfig is the squads program's global config; only the prefix up to
// the treasury is decoded, the reserved tail is ignored.
type ProgramConfig struct {
	Authority           solana.PublicKey
	MultisigCreationFee uint64
	Treasury            solana.PublicKey
}

func (c *ProgramConfig) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if c.Authority, err = readPubkey(dec); err != nil {
		return err
	}
	if c.MultisigCreationFee, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	c.Treasury, err = readPubkey(dec)
	return err
}

func (c *ProgramConfig) MarshalWithEncoder(enc *bin.Encoder) error {
	writePubkey(enc, c.Authority)
	enc.WriteUint64(c.MultisigCreationFee, binary.LittleEndian)
	return writePubkey(enc, c.Treasury)
}

// ---------------------------------------------------------------------------
// decode entry points

func DecodeMultisig(data []byte) (*Multisig, error) {
	dec, err := stripDiscriminator("Multisig", data)
	if err != nil {
		return nil, err
	}
	var m Multisig
	if err := m.UnmarshalWithDecoder(dec); err != nil {
		return nil, fmt.Errorf("decode multisig account: %w", err)
	}
	return &m, nil
}

func DecodeProposal(data []byte) (*Proposal, error) {
	dec, err := stripDiscriminator("Proposal", data)
	if err != nil {
		return nil, err
	}
	var p Proposal
	if err := p.UnmarshalWithDecoder(dec); err != nil {
		return nil, fmt.Errorf("decode proposal account: %w", err)
	}
	return &p, nil
}

func DecodeVaultTransaction(data []byte) (*VaultTransaction, error) {
	dec, err := stripDiscriminator("VaultTransaction", data)
	if err != nil {
		return nil, err
	}
	var t VaultTransaction
	if err := t.UnmarshalWithDecoder(dec); err != nil {
		return nil, fmt.Errorf("decode vault transaction account: %w", err)
	}
	return &t, nil
}

func DecodeProgramConfig(data []byte) (*ProgramConfig, error) {
	dec, err := stripDiscriminator("ProgramConfig", data)
	if err != nil {
		return nil, err
	}
	var c ProgramConfig
	if err := c.UnmarshalWithDecoder(dec); err != nil {
		return nil, fmt.Errorf("decode program config account: %w", err)
	}
	return &c, nil
}

func stripDiscriminator(name string, data []byte) (*bin.Decoder, error) {
	disc := accountDiscriminator(name)
	if len(data) < len(disc) || !bytes.Equal(data[:len(disc)], disc) {
		return nil, fmt.Errorf("account data is not a %s record", name)
	}
	return bin.NewBorshDecoder(data[len(disc):]), nil
}

func encodeAccount(name string, body interface{ MarshalWithEncoder(*bin.Encoder) error }) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(accountDiscriminator(name))
	if err := body.MarshalWithEncoder(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Marshal renders the record with its discriminator, the exact account bytes.
func (m *Multisig) Marshal() ([]byte, error)         { return encodeAccount("Multisig", m) }
func (p *Proposal) Marshal() ([]byte, error)         { return encodeAccount("Proposal", p) }
func (t *VaultTransaction) Marshal() ([]byte, error) { return encodeAccount("VaultTransaction", t) }
func (c *ProgramConfig) Marshal() ([]byte, error)    { return encodeAccount("ProgramConfig", c) }

// ---------------------------------------------------------------------------
// borsh helpers

func readPubkey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

func writePubkey(enc *bin.Encoder, pk solana.PublicKey) error {
	return enc.WriteBytes(pk.Bytes(), false)
}

func readOptionPubkey(dec *bin.Decoder) (*solana.PublicKey, error) {
	tag, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	pk, err := readPubkey(dec)
	if err != nil {
		return nil, err
	}
	return &pk, nil
}

func writeOptionPubkey(enc *bin.Encoder, pk *solana.PublicKey) error {
	if pk == nil {
		return enc.WriteUint8(0)
	}
	enc.WriteUint8(1)
	return writePubkey(enc, *pk)
}

func readPubkeyVec(dec *bin.Decoder) ([]solana.PublicKey, error) {
	count, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	keys := make([]solana.PublicKey, count)
	for i := range keys {
		if keys[i], err = readPubkey(dec); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func writePubkeyVec(enc *bin.Encoder, keys []solana.PublicKey) error {
	if err := enc.WriteUint32(uint32(len(keys)), binary.LittleEndian); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writePubkey(enc, k); err != nil {
			return err
		}
	}
	return nil
}

func readProposalStatus(dec *bin.Decoder) (ProposalStatus, error) {
	tag, err := dec.ReadUint8()
	if err != nil {
		return ProposalStatus{}, err
	}
	st := ProposalStatus{Kind: ProposalStatusKind(tag)}
	if st.Kind > StatusCancelled {
		return st, fmt.Errorf("unknown proposal status variant %d", tag)
	}
	if st.Kind != StatusExecuting {
		if st.Timestamp, err = dec.ReadInt64(binary.LittleEndian); err != nil {
			return st, err
		}
	}
	return st, nil
}

func writeProposalStatus(enc *bin.Encoder, st ProposalStatus) error {
	if err := enc.WriteUint8(uint8(st.Kind)); err != nil {
		return err
	}
	if st.Kind == StatusExecuting {
		return nil
	}
	return enc.WriteInt64(st.Timestamp, binary.LittleEndian)
}
