// Package ledgertest provides an in-memory ledger that interprets the squads
// and ntt instruction surfaces far enough to exercise the proposal state
// machine and the authority handoff end to end in tests.
package ledgertest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"custodia-go/internal/ledger"
	"custodia-go/internal/ntt"
	"custodia-go/internal/squads"
)

func discriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

type managerState struct {
	config       *ntt.Config
	pendingOwner *solana.PublicKey
	rateLimits   map[solana.PublicKey]uint64
	paused       bool
}

// Fake implements ledger.Interface over in-memory program state. All account
// mutations happen inside SendAndConfirm, serialized by a mutex, mirroring the
// ledger's per-account serialization.
type Fake struct {
	mu sync.Mutex

	squadsProgram solana.PublicKey
	treasury      solana.PublicKey

	multisigs map[solana.PublicKey]*squads.Multisig
	proposals map[solana.PublicKey]*squads.Proposal
	vaultTxs  map[solana.PublicKey]*squads.VaultTransaction
	managers  map[solana.PublicKey]*managerState

	// hideOnce makes the next AccountData for an address miss, simulating a
	// stale read in the index-race tests.
	hideOnce map[solana.PublicKey]bool

	clock   int64
	sigSeq  uint64
	slotSeq uint64
}

func New() *Fake {
	return &Fake{
		squadsProgram: squads.DefaultProgramID,
		treasury:      solana.NewWallet().PublicKey(),
		multisigs:     make(map[solana.PublicKey]*squads.Multisig),
		proposals:     make(map[solana.PublicKey]*squads.Proposal),
		vaultTxs:      make(map[solana.PublicKey]*squads.VaultTransaction),
		managers:      make(map[solana.PublicKey]*managerState),
		hideOnce:      make(map[solana.PublicKey]bool),
		clock:         1_700_000_000,
	}
}

// SeedManager installs an ntt manager deployment with the given sole owner.
func (f *Fake) SeedManager(manager, owner solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.managers[manager] = &managerState{
		config: &ntt.Config{
			Bump:    255,
			Owner:   owner,
			Mint:    solana.NewWallet().PublicKey(),
			Mode:    0,
			ChainID: 1,
		},
		rateLimits: make(map[solana.PublicKey]uint64),
	}
}

// HideOnce makes the next fetch of addr miss, so a caller observes a stale
// view of the index counter or the transaction record.
func (f *Fake) HideOnce(addr solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hideOnce[addr] = true
}

// --------------------------------------------------------------------------
// state inspection for tests

func (f *Fake) Multisig(addr solana.PublicKey) *squads.Multisig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.multisigs[addr]
}

func (f *Fake) Proposal(multisig solana.PublicKey, index uint64) *squads.Proposal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proposals[squads.ProposalPDA(f.squadsProgram, multisig, index)]
}

func (f *Fake) Owner(manager solana.PublicKey) solana.PublicKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.managers[manager].config.Owner
}

func (f *Fake) PendingOwner(manager solana.PublicKey) *solana.PublicKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.managers[manager].pendingOwner
}

func (f *Fake) OutboundLimit(manager solana.PublicKey) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.managers[manager].rateLimits[ntt.OutboxRateLimitPDA(manager)]
}

func (f *Fake) InboundLimit(manager solana.PublicKey, chain ntt.ChainID) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.managers[manager].rateLimits[ntt.InboxRateLimitPDA(manager, chain)]
}

func (f *Fake) Paused(manager solana.PublicKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.managers[manager].paused
}

// --------------------------------------------------------------------------
// ledger.Interface

func (f *Fake) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hideOnce[addr] {
		delete(f.hideOnce, addr)
		return nil, ledger.ErrNotFound
	}
	return f.accountDataLocked(addr)
}

func (f *Fake) accountDataLocked(addr solana.PublicKey) ([]byte, error) {
	if addr.Equals(squads.ProgramConfigPDA(f.squadsProgram)) {
		cfg := &squads.ProgramConfig{Treasury: f.treasury}
		return cfg.Marshal()
	}
	if ms, ok := f.multisigs[addr]; ok {
		return ms.Marshal()
	}
	if p, ok := f.proposals[addr]; ok {
		return p.Marshal()
	}
	if tx, ok := f.vaultTxs[addr]; ok {
		return tx.Marshal()
	}
	for manager, st := range f.managers {
		if addr.Equals(ntt.ConfigPDA(manager)) {
			return st.config.Marshal()
		}
		if limit, ok := st.rateLimits[addr]; ok {
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, limit)
			return b, nil
		}
		if st.pendingOwner != nil && addr.Equals(ntt.UpgradeLockPDA(manager)) {
			return st.pendingOwner.Bytes(), nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (f *Fake) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slotSeq++
	var h solana.Hash
	binary.LittleEndian.PutUint64(h[:8], f.slotSeq)
	return h, nil
}

func (f *Fake) SendAndConfirm(ctx context.Context, op string, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg := &tx.Message
	signers := make(map[solana.PublicKey]bool)
	for i := 0; i < int(msg.Header.NumRequiredSignatures) && i < len(msg.AccountKeys); i++ {
		signers[msg.AccountKeys[i]] = true
	}

	// All-or-nothing: interpret against a scratch copy, commit only if every
	// instruction succeeds.
	scratch := f.snapshot()
	for _, ci := range msg.Instructions {
		program := msg.AccountKeys[ci.ProgramIDIndex]
		accounts := make([]solana.PublicKey, len(ci.Accounts))
		for i, idx := range ci.Accounts {
			accounts[i] = msg.AccountKeys[idx]
		}
		if err := scratch.dispatch(program, accounts, ci.Data, signers); err != nil {
			return solana.Signature{}, &ledger.SubmissionError{Op: op, Err: err}
		}
	}
	f.commit(scratch)

	f.sigSeq++
	var sig solana.Signature
	binary.LittleEndian.PutUint64(sig[:8], f.sigSeq)
	return sig, nil
}

// --------------------------------------------------------------------------
// interpretation

type scratchState struct {
	parent    *Fake
	multisigs map[solana.PublicKey]*squads.Multisig
	proposals map[solana.PublicKey]*squads.Proposal
	vaultTxs  map[solana.PublicKey]*squads.VaultTransaction
	managers  map[solana.PublicKey]*managerState
	clock     int64
}

func (f *Fake) snapshot() *scratchState {
	s := &scratchState{
		parent:    f,
		multisigs: make(map[solana.PublicKey]*squads.Multisig, len(f.multisigs)),
		proposals: make(map[solana.PublicKey]*squads.Proposal, len(f.proposals)),
		vaultTxs:  make(map[solana.PublicKey]*squads.VaultTransaction, len(f.vaultTxs)),
		managers:  make(map[solana.PublicKey]*managerState, len(f.managers)),
		clock:     f.clock,
	}
	for k, v := range f.multisigs {
		cp := *v
		cp.Members = append([]squads.Member(nil), v.Members...)
		s.multisigs[k] = &cp
	}
	for k, v := range f.proposals {
		cp := *v
		cp.Approved = append([]solana.PublicKey(nil), v.Approved...)
		cp.Rejected = append([]solana.PublicKey(nil), v.Rejected...)
		cp.Cancelled = append([]solana.PublicKey(nil), v.Cancelled...)
		s.proposals[k] = &cp
	}
	for k, v := range f.vaultTxs {
		cp := *v
		s.vaultTxs[k] = &cp
	}
	for k, v := range f.managers {
		cfg := *v.config
		cp := &managerState{
			config:     &cfg,
			paused:     v.paused,
			rateLimits: make(map[solana.PublicKey]uint64, len(v.rateLimits)),
		}
		if v.pendingOwner != nil {
			po := *v.pendingOwner
			cp.pendingOwner = &po
		}
		for rk, rv := range v.rateLimits {
			cp.rateLimits[rk] = rv
		}
		s.managers[k] = cp
	}
	return s
}

func (f *Fake) commit(s *scratchState) {
	f.multisigs = s.multisigs
	f.proposals = s.proposals
	f.vaultTxs = s.vaultTxs
	f.managers = s.managers
	f.clock = s.clock
}

func (s *scratchState) dispatch(program solana.PublicKey, accounts []solana.PublicKey, data []byte, signers map[solana.PublicKey]bool) error {
	if program.Equals(s.parent.squadsProgram) {
		return s.dispatchSquads(accounts, data, signers)
	}
	if _, ok := s.managers[program]; ok {
		return s.dispatchNTT(program, accounts, data, signers)
	}
	if program.Equals(solana.SystemProgramID) {
		return nil
	}
	return fmt.Errorf("unknown program %s", program)
}

func (s *scratchState) dispatchSquads(accounts []solana.PublicKey, data []byte, signers map[solana.PublicKey]bool) error {
	if len(data) < 8 {
		return errors.New("instruction data too short")
	}
	disc, args := data[:8], data[8:]
	switch {
	case bytes.Equal(disc, discriminator("multisig_create_v2")):
		return s.multisigCreate(accounts, args, signers)
	case bytes.Equal(disc, discriminator("vault_transaction_create")):
		return s.vaultTransactionCreate(accounts, args, signers)
	case bytes.Equal(disc, discriminator("proposal_create")):
		return s.proposalCreate(accounts, args, signers)
	case bytes.Equal(disc, discriminator("proposal_approve")):
		return s.proposalApprove(accounts, signers)
	case bytes.Equal(disc, discriminator("vault_transaction_execute")):
		return s.vaultTransactionExecute(accounts, signers)
	}
	return fmt.Errorf("unknown squads instruction %x", disc)
}

func (s *scratchState) tick() int64 {
	s.clock++
	return s.clock
}

func (s *scratchState) multisigCreate(accounts []solana.PublicKey, args []byte, signers map[solana.PublicKey]bool) error {
	if len(accounts) < 6 {
		return errors.New("multisig_create_v2: not enough accounts")
	}
	msAddr, createKey := accounts[2], accounts[3]
	if _, exists := s.multisigs[msAddr]; exists {
		return fmt.Errorf("account %s already in use", msAddr)
	}
	if !signers[createKey] {
		return errors.New("create key did not sign")
	}
	dec := bin.NewBorshDecoder(args)
	hasAuthority, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	var configAuthority solana.PublicKey
	if hasAuthority == 1 {
		b, err := dec.ReadNBytes(32)
		if err != nil {
			return err
		}
		configAuthority = solana.PublicKeyFromBytes(b)
	}
	threshold, err := dec.ReadUint16(binary.LittleEndian)
	if err != nil {
		return err
	}
	nMembers, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return err
	}
	members := make([]squads.Member, nMembers)
	voters := 0
	for i := range members {
		b, err := dec.ReadNBytes(32)
		if err != nil {
			return err
		}
		members[i].Key = solana.PublicKeyFromBytes(b)
		if members[i].Permissions, err = dec.ReadUint8(); err != nil {
			return err
		}
		if members[i].CanVote() {
			voters++
		}
	}
	timeLock, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return err
	}
	if threshold == 0 || int(threshold) > voters {
		return errors.New("invalid threshold")
	}
	s.multisigs[msAddr] = &squads.Multisig{
		CreateKey:       createKey,
		ConfigAuthority: configAuthority,
		Threshold:       threshold,
		TimeLock:        timeLock,
		Members:         members,
		Bump:            255,
	}
	return nil
}

func (s *scratchState) vaultTransactionCreate(accounts []solana.PublicKey, args []byte, signers map[solana.PublicKey]bool) error {
	if len(accounts) < 5 {
		return errors.New("vault_transaction_create: not enough accounts")
	}
	msAddr, txAddr, creator := accounts[0], accounts[1], accounts[2]
	ms, ok := s.multisigs[msAddr]
	if !ok {
		return fmt.Errorf("multisig %s does not exist", msAddr)
	}
	if !signers[creator] {
		return errors.New("creator did not sign")
	}
	if _, exists := s.vaultTxs[txAddr]; exists {
		return fmt.Errorf("account %s already in use", txAddr)
	}
	index := ms.TransactionIndex + 1
	expected := squads.TransactionPDA(s.parent.squadsProgram, msAddr, index)
	if !txAddr.Equals(expected) {
		// A stale index derives a PDA that either exists already or fails the
		// seeds check; either way the submission is rejected whole.
		return fmt.Errorf("account %s already in use", txAddr)
	}

	dec := bin.NewBorshDecoder(args)
	vaultIndex, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	ephemeral, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	msgLen, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return err
	}
	msgBytes, err := dec.ReadNBytes(int(msgLen))
	if err != nil {
		return err
	}
	var msg squads.TransactionMessage
	if err := msg.UnmarshalWithDecoder(bin.NewBorshDecoder(msgBytes)); err != nil {
		return fmt.Errorf("decode transaction message: %w", err)
	}
	if ephemeral != 0 {
		return errors.New("ephemeral signers unsupported")
	}

	ms.TransactionIndex = index
	s.vaultTxs[txAddr] = &squads.VaultTransaction{
		Multisig:   msAddr,
		Creator:    creator,
		Index:      index,
		VaultIndex: vaultIndex,
		Message:    msg,
	}
	return nil
}

func (s *scratchState) proposalCreate(accounts []solana.PublicKey, args []byte, signers map[solana.PublicKey]bool) error {
	if len(accounts) < 5 {
		return errors.New("proposal_create: not enough accounts")
	}
	msAddr, propAddr, creator := accounts[0], accounts[1], accounts[2]
	ms, ok := s.multisigs[msAddr]
	if !ok {
		return fmt.Errorf("multisig %s does not exist", msAddr)
	}
	if !signers[creator] {
		return errors.New("creator did not sign")
	}
	if _, exists := s.proposals[propAddr]; exists {
		return fmt.Errorf("account %s already in use", propAddr)
	}
	dec := bin.NewBorshDecoder(args)
	index, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return err
	}
	draft, err := dec.ReadBool()
	if err != nil {
		return err
	}
	if index > ms.TransactionIndex {
		return fmt.Errorf("proposal index %d beyond transaction index %d", index, ms.TransactionIndex)
	}
	status := squads.ProposalStatus{Kind: squads.StatusActive, Timestamp: s.tick()}
	if draft {
		status.Kind = squads.StatusDraft
	}
	s.proposals[propAddr] = &squads.Proposal{
		Multisig:         msAddr,
		TransactionIndex: index,
		Status:           status,
	}
	return nil
}

func (s *scratchState) proposalApprove(accounts []solana.PublicKey, signers map[solana.PublicKey]bool) error {
	if len(accounts) < 3 {
		return errors.New("proposal_approve: not enough accounts")
	}
	msAddr, member, propAddr := accounts[0], accounts[1], accounts[2]
	ms, ok := s.multisigs[msAddr]
	if !ok {
		return fmt.Errorf("multisig %s does not exist", msAddr)
	}
	prop, ok := s.proposals[propAddr]
	if !ok {
		return fmt.Errorf("proposal %s does not exist", propAddr)
	}
	if !signers[member] {
		return errors.New("member did not sign")
	}
	entry, ok := ms.MemberByKey(member)
	if !ok || !entry.CanVote() {
		return errors.New("unauthorized: member lacks vote permission")
	}
	if prop.Status.Kind != squads.StatusActive && prop.Status.Kind != squads.StatusApproved {
		return fmt.Errorf("invalid proposal status %s", prop.Status.Kind)
	}
	if prop.HasApproved(member) {
		return errors.New("member already approved")
	}
	prop.Approved = append(prop.Approved, member)
	if prop.Status.Kind == squads.StatusActive && len(prop.Approved) >= int(ms.Threshold) {
		prop.Status = squads.ProposalStatus{Kind: squads.StatusApproved, Timestamp: s.tick()}
	}
	return nil
}

func (s *scratchState) vaultTransactionExecute(accounts []solana.PublicKey, signers map[solana.PublicKey]bool) error {
	if len(accounts) < 4 {
		return errors.New("vault_transaction_execute: not enough accounts")
	}
	msAddr, propAddr, txAddr, member := accounts[0], accounts[1], accounts[2], accounts[3]
	ms, ok := s.multisigs[msAddr]
	if !ok {
		return fmt.Errorf("multisig %s does not exist", msAddr)
	}
	prop, ok := s.proposals[propAddr]
	if !ok {
		return fmt.Errorf("proposal %s does not exist", propAddr)
	}
	vtx, ok := s.vaultTxs[txAddr]
	if !ok {
		return fmt.Errorf("vault transaction %s does not exist", txAddr)
	}
	if !signers[member] {
		return errors.New("member did not sign")
	}
	entry, ok := ms.MemberByKey(member)
	if !ok || !entry.CanExecute() {
		return errors.New("unauthorized: member lacks execute permission")
	}
	if prop.Status.Kind != squads.StatusApproved {
		return fmt.Errorf("invalid proposal status %s", prop.Status.Kind)
	}
	if len(prop.Approved) < int(ms.Threshold) {
		return errors.New("approvals below threshold")
	}

	// The vault's signature exists only inside this invoke path.
	innerSigners := make(map[solana.PublicKey]bool, len(signers))
	for k, v := range signers {
		innerSigners[k] = v
	}
	msg := &vtx.Message
	for i := 0; i < int(msg.NumSigners) && i < len(msg.AccountKeys); i++ {
		innerSigners[msg.AccountKeys[i]] = true
	}
	for _, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(msg.AccountKeys) {
			return errors.New("program index out of range")
		}
		program := msg.AccountKeys[ci.ProgramIDIndex]
		inner := make([]solana.PublicKey, len(ci.AccountIndexes))
		for i, idx := range ci.AccountIndexes {
			if int(idx) >= len(msg.AccountKeys) {
				return errors.New("account index out of range")
			}
			inner[i] = msg.AccountKeys[idx]
		}
		if err := s.dispatch(program, inner, ci.Data, innerSigners); err != nil {
			return fmt.Errorf("inner instruction failed: %w", err)
		}
	}
	prop.Status = squads.ProposalStatus{Kind: squads.StatusExecuted, Timestamp: s.tick()}
	return nil
}

func (s *scratchState) dispatchNTT(manager solana.PublicKey, accounts []solana.PublicKey, data []byte, signers map[solana.PublicKey]bool) error {
	st := s.managers[manager]
	if len(data) < 8 {
		return errors.New("instruction data too short")
	}
	disc, args := data[:8], data[8:]
	switch {
	case bytes.Equal(disc, discriminator("transfer_ownership")):
		if len(accounts) < 3 {
			return errors.New("transfer_ownership: not enough accounts")
		}
		owner, newOwner := accounts[1], accounts[2]
		if !signers[owner] {
			return errors.New("owner did not sign")
		}
		if !owner.Equals(st.config.Owner) {
			return errors.New("signer is not the current owner")
		}
		po := newOwner
		st.pendingOwner = &po
		return nil

	case bytes.Equal(disc, discriminator("claim_ownership")):
		if len(accounts) < 3 {
			return errors.New("claim_ownership: not enough accounts")
		}
		newOwner := accounts[2]
		if st.pendingOwner == nil {
			return errors.New("no pending ownership transfer")
		}
		if !newOwner.Equals(*st.pendingOwner) {
			return errors.New("claimer is not the pending owner")
		}
		if !signers[newOwner] {
			return errors.New("pending owner did not sign")
		}
		st.config.Owner = newOwner
		st.pendingOwner = nil
		return nil

	case bytes.Equal(disc, discriminator("set_outbound_limit")):
		return s.setLimit(st, accounts, args, signers, false)

	case bytes.Equal(disc, discriminator("set_inbound_limit")):
		return s.setLimit(st, accounts, args, signers, true)

	case bytes.Equal(disc, discriminator("set_paused")):
		if len(accounts) < 2 {
			return errors.New("set_paused: not enough accounts")
		}
		owner := accounts[0]
		if !signers[owner] || !owner.Equals(st.config.Owner) {
			return errors.New("unauthorized")
		}
		dec := bin.NewBorshDecoder(args)
		paused, err := dec.ReadBool()
		if err != nil {
			return err
		}
		st.paused = paused
		return nil
	}
	return fmt.Errorf("unknown ntt instruction %x", disc)
}

func (s *scratchState) setLimit(st *managerState, accounts []solana.PublicKey, args []byte, signers map[solana.PublicKey]bool, inbound bool) error {
	if len(accounts) < 3 {
		return errors.New("set limit: not enough accounts")
	}
	owner, rateLimit := accounts[1], accounts[2]
	if !signers[owner] {
		return errors.New("owner did not sign")
	}
	if !owner.Equals(st.config.Owner) {
		return errors.New("signer is not the current owner")
	}
	dec := bin.NewBorshDecoder(args)
	limit, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return err
	}
	if inbound {
		if _, err := dec.ReadUint16(binary.LittleEndian); err != nil {
			return err
		}
	}
	st.rateLimits[rateLimit] = limit
	return nil
}
