package squads

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"custodia-go/internal/ledger"
)

// Coordinator drives the threshold transaction lifecycle against one squads
// program deployment: index allocation, bundle construction, proposal,
// approval aggregation, execution. All authoritative state lives on the
// ledger; the coordinator validates preconditions client-side so expected
// failures surface as typed errors before a submission is wasted.
type Coordinator struct {
	ledger    ledger.Interface
	programID solana.PublicKey
	log       *zap.Logger
}

func NewCoordinator(l ledger.Interface, programID solana.PublicKey, log *zap.Logger) *Coordinator {
	if programID.IsZero() {
		programID = DefaultProgramID
	}
	return &Coordinator{ledger: l, programID: programID, log: log}
}

func (c *Coordinator) ProgramID() solana.PublicKey { return c.programID }

// Vault derives the group's vault address for an index.
func (c *Coordinator) Vault(multisig solana.PublicKey, index uint8) solana.PublicKey {
	return VaultPDA(c.programID, multisig, index)
}

// CreateResult is the handle returned by Create.
type CreateResult struct {
	Signature solana.Signature
	Multisig  solana.PublicKey
	Vault     solana.PublicKey
}

// Create allocates a new multisig record and its first vault. The creation key
// is generated here, signs the creation transaction once, and is discarded;
// only its public half survives, inside the derived address.
func (c *Coordinator) Create(
	ctx context.Context,
	payer solana.PrivateKey,
	members []Member,
	threshold uint16,
	timeLock uint32,
) (*CreateResult, error) {
	if err := ValidateConfig(members, threshold); err != nil {
		return nil, err
	}

	createKey := solana.NewWallet().PrivateKey
	multisigPDA := MultisigPDA(c.programID, createKey.PublicKey())
	programConfigPDA := ProgramConfigPDA(c.programID)

	programConfig, err := c.FetchProgramConfig(ctx)
	if err != nil {
		return nil, err
	}

	ix, err := NewMultisigCreateInstruction(
		c.programID,
		CreateArgs{Threshold: threshold, Members: members, TimeLock: timeLock},
		programConfigPDA,
		programConfig.Treasury,
		multisigPDA,
		createKey.PublicKey(),
		payer.PublicKey(),
	)
	if err != nil {
		return nil, err
	}

	sig, err := c.signAndSubmit(ctx, "multisig_create", []solana.Instruction{ix},
		payer.PublicKey(), payer, createKey)
	if err != nil {
		return nil, err
	}

	vault := VaultPDA(c.programID, multisigPDA, 0)
	c.log.Info("multisig created",
		zap.Stringer("multisig", multisigPDA),
		zap.Stringer("vault", vault),
		zap.Uint16("threshold", threshold),
		zap.Int("members", len(members)))
	return &CreateResult{Signature: sig, Multisig: multisigPDA, Vault: vault}, nil
}

// FetchProgramConfig loads the program's global config, holding the treasury
// that collects creation fees.
func (c *Coordinator) FetchProgramConfig(ctx context.Context) (*ProgramConfig, error) {
	data, err := c.ledger.AccountData(ctx, ProgramConfigPDA(c.programID))
	if err != nil {
		return nil, fmt.Errorf("fetch program config: %w", err)
	}
	return DecodeProgramConfig(data)
}

// FetchMultisig loads and decodes the group record.
func (c *Coordinator) FetchMultisig(ctx context.Context, addr solana.PublicKey) (*Multisig, error) {
	data, err := c.ledger.AccountData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch multisig %s: %w", addr, err)
	}
	return DecodeMultisig(data)
}

// FetchProposal loads the voting record for an index.
func (c *Coordinator) FetchProposal(ctx context.Context, multisig solana.PublicKey, index uint64) (*Proposal, error) {
	addr := ProposalPDA(c.programID, multisig, index)
	data, err := c.ledger.AccountData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch proposal %d (%s): %w", index, addr, err)
	}
	return DecodeProposal(data)
}

// FetchVaultTransaction loads the recorded bundle for an index.
func (c *Coordinator) FetchVaultTransaction(ctx context.Context, multisig solana.PublicKey, index uint64) (*VaultTransaction, error) {
	addr := TransactionPDA(c.programID, multisig, index)
	data, err := c.ledger.AccountData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch vault transaction %d (%s): %w", index, addr, err)
	}
	return DecodeVaultTransaction(data)
}

// NextIndex reads the group's counter and returns the next free index. The
// value is advisory: it is not reserved until a proposal is accepted, so a
// concurrent proposer may claim it first (see ProposeWithRetry).
func (c *Coordinator) NextIndex(ctx context.Context, multisig solana.PublicKey) (uint64, error) {
	ms, err := c.FetchMultisig(ctx, multisig)
	if err != nil {
		return 0, err
	}
	return ms.TransactionIndex + 1, nil
}

// ProposeParams parameterizes ProposeTransaction.
type ProposeParams struct {
	Multisig     solana.PublicKey
	Index        uint64
	VaultIndex   uint8
	Instructions []solana.Instruction
	Creator      solana.PrivateKey
	// SelfApprove additionally casts the creator's Approve vote in the same
	// ledger transaction, as the single-operator flow does.
	SelfApprove bool
	Memo        *string
}

// ProposeResult reports the accepted bundle and its voting record address.
type ProposeResult struct {
	Signature   solana.Signature
	Index       uint64
	Transaction solana.PublicKey
	Proposal    solana.PublicKey
}

// ProposeTransaction atomically records the instruction bundle and opens its
// proposal in status Active. Returns DuplicateIndexError when the index is
// already occupied, whether detected up front or by losing the race at the
// ledger.
func (c *Coordinator) ProposeTransaction(ctx context.Context, p ProposeParams) (*ProposeResult, error) {
	ms, err := c.FetchMultisig(ctx, p.Multisig)
	if err != nil {
		return nil, err
	}
	member, ok := ms.MemberByKey(p.Creator.PublicKey())
	if !ok || !member.CanPropose() {
		return nil, &PermissionError{Member: p.Creator.PublicKey(), Needed: "Propose"}
	}
	if p.SelfApprove && !member.CanVote() {
		return nil, &PermissionError{Member: p.Creator.PublicKey(), Needed: "Vote"}
	}

	txPDA := TransactionPDA(c.programID, p.Multisig, p.Index)
	if _, err := c.ledger.AccountData(ctx, txPDA); err == nil {
		return nil, &DuplicateIndexError{Index: p.Index}
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("probe transaction index %d: %w", p.Index, err)
	}

	vault := VaultPDA(c.programID, p.Multisig, p.VaultIndex)
	message, err := CompileMessage(vault, p.Instructions)
	if err != nil {
		return nil, err
	}
	messageBytes, err := message.Bytes()
	if err != nil {
		return nil, err
	}

	proposalPDA := ProposalPDA(c.programID, p.Multisig, p.Index)
	createIx, err := NewVaultTransactionCreateInstruction(
		c.programID, p.Multisig, txPDA, p.Creator.PublicKey(),
		p.VaultIndex, 0, messageBytes, p.Memo)
	if err != nil {
		return nil, err
	}
	proposalIx, err := NewProposalCreateInstruction(
		c.programID, p.Multisig, proposalPDA, p.Creator.PublicKey(), p.Index, false)
	if err != nil {
		return nil, err
	}
	instrs := []solana.Instruction{createIx, proposalIx}
	if p.SelfApprove {
		approveIx, err := NewProposalApproveInstruction(
			c.programID, p.Multisig, p.Creator.PublicKey(), proposalPDA, nil)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, approveIx)
	}

	sig, err := c.signAndSubmit(ctx, "propose_transaction", instrs, p.Creator.PublicKey(), p.Creator)
	if err != nil {
		if ledger.IsAccountInUse(err) {
			// Lost the index race after the probe passed.
			return nil, &DuplicateIndexError{Index: p.Index}
		}
		return nil, err
	}
	c.log.Info("proposal created",
		zap.Stringer("multisig", p.Multisig),
		zap.Uint64("index", p.Index),
		zap.Bool("self_approved", p.SelfApprove))
	return &ProposeResult{
		Signature:   sig,
		Index:       p.Index,
		Transaction: txPDA,
		Proposal:    proposalPDA,
	}, nil
}

// ProposeWithRetry runs the read-index, attempt, retry-on-conflict loop. Each
// attempt re-reads the counter; only DuplicateIndexError triggers a retry.
func (c *Coordinator) ProposeWithRetry(
	ctx context.Context,
	p ProposeParams,
	maxAttempts int,
) (*ProposeResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		index, err := c.NextIndex(ctx, p.Multisig)
		if err != nil {
			return nil, err
		}
		p.Index = index
		res, err := c.ProposeTransaction(ctx, p)
		if err == nil {
			return res, nil
		}
		var dup *DuplicateIndexError
		if !errors.As(err, &dup) {
			return nil, err
		}
		c.log.Warn("lost transaction index race, retrying",
			zap.Uint64("index", index), zap.Int("attempt", attempt+1))
		lastErr = err
	}
	return nil, fmt.Errorf("propose: gave up after %d index conflicts: %w", maxAttempts, lastErr)
}

// Approve casts a member's vote and returns the refreshed proposal. The status
// flip to Approved happens on the ledger once approvals reach the threshold.
func (c *Coordinator) Approve(
	ctx context.Context,
	multisig solana.PublicKey,
	index uint64,
	member solana.PrivateKey,
) (*Proposal, error) {
	ms, err := c.FetchMultisig(ctx, multisig)
	if err != nil {
		return nil, err
	}
	entry, ok := ms.MemberByKey(member.PublicKey())
	if !ok || !entry.CanVote() {
		return nil, &PermissionError{Member: member.PublicKey(), Needed: "Vote"}
	}

	proposal, err := c.FetchProposal(ctx, multisig, index)
	if err != nil {
		return nil, err
	}
	if proposal.Status.Kind.Terminal() || proposal.Status.Kind == StatusExecuting {
		return nil, &InvalidStateError{Index: index, Status: proposal.Status.Kind, Op: "approve"}
	}
	if proposal.HasApproved(member.PublicKey()) {
		return nil, &AlreadyVotedError{Member: member.PublicKey(), Index: index}
	}

	proposalPDA := ProposalPDA(c.programID, multisig, index)
	ix, err := NewProposalApproveInstruction(c.programID, multisig, member.PublicKey(), proposalPDA, nil)
	if err != nil {
		return nil, err
	}
	if _, err := c.signAndSubmit(ctx, "proposal_approve", []solana.Instruction{ix},
		member.PublicKey(), member); err != nil {
		return nil, err
	}

	updated, err := c.FetchProposal(ctx, multisig, index)
	if err != nil {
		return nil, err
	}
	c.log.Info("proposal approved",
		zap.Uint64("index", index),
		zap.Stringer("member", member.PublicKey()),
		zap.Int("approvals", len(updated.Approved)),
		zap.Uint16("threshold", ms.Threshold),
		zap.String("status", updated.Status.Kind.String()))
	return updated, nil
}

// Execute replays the recorded bundle under the vault's signature. Only legal
// from Approved; the ledger applies the bundle all-or-nothing, so a failed
// submission leaves the proposal Approved and Execute may be retried as is.
func (c *Coordinator) Execute(
	ctx context.Context,
	multisig solana.PublicKey,
	index uint64,
	executor solana.PrivateKey,
) (solana.Signature, error) {
	ms, err := c.FetchMultisig(ctx, multisig)
	if err != nil {
		return solana.Signature{}, err
	}
	entry, ok := ms.MemberByKey(executor.PublicKey())
	if !ok || !entry.CanExecute() {
		return solana.Signature{}, &PermissionError{Member: executor.PublicKey(), Needed: "Execute"}
	}

	proposal, err := c.FetchProposal(ctx, multisig, index)
	if err != nil {
		return solana.Signature{}, err
	}
	if proposal.Status.Kind != StatusApproved {
		return solana.Signature{}, &InvalidStateError{Index: index, Status: proposal.Status.Kind, Op: "execute"}
	}

	vaultTx, err := c.FetchVaultTransaction(ctx, multisig, index)
	if err != nil {
		return solana.Signature{}, err
	}

	proposalPDA := ProposalPDA(c.programID, multisig, index)
	txPDA := TransactionPDA(c.programID, multisig, index)
	ix, err := NewVaultTransactionExecuteInstruction(
		c.programID, multisig, proposalPDA, txPDA, executor.PublicKey(), &vaultTx.Message)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := c.signAndSubmit(ctx, "vault_transaction_execute", []solana.Instruction{ix},
		executor.PublicKey(), executor)
	if err != nil {
		return solana.Signature{}, err
	}
	c.log.Info("proposal executed", zap.Uint64("index", index), zap.Stringer("sig", sig))
	return sig, nil
}

// signAndSubmit assembles, signs and submits one ledger transaction.
func (c *Coordinator) signAndSubmit(
	ctx context.Context,
	op string,
	instrs []solana.Instruction,
	payer solana.PublicKey,
	signers ...solana.PrivateKey,
) (solana.Signature, error) {
	blockhash, err := c.ledger.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%s: build transaction: %w", op, err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if key.Equals(signers[i].PublicKey()) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%s: sign transaction: %w", op, err)
	}
	return c.ledger.SendAndConfirm(ctx, op, tx)
}
