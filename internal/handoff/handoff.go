// Package handoff implements the two-phase delegate-then-claim transfer of a
// protected resource's authority into a multisig vault. Phase 1 is unilateral
// and synchronous; phase 2 can only complete through the group's collective
// authorization path, and stays retryable indefinitely because the escrow
// record persists until claimed.
package handoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"custodia-go/internal/ledger"
	"custodia-go/internal/ntt"
	"custodia-go/internal/squads"
)

// DelegationError means phase 1 did not complete. Nothing downstream was
// attempted, so the system is exactly where it started.
type DelegationError struct {
	Err error
}

func (e *DelegationError) Error() string { return fmt.Sprintf("delegation failed: %v", e.Err) }
func (e *DelegationError) Unwrap() error { return e.Err }

// Protocol drives a handoff for one NTT manager deployment.
type Protocol struct {
	ledger  ledger.Interface
	coord   *squads.Coordinator
	manager solana.PublicKey
	log     *zap.Logger
}

func New(l ledger.Interface, coord *squads.Coordinator, manager solana.PublicKey, log *zap.Logger) *Protocol {
	return &Protocol{ledger: l, coord: coord, manager: manager, log: log}
}

// Params names the actors of a handoff.
type Params struct {
	// Owner is the current sole authority; signs phase 1.
	Owner solana.PrivateKey
	// Multisig is the group that will hold the authority afterwards.
	Multisig solana.PublicKey
	// Member proposes, approves and executes the claim on the group's behalf.
	Member solana.PrivateKey
	// ExpectedVault, when set, must match the derived vault 0 or the whole
	// handoff is refused before touching the ledger. This preserves the
	// manual safety check the production runbook relies on.
	ExpectedVault *solana.PublicKey
	// MaxIndexRetries bounds the proposal index-conflict retry loop.
	MaxIndexRetries int
}

func (p *Protocol) vault(multisig solana.PublicKey) solana.PublicKey {
	return p.coord.Vault(multisig, 0)
}

func (p *Protocol) checkExpectedVault(params Params) (solana.PublicKey, error) {
	vault := p.vault(params.Multisig)
	if params.ExpectedVault != nil && !vault.Equals(*params.ExpectedVault) {
		return solana.PublicKey{}, &squads.ConfigurationError{
			Reason: fmt.Sprintf("derived vault %s does not match expected vault %s", vault, *params.ExpectedVault),
		}
	}
	return vault, nil
}

// Delegate runs phase 1: the sole owner names the vault as pending owner,
// populating the upgrade-lock escrow. Failure aborts the handoff cleanly.
func (p *Protocol) Delegate(ctx context.Context, owner solana.PrivateKey, vault solana.PublicKey) error {
	ix, err := ntt.NewTransferOwnershipInstruction(p.manager, owner.PublicKey(), vault)
	if err != nil {
		return &DelegationError{Err: err}
	}
	blockhash, err := p.ledger.LatestBlockhash(ctx)
	if err != nil {
		return &DelegationError{Err: err}
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash,
		solana.TransactionPayer(owner.PublicKey()))
	if err != nil {
		return &DelegationError{Err: err}
	}
	if _, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner.PublicKey()) {
			return &owner
		}
		return nil
	}); err != nil {
		return &DelegationError{Err: err}
	}
	if _, err := p.ledger.SendAndConfirm(ctx, "transfer_ownership", tx); err != nil {
		return &DelegationError{Err: err}
	}
	p.log.Info("ownership delegated to escrow",
		zap.Stringer("manager", p.manager),
		zap.Stringer("pending_owner", vault))
	return nil
}

// Claim runs phase 2: wraps claim_ownership in a proposal, approves it with
// the member's vote, and executes once the threshold is met. With a threshold
// above one, Claim stops after voting and reports how many approvals are still
// missing; re-running it after the remaining members have voted finishes the
// job.
func (p *Protocol) Claim(ctx context.Context, params Params) (solana.Signature, error) {
	vault, err := p.checkExpectedVault(params)
	if err != nil {
		return solana.Signature{}, err
	}

	claimIx, err := ntt.NewClaimOwnershipInstruction(p.manager, vault)
	if err != nil {
		return solana.Signature{}, err
	}

	retries := params.MaxIndexRetries
	if retries == 0 {
		retries = 3
	}
	res, err := p.coord.ProposeWithRetry(ctx, squads.ProposeParams{
		Multisig:     params.Multisig,
		VaultIndex:   0,
		Instructions: []solana.Instruction{claimIx},
		Creator:      params.Member,
		SelfApprove:  true,
	}, retries)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("propose claim: %w", err)
	}

	return p.executeWhenApproved(ctx, params, res.Index)
}

// ResumeClaim finishes phase 2 for an already-open claim proposal, e.g. after
// a crash between proposing and executing.
func (p *Protocol) ResumeClaim(ctx context.Context, params Params, index uint64) (solana.Signature, error) {
	if _, err := p.checkExpectedVault(params); err != nil {
		return solana.Signature{}, err
	}
	proposal, err := p.coord.FetchProposal(ctx, params.Multisig, index)
	if err != nil {
		return solana.Signature{}, err
	}
	if proposal.Status.Kind == squads.StatusActive && !proposal.HasApproved(params.Member.PublicKey()) {
		if _, err := p.coord.Approve(ctx, params.Multisig, index, params.Member); err != nil {
			return solana.Signature{}, err
		}
	}
	return p.executeWhenApproved(ctx, params, index)
}

func (p *Protocol) executeWhenApproved(ctx context.Context, params Params, index uint64) (solana.Signature, error) {
	proposal, err := p.coord.FetchProposal(ctx, params.Multisig, index)
	if err != nil {
		return solana.Signature{}, err
	}
	if proposal.Status.Kind != squads.StatusApproved {
		ms, err := p.coord.FetchMultisig(ctx, params.Multisig)
		if err != nil {
			return solana.Signature{}, err
		}
		return solana.Signature{}, fmt.Errorf(
			"claim proposal %d has %d of %d required approvals; gather the remaining votes and re-run",
			index, len(proposal.Approved), ms.Threshold)
	}
	sig, err := p.coord.Execute(ctx, params.Multisig, index, params.Member)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("execute claim: %w", err)
	}
	p.log.Info("ownership claimed by vault",
		zap.Stringer("manager", p.manager),
		zap.Uint64("index", index))
	return sig, nil
}

// Run performs both phases in order. A phase 1 failure aborts before anything
// downstream is attempted; a phase 2 failure leaves the resource in the
// escrowed intermediate state, recoverable with Claim or ResumeClaim.
func (p *Protocol) Run(ctx context.Context, params Params) (solana.Signature, error) {
	vault, err := p.checkExpectedVault(params)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := p.Delegate(ctx, params.Owner, vault); err != nil {
		return solana.Signature{}, err
	}
	return p.Claim(ctx, params)
}

// CurrentOwner reads the manager config's owner field.
func (p *Protocol) CurrentOwner(ctx context.Context) (solana.PublicKey, error) {
	data, err := p.ledger.AccountData(ctx, ntt.ConfigPDA(p.manager))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("fetch ntt config: %w", err)
	}
	cfg, err := ntt.DecodeConfig(data)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return cfg.Owner, nil
}

// VerifyVaultOwnership confirms the handoff completed: the config's owner must
// be the multisig's vault 0.
func (p *Protocol) VerifyVaultOwnership(ctx context.Context, multisig solana.PublicKey) error {
	owner, err := p.CurrentOwner(ctx)
	if err != nil {
		return err
	}
	vault := p.vault(multisig)
	if !owner.Equals(vault) {
		return fmt.Errorf("manager owner is %s, not vault %s", owner, vault)
	}
	return nil
}

// IsDelegationFailed reports whether err is a phase 1 failure.
func IsDelegationFailed(err error) bool {
	var d *DelegationError
	return errors.As(err, &d)
}
