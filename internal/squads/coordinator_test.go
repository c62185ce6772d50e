package squads_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"custodia-go/internal/ledger"
	"custodia-go/internal/ledgertest"
	"custodia-go/internal/ntt"
	"custodia-go/internal/squads"
)

type groupFixture struct {
	fake     *ledgertest.Fake
	coord    *squads.Coordinator
	multisig solana.PublicKey
	vault    solana.PublicKey
	manager  solana.PublicKey

	proposer solana.PrivateKey // propose + vote
	voter    solana.PrivateKey // vote only
	executor solana.PrivateKey // execute only
}

// newGroupFixture stands up a three member, threshold two group whose vault
// owns a freshly seeded token manager.
func newGroupFixture(t *testing.T) *groupFixture {
	t.Helper()
	fake := ledgertest.New()
	coord := squads.NewCoordinator(fake, squads.DefaultProgramID, zap.NewNop())

	f := &groupFixture{
		fake:     fake,
		coord:    coord,
		proposer: solana.NewWallet().PrivateKey,
		voter:    solana.NewWallet().PrivateKey,
		executor: solana.NewWallet().PrivateKey,
		manager:  solana.NewWallet().PublicKey(),
	}

	res, err := coord.Create(context.Background(), f.proposer, []squads.Member{
		{Key: f.proposer.PublicKey(), Permissions: squads.PermissionPropose | squads.PermissionVote},
		{Key: f.voter.PublicKey(), Permissions: squads.PermissionVote},
		{Key: f.executor.PublicKey(), Permissions: squads.PermissionExecute},
	}, 2, 0)
	require.NoError(t, err)

	f.multisig = res.Multisig
	f.vault = res.Vault
	fake.SeedManager(f.manager, f.vault)
	return f
}

func (f *groupFixture) limitBundle(t *testing.T, limit uint64) []solana.Instruction {
	t.Helper()
	ix, err := ntt.NewSetOutboundLimitInstruction(f.manager, f.vault, limit)
	require.NoError(t, err)
	return []solana.Instruction{ix}
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	fake := ledgertest.New()
	coord := squads.NewCoordinator(fake, squads.DefaultProgramID, zap.NewNop())
	payer := solana.NewWallet().PrivateKey

	_, err := coord.Create(context.Background(), payer, []squads.Member{
		{Key: payer.PublicKey(), Permissions: squads.PermissionVote},
	}, 2, 0)
	var cfgErr *squads.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCreatePersistsGroupRecord(t *testing.T) {
	f := newGroupFixture(t)

	ms := f.fake.Multisig(f.multisig)
	require.NotNil(t, ms)
	assert.Equal(t, uint16(2), ms.Threshold)
	assert.Len(t, ms.Members, 3)
	assert.Equal(t, f.coord.Vault(f.multisig, 0), f.vault)

	next, err := f.coord.NextIndex(context.Background(), f.multisig)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)
}

func TestProposalLifecycle(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	res, err := f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 2_150_000_000),
		Creator:      f.proposer,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Index)

	prop, err := f.coord.FetchProposal(ctx, f.multisig, 1)
	require.NoError(t, err)
	assert.Equal(t, squads.StatusActive, prop.Status.Kind)
	assert.Empty(t, prop.Approved)

	// first vote stays below the threshold
	prop, err = f.coord.Approve(ctx, f.multisig, 1, f.proposer)
	require.NoError(t, err)
	assert.Equal(t, squads.StatusActive, prop.Status.Kind)
	assert.Len(t, prop.Approved, 1)

	// second vote crosses it
	prop, err = f.coord.Approve(ctx, f.multisig, 1, f.voter)
	require.NoError(t, err)
	assert.Equal(t, squads.StatusApproved, prop.Status.Kind)
	assert.Len(t, prop.Approved, 2)

	// repeat vote is refused client-side
	_, err = f.coord.Approve(ctx, f.multisig, 1, f.voter)
	var voted *squads.AlreadyVotedError
	require.ErrorAs(t, err, &voted)
	assert.Equal(t, f.voter.PublicKey(), voted.Member)

	// execution replays the bundle under the vault's signature
	_, err = f.coord.Execute(ctx, f.multisig, 1, f.executor)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_150_000_000), f.fake.OutboundLimit(f.manager))

	prop, err = f.coord.FetchProposal(ctx, f.multisig, 1)
	require.NoError(t, err)
	assert.Equal(t, squads.StatusExecuted, prop.Status.Kind)

	// terminal states accept no further transitions
	_, err = f.coord.Execute(ctx, f.multisig, 1, f.executor)
	var invalid *squads.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	_, err = f.coord.Approve(ctx, f.multisig, 1, f.voter)
	require.ErrorAs(t, err, &invalid)
}

func TestPermissionChecks(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	var permErr *squads.PermissionError

	// executor cannot propose
	_, err := f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 1),
		Creator:      f.executor,
	})
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "Propose", permErr.Needed)

	// non-member cannot propose either
	_, err = f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 1),
		Creator:      solana.NewWallet().PrivateKey,
	})
	require.ErrorAs(t, err, &permErr)

	res, err := f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 1),
		Creator:      f.proposer,
	})
	require.NoError(t, err)

	// executor holds no vote permission
	_, err = f.coord.Approve(ctx, f.multisig, res.Index, f.executor)
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "Vote", permErr.Needed)

	// voter holds no execute permission
	_, err = f.coord.Approve(ctx, f.multisig, res.Index, f.proposer)
	require.NoError(t, err)
	_, err = f.coord.Approve(ctx, f.multisig, res.Index, f.voter)
	require.NoError(t, err)
	_, err = f.coord.Execute(ctx, f.multisig, res.Index, f.voter)
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "Execute", permErr.Needed)
}

func TestExecuteRequiresApprovedStatus(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	_, err := f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 1),
		Creator:      f.proposer,
	})
	require.NoError(t, err)

	_, err = f.coord.Execute(ctx, f.multisig, 1, f.executor)
	var invalid *squads.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, squads.StatusActive, invalid.Status)
}

func TestDuplicateIndexDetectedByProbe(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	params := squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 1),
		Creator:      f.proposer,
	}
	_, err := f.coord.ProposeTransaction(ctx, params)
	require.NoError(t, err)

	_, err = f.coord.ProposeTransaction(ctx, params)
	var dup *squads.DuplicateIndexError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, uint64(1), dup.Index)
}

func TestDuplicateIndexDetectedAtSubmission(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	params := squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 1),
		Creator:      f.proposer,
	}
	_, err := f.coord.ProposeTransaction(ctx, params)
	require.NoError(t, err)

	// the probe misses, so the conflict only surfaces when the ledger
	// rejects the submission
	f.fake.HideOnce(squads.TransactionPDA(squads.DefaultProgramID, f.multisig, 1))
	_, err = f.coord.ProposeTransaction(ctx, params)
	var dup *squads.DuplicateIndexError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, uint64(1), dup.Index)
}

// staleReader serves a stale snapshot of a single account (once, or on every
// read), so a caller observes an index counter another proposer has already
// moved past.
type staleReader struct {
	*ledgertest.Fake
	addr   solana.PublicKey
	stale  []byte
	always bool
	served bool
}

func (s *staleReader) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	if (s.always || !s.served) && addr.Equals(s.addr) {
		s.served = true
		return s.stale, nil
	}
	return s.Fake.AccountData(ctx, addr)
}

func TestProposeWithRetryWinsIndexRace(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	// index 1 lands, then we snapshot the group record so the stale view
	// still advertises 2 as the next free index
	_, err := f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 1),
		Creator:      f.proposer,
	})
	require.NoError(t, err)
	stale, err := f.fake.AccountData(ctx, f.multisig)
	require.NoError(t, err)

	// a concurrent proposer claims index 2
	_, err = f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        2,
		Instructions: f.limitBundle(t, 2),
		Creator:      f.proposer,
	})
	require.NoError(t, err)

	staleLedger := &staleReader{Fake: f.fake, addr: f.multisig, stale: stale}
	coord := squads.NewCoordinator(staleLedger, squads.DefaultProgramID, zap.NewNop())

	res, err := coord.ProposeWithRetry(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Instructions: f.limitBundle(t, 3),
		Creator:      f.proposer,
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Index)
	assert.Equal(t, squads.StatusActive, f.fake.Proposal(f.multisig, 3).Status.Kind)
}

func TestProposeWithRetryGivesUp(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	_, err := f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: f.limitBundle(t, 1),
		Creator:      f.proposer,
	})
	require.NoError(t, err)
	stale, err := f.fake.AccountData(ctx, f.multisig)
	require.NoError(t, err)

	// another proposer occupies the index the stale counter points at
	_, err = f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        2,
		Instructions: f.limitBundle(t, 2),
		Creator:      f.proposer,
	})
	require.NoError(t, err)

	// every read returns the stale counter, so every attempt collides
	alwaysStale := &staleReader{Fake: f.fake, addr: f.multisig, stale: stale, always: true}
	coord := squads.NewCoordinator(alwaysStale, squads.DefaultProgramID, zap.NewNop())
	_, err = coord.ProposeWithRetry(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Instructions: f.limitBundle(t, 3),
		Creator:      f.proposer,
	}, 3)
	var dup *squads.DuplicateIndexError
	require.ErrorAs(t, err, &dup)
	assert.Contains(t, err.Error(), "gave up after 3")
}

func TestSelfApproveSingleOperatorFlow(t *testing.T) {
	fake := ledgertest.New()
	coord := squads.NewCoordinator(fake, squads.DefaultProgramID, zap.NewNop())
	operator := solana.NewWallet().PrivateKey

	res, err := coord.Create(context.Background(), operator, []squads.Member{
		{Key: operator.PublicKey(), Permissions: squads.PermissionFull},
	}, 1, 0)
	require.NoError(t, err)

	manager := solana.NewWallet().PublicKey()
	fake.SeedManager(manager, res.Vault)

	ix, err := ntt.NewSetPausedInstruction(manager, res.Vault, true)
	require.NoError(t, err)

	ctx := context.Background()
	pres, err := coord.ProposeWithRetry(ctx, squads.ProposeParams{
		Multisig:     res.Multisig,
		Instructions: []solana.Instruction{ix},
		Creator:      operator,
		SelfApprove:  true,
	}, 3)
	require.NoError(t, err)

	// with threshold one the self vote is enough
	prop, err := coord.FetchProposal(ctx, res.Multisig, pres.Index)
	require.NoError(t, err)
	require.Equal(t, squads.StatusApproved, prop.Status.Kind)

	_, err = coord.Execute(ctx, res.Multisig, pres.Index, operator)
	require.NoError(t, err)
	assert.True(t, fake.Paused(manager))
}

func TestSelfApproveRequiresVotePermission(t *testing.T) {
	fake := ledgertest.New()
	coord := squads.NewCoordinator(fake, squads.DefaultProgramID, zap.NewNop())
	proposer := solana.NewWallet().PrivateKey
	voter := solana.NewWallet().PrivateKey

	res, err := coord.Create(context.Background(), proposer, []squads.Member{
		{Key: proposer.PublicKey(), Permissions: squads.PermissionPropose},
		{Key: voter.PublicKey(), Permissions: squads.PermissionVote},
	}, 1, 0)
	require.NoError(t, err)

	manager := solana.NewWallet().PublicKey()
	fake.SeedManager(manager, res.Vault)
	ix, err := ntt.NewSetPausedInstruction(manager, res.Vault, true)
	require.NoError(t, err)

	_, err = coord.ProposeTransaction(context.Background(), squads.ProposeParams{
		Multisig:     res.Multisig,
		Index:        1,
		Instructions: []solana.Instruction{ix},
		Creator:      proposer,
		SelfApprove:  true,
	})
	var permErr *squads.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "Vote", permErr.Needed)
}

func TestStoredBundleSurvivesRoundTrip(t *testing.T) {
	f := newGroupFixture(t)
	ctx := context.Background()

	bundle := f.limitBundle(t, 42)
	_, err := f.coord.ProposeTransaction(ctx, squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: bundle,
		Creator:      f.proposer,
	})
	require.NoError(t, err)

	vtx, err := f.coord.FetchVaultTransaction(ctx, f.multisig, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), vtx.VaultIndex)
	assert.Equal(t, f.vault, vtx.Message.AccountKeys[0])

	data, err := bundle[0].Data()
	require.NoError(t, err)
	require.Len(t, vtx.Message.Instructions, 1)
	assert.Equal(t, data, vtx.Message.Instructions[0].Data)

	_, err = f.coord.FetchVaultTransaction(ctx, f.multisig, 9)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}
