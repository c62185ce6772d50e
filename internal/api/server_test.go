package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"custodia-go/internal/api"
	"custodia-go/internal/ledgertest"
	"custodia-go/internal/ntt"
	"custodia-go/internal/squads"
)

type apiFixture struct {
	fake     *ledgertest.Fake
	coord    *squads.Coordinator
	server   *api.Server
	multisig solana.PublicKey
	proposer solana.PrivateKey
	voter    solana.PrivateKey
}

// newAPIFixture serves the approval API with the voter's key, over a threshold
// two group that already has proposal 1 open.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	fake := ledgertest.New()
	coord := squads.NewCoordinator(fake, squads.DefaultProgramID, zap.NewNop())

	f := &apiFixture{
		fake:     fake,
		coord:    coord,
		proposer: solana.NewWallet().PrivateKey,
		voter:    solana.NewWallet().PrivateKey,
	}
	res, err := coord.Create(context.Background(), f.proposer, []squads.Member{
		{Key: f.proposer.PublicKey(), Permissions: squads.PermissionFull},
		{Key: f.voter.PublicKey(), Permissions: squads.PermissionVote},
	}, 2, 0)
	require.NoError(t, err)
	f.multisig = res.Multisig

	manager := solana.NewWallet().PublicKey()
	fake.SeedManager(manager, res.Vault)
	ix, err := ntt.NewSetPausedInstruction(manager, res.Vault, true)
	require.NoError(t, err)
	_, err = coord.ProposeTransaction(context.Background(), squads.ProposeParams{
		Multisig:     f.multisig,
		Index:        1,
		Instructions: []solana.Instruction{ix},
		Creator:      f.proposer,
	})
	require.NoError(t, err)

	f.server = api.New(coord, f.voter, zap.NewNop())
	return f
}

func (f *apiFixture) request(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestGetMultisigInfo(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/multisig/"+f.multisig.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var info struct {
		Threshold        uint16 `json:"threshold"`
		TransactionIndex uint64 `json:"transactionIndex"`
	}
	decodeBody(t, rec, &info)
	assert.Equal(t, uint16(2), info.Threshold)
	assert.Equal(t, uint64(1), info.TransactionIndex)
}

func TestGetMultisigInfoNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/multisig/"+solana.NewWallet().PublicKey().String())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodGet, "/multisig/not-a-pubkey")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProposal(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/multisig/"+f.multisig.String()+"/proposal/1")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Status    string   `json:"status"`
		Approvals []string `json:"approvals"`
		Threshold uint16   `json:"threshold"`
	}
	decodeBody(t, rec, &view)
	assert.Equal(t, "Active", view.Status)
	assert.Empty(t, view.Approvals)
	assert.Equal(t, uint16(2), view.Threshold)

	rec = f.request(t, http.MethodGet, "/multisig/"+f.multisig.String()+"/proposal/9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveProposal(t *testing.T) {
	f := newAPIFixture(t)
	path := "/multisig/" + f.multisig.String() + "/proposal/1/approve"

	rec := f.request(t, http.MethodPost, path)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Status    string   `json:"status"`
		Approvals []string `json:"approvals"`
	}
	decodeBody(t, rec, &view)
	assert.Equal(t, "Active", view.Status)
	assert.Equal(t, []string{f.voter.PublicKey().String()}, view.Approvals)

	// voting twice through the service conflicts
	rec = f.request(t, http.MethodPost, path)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveWithoutVotePermission(t *testing.T) {
	f := newAPIFixture(t)

	// a server keyed by a non-member cannot vote
	outsider := api.New(f.coord, solana.NewWallet().PrivateKey, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/multisig/"+f.multisig.String()+"/proposal/1/approve", nil)
	rec := httptest.NewRecorder()
	outsider.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApproveTerminalProposalConflicts(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	_, err := f.coord.Approve(ctx, f.multisig, 1, f.proposer)
	require.NoError(t, err)
	_, err = f.coord.Approve(ctx, f.multisig, 1, f.voter)
	require.NoError(t, err)
	_, err = f.coord.Execute(ctx, f.multisig, 1, f.proposer)
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/multisig/"+f.multisig.String()+"/proposal/1/approve")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
