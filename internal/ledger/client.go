package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	confirm "github.com/gagliardetto/solana-go/rpc/sendAndConfirmTransaction"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// Interface is the narrow ledger surface the coordinator and handoff protocol
// depend on. Tests substitute an in-memory implementation.
type Interface interface {
	AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendAndConfirm(ctx context.Context, op string, tx *solana.Transaction) (solana.Signature, error)
}

// Client talks to a Solana RPC node plus its websocket endpoint. It is
// constructed once and passed down explicitly; there is no package-level
// connection state.
type Client struct {
	rpc            *rpc.Client
	wsURL          string
	commitment     rpc.CommitmentType
	confirmTimeout time.Duration
	log            *zap.Logger
}

type Option func(*Client)

func WithCommitment(c rpc.CommitmentType) Option {
	return func(cl *Client) { cl.commitment = c }
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.confirmTimeout = d }
}

func New(rpcURL, wsURL string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		rpc:            rpc.New(rpcURL),
		wsURL:          wsURL,
		commitment:     rpc.CommitmentConfirmed,
		confirmTimeout: 90 * time.Second,
		log:            log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AccountData fetches the raw account bytes, or ErrNotFound.
func (c *Client) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch account %s: %w", addr, err)
	}
	if out.Value == nil {
		return nil, ErrNotFound
	}
	return out.Value.Data.GetBinary(), nil
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SendAndConfirm submits a signed transaction and waits for confirmation over
// the websocket subscription, bounded by the configured timeout. On timeout the
// signature is surfaced so the caller can re-query before retrying.
func (c *Client) SendAndConfirm(ctx context.Context, op string, tx *solana.Transaction) (solana.Signature, error) {
	wsClient, err := ws.Connect(ctx, c.wsURL)
	if err != nil {
		return solana.Signature{}, &SubmissionError{Op: op, Err: fmt.Errorf("ws connect: %w", err)}
	}
	defer wsClient.Close()

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	sig, err := confirm.SendAndConfirmTransaction(ctx, c.rpc, wsClient, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("confirmation timed out", zap.String("op", op), zap.Stringer("sig", sig))
			return sig, &TimeoutError{Op: op, Sig: sig}
		}
		return sig, &SubmissionError{Op: op, Sig: sig, Err: err}
	}
	c.log.Info("transaction confirmed", zap.String("op", op), zap.Stringer("sig", sig))
	return sig, nil
}

// DryRun serializes a signed transaction and returns its base58 encoding
// without sending it, for offline inspection.
func (c *Client) DryRun(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}
	return base58.Encode(raw), nil
}

// IsAccountInUse reports whether a submission error looks like the ledger's
// account-already-initialized rejection, the signature of losing an index race.
func IsAccountInUse(err error) bool {
	var sub *SubmissionError
	if !errors.As(err, &sub) {
		return false
	}
	msg := strings.ToLower(sub.Err.Error())
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already initialized")
}
