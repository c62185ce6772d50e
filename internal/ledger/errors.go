package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrNotFound is returned by AccountData when the account does not exist at the
// requested commitment level.
var ErrNotFound = errors.New("account not found")

// SubmissionError wraps a ledger rejection of a submitted transaction. The whole
// bundle is atomic, so nothing partial persists and the caller may retry after
// re-validating preconditions.
type SubmissionError struct {
	Op  string
	Sig solana.Signature
	Err error
}

func (e *SubmissionError) Error() string {
	if e.Sig.IsZero() {
		return fmt.Sprintf("%s: submission failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: submission failed (sig %s): %v", e.Op, e.Sig, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TimeoutError means confirmation was not observed within the bound. The outcome
// is ambiguous: the caller must re-query ledger state before retrying.
type TimeoutError struct {
	Op  string
	Sig solana.Signature
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: confirmation timed out (sig %s), outcome unknown", e.Op, e.Sig)
}
