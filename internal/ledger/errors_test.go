package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAccountInUse(t *testing.T) {
	inUse := &SubmissionError{
		Op:  "propose_transaction",
		Err: errors.New("Allocate: account Address { ... } already in use"),
	}
	assert.True(t, IsAccountInUse(inUse))
	assert.True(t, IsAccountInUse(fmt.Errorf("submit: %w", inUse)))

	assert.True(t, IsAccountInUse(&SubmissionError{
		Op:  "propose_transaction",
		Err: errors.New("custom program error: account already initialized"),
	}))

	assert.False(t, IsAccountInUse(&SubmissionError{
		Op:  "propose_transaction",
		Err: errors.New("insufficient funds for rent"),
	}))
	assert.False(t, IsAccountInUse(errors.New("account already in use")))
	assert.False(t, IsAccountInUse(nil))
}

func TestSubmissionErrorUnwrap(t *testing.T) {
	cause := errors.New("blockhash not found")
	err := &SubmissionError{Op: "proposal_approve", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "proposal_approve")
}
