package squads

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ConfigurationError rejects an invalid group setup: bad threshold, empty or
// duplicated member list, or an expected/derived address mismatch. Not
// retryable without fixing the input.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid multisig configuration: " + e.Reason
}

// PermissionError means the actor lacks the capability required by the
// operation. Another authorized actor may retry the same operation.
type PermissionError struct {
	Member solana.PublicKey
	Needed string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("member %s lacks %s permission", e.Member, e.Needed)
}

// DuplicateIndexError means another transaction already claimed the index. The
// caller re-reads the counter and retries with a fresh index.
type DuplicateIndexError struct {
	Index uint64
}

func (e *DuplicateIndexError) Error() string {
	return fmt.Sprintf("transaction index %d already occupied", e.Index)
}

// AlreadyVotedError means the member is already in the proposal's approval set.
// The proposal state is unchanged; a double vote never double-counts.
type AlreadyVotedError struct {
	Member solana.PublicKey
	Index  uint64
}

func (e *AlreadyVotedError) Error() string {
	return fmt.Sprintf("member %s already approved proposal %d", e.Member, e.Index)
}

// InvalidStateError means the requested transition is not legal from the
// proposal's current status.
type InvalidStateError struct {
	Index  uint64
	Status ProposalStatusKind
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s proposal %d in status %s", e.Op, e.Index, e.Status)
}
