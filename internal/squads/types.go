package squads

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Permission bits, matching the on-chain mask.
const (
	PermissionPropose uint8 = 1 << 0
	PermissionVote    uint8 = 1 << 1
	PermissionExecute uint8 = 1 << 2
	PermissionFull          = PermissionPropose | PermissionVote | PermissionExecute
)

// Member is one entry of a multisig's ordered member set.
type Member struct {
	Key         solana.PublicKey
	Permissions uint8
}

func (m Member) CanPropose() bool { return m.Permissions&PermissionPropose != 0 }
func (m Member) CanVote() bool    { return m.Permissions&PermissionVote != 0 }
func (m Member) CanExecute() bool { return m.Permissions&PermissionExecute != 0 }

// ProposalStatusKind enumerates the proposal state machine. The on-chain record
// stores most variants with the transition timestamp.
type ProposalStatusKind uint8

const (
	StatusDraft ProposalStatusKind = iota
	StatusActive
	StatusRejected
	StatusApproved
	StatusExecuting
	StatusExecuted
	StatusCancelled
)

func (k ProposalStatusKind) String() string {
	switch k {
	case StatusDraft:
		return "Draft"
	case StatusActive:
		return "Active"
	case StatusRejected:
		return "Rejected"
	case StatusApproved:
		return "Approved"
	case StatusExecuting:
		return "Executing"
	case StatusExecuted:
		return "Executed"
	case StatusCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("ProposalStatus(%d)", uint8(k))
}

// Terminal reports whether no transition leaves this state.
func (k ProposalStatusKind) Terminal() bool {
	return k == StatusExecuted || k == StatusRejected || k == StatusCancelled
}

type ProposalStatus struct {
	Kind ProposalStatusKind
	// Timestamp of entering the state; zero for Executing, which carries none.
	Timestamp int64
}
