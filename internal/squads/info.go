package squads

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// MultisigInfo is a flattened view of a group record for display and the HTTP
// status service.
type MultisigInfo struct {
	Address               solana.PublicKey `json:"address"`
	Threshold             uint16           `json:"threshold"`
	TimeLock              uint32           `json:"timeLock"`
	Members               []Member         `json:"members"`
	DefaultVault          solana.PublicKey `json:"defaultVault"`
	TransactionIndex      uint64           `json:"transactionIndex"`
	StaleTransactionIndex uint64           `json:"staleTransactionIndex"`
}

// Info fetches the group record and derives its default vault.
func (c *Coordinator) Info(ctx context.Context, addr solana.PublicKey) (*MultisigInfo, error) {
	ms, err := c.FetchMultisig(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &MultisigInfo{
		Address:               addr,
		Threshold:             ms.Threshold,
		TimeLock:              ms.TimeLock,
		Members:               ms.Members,
		DefaultVault:          VaultPDA(c.programID, addr, 0),
		TransactionIndex:      ms.TransactionIndex,
		StaleTransactionIndex: ms.StaleTransactionIndex,
	}, nil
}
