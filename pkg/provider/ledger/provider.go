// Package ledger defines the Provider interface for the credit ledger that
// bills owners for generated narrations.
//
// Implementations must be safe for concurrent use.
package ledger

import "context"

// DebitRequest describes one debit against an owner's balance.
type DebitRequest struct {
	OwnerID     string            `json:"owner_id"`
	Amount      int64             `json:"amount"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// AllowNegativeBalance lets the debit succeed even when the owner's
	// balance is insufficient.
	AllowNegativeBalance bool `json:"allow_negative_balance"`
}

// DebitResult is the ledger's answer to a debit.
type DebitResult struct {
	Success      bool  `json:"success"`
	BalanceAfter int64 `json:"balance_after"`
}

// Provider is the abstraction over a credit ledger.
type Provider interface {
	// Debit charges req.Amount to req.OwnerID. A non-nil error means the
	// ledger could not be reached or rejected the request outright; a result
	// with Success == false means the ledger declined the debit.
	Debit(ctx context.Context, req DebitRequest) (*DebitResult, error)
}
