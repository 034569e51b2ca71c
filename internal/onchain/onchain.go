// Package onchain defines the collaborator contract for settling a match's
// bet on the escrow program (§6.4). The escrow program itself is a
// non-goal; this package only speaks the narrow interface the admin
// settlement-retry loop needs, plus an HTTP-based client grounded on that
// interface.
package onchain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when the collaborator could not complete a
// call against its single configured RPC URL (transport error, timeout or
// non-2xx response, after any retries). HTTPClient does not report a
// rejection by the program itself as a separate error.
var ErrUnavailable = errors.New("onchain: rpc unavailable")

// SettlementRequest carries everything the escrow program needs to pay out
// a settled match.
type SettlementRequest struct {
	MatchID   string
	Player1   string
	Player2   string
	BetAmount string // decimal.String(), kept as a string at this boundary
	Winner    string // "" for a tie
}

// SettlementResult is the on-chain confirmation of a settlement.
type SettlementResult struct {
	GameID string
}

// DepositInfo is the resolved detail of a submitted transaction signature,
// looked up on-chain so confirmDeposit can validate it before crediting a
// balance (§4.2): recipient must be the platform vault, sender must be the
// claiming user, mint must be USDC, and amount must be positive.
type DepositInfo struct {
	Recipient string
	Sender    string
	Mint      string
	Amount    decimal.Decimal
}

// TransferResult is the on-chain confirmation of a withdrawal transfer.
type TransferResult struct {
	TxSignature string
}

// Client submits match settlements, deposit lookups, and withdrawal
// transfers to the escrow program / chain RPC.
type Client interface {
	Settle(ctx context.Context, req SettlementRequest) (SettlementResult, error)

	// VerifyDeposit queries the chain for txSig and returns its recipient,
	// sender, mint, and amount. owner is the address claiming the deposit;
	// callers use it only to narrow the lookup where the RPC supports doing
	// so, the actual sender/mint/amount validation is the caller's job.
	VerifyDeposit(ctx context.Context, txSig, owner string) (DepositInfo, error)

	// Transfer submits an on-chain USDC transfer of amount to recipient,
	// creating the recipient's associated token account if necessary, and
	// returns the transaction signature (§4.2 processWithdrawal).
	Transfer(ctx context.Context, recipient string, amount decimal.Decimal) (TransferResult, error)
}
