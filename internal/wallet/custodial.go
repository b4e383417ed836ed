// Package wallet defines the contract against the custodial wallet
// service: the externally-controlled signer holding operational
// liquidity for withdrawal payouts and on-chain wager settlements.
package wallet

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrLocked is returned by SendFunds while the signer is locked.
var ErrLocked = errors.New("custodial signer is locked")

// SendResult carries the settlement transaction id of a successful
// payout.
type SendResult struct {
	TxID string
}

// Custodial is the sendFunds/getBalance contract. Balance and amounts
// are in smallest on-chain units.
type Custodial interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	SendFunds(ctx context.Context, recipient string, amount decimal.Decimal) (SendResult, error)
	Ready() bool
	Unlock(ctx context.Context, passphrase string) error
}
