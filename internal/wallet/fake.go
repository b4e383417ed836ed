package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Fake is an in-memory Custodial used by tests and dev mode. Liquidity
// is drained by successful sends; failures can be injected.
type Fake struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	locked   bool
	nextTx   int
	FailNext int // Number of upcoming sends to fail
	Sends    []FakeSend
}

type FakeSend struct {
	Recipient string
	Amount    decimal.Decimal
	TxID      string
}

func NewFake(balance decimal.Decimal) *Fake {
	return &Fake{balance: balance}
}

func (f *Fake) Balance(ctx context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *Fake) SendFunds(ctx context.Context, recipient string, amount decimal.Decimal) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return SendResult{}, ErrLocked
	}
	if f.FailNext > 0 {
		f.FailNext--
		return SendResult{}, fmt.Errorf("injected send failure")
	}
	if f.balance.LessThan(amount) {
		return SendResult{}, fmt.Errorf("insufficient custodial liquidity")
	}
	f.balance = f.balance.Sub(amount)
	f.nextTx++
	res := SendResult{TxID: fmt.Sprintf("tx-%d", f.nextTx)}
	f.Sends = append(f.Sends, FakeSend{Recipient: recipient, Amount: amount, TxID: res.TxID})
	return res, nil
}

func (f *Fake) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.locked
}

func (f *Fake) Lock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = true
}

func (f *Fake) Unlock(ctx context.Context, passphrase string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = false
	return nil
}

var _ Custodial = (*Fake)(nil)
