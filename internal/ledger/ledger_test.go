package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gamebridge/internal/domain"
	"gamebridge/internal/ledger"
	"gamebridge/internal/store"
	"gamebridge/internal/store/memory"
)

func newAccount(t *testing.T, st *memory.Store, wallet string, pebbles int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.GetOrCreateAccount(ctx, wallet); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if pebbles > 0 {
		if _, err := st.AdjustBalance(ctx, wallet, domain.CurrencyPebbles, pebbles); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
}

func TestCreditWritesAudit(t *testing.T) {
	st := memory.New()
	led := ledger.New(st, nil)
	ctx := context.Background()
	newAccount(t, st, "alice", 0)

	acct, err := led.Credit(ctx, "alice", domain.CurrencyPebbles, 500, ledger.Mutation{
		Type:      domain.AuditDeposit,
		Reference: "sig-1",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if acct.Pebbles != 500 {
		t.Fatalf("balance = %d, want 500", acct.Pebbles)
	}

	recs, total, err := st.ListAudit(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if total != 1 || len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", total)
	}
	rec := recs[0]
	if rec.Type != domain.AuditDeposit || rec.Amount != 500 {
		t.Fatalf("audit record = %+v", rec)
	}
	if rec.BalanceBefore != 0 || rec.BalanceAfter != 500 {
		t.Fatalf("audit balances = %d -> %d, want 0 -> 500", rec.BalanceBefore, rec.BalanceAfter)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	st := memory.New()
	led := ledger.New(st, nil)
	ctx := context.Background()
	newAccount(t, st, "alice", 100)

	_, err := led.Debit(ctx, "alice", domain.CurrencyPebbles, 101, ledger.Mutation{Type: domain.AuditWithdrawalHold})
	if domain.CodeOf(err) != domain.CodeInsufficientFunds {
		t.Fatalf("err = %v, want INSUFFICIENT_FUNDS", err)
	}

	// The failed debit must not leave an audit record.
	if _, total, _ := st.ListAudit(ctx, "alice", 10, 0); total != 0 {
		t.Fatalf("audit records = %d, want 0", total)
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	led := ledger.New(memory.New(), nil)
	_, err := led.Debit(context.Background(), "ghost", domain.CurrencyPebbles, 10, ledger.Mutation{})
	if domain.CodeOf(err) != domain.CodeNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestAmountBounds(t *testing.T) {
	st := memory.New()
	led := ledger.New(st, nil)
	ctx := context.Background()
	newAccount(t, st, "alice", 100)

	for _, amount := range []int64{0, -5, 2_000_000_000} {
		if _, err := led.Credit(ctx, "alice", domain.CurrencyPebbles, amount, ledger.Mutation{}); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("credit %d: err = %v, want VALIDATION", amount, err)
		}
		if _, err := led.Debit(ctx, "alice", domain.CurrencyPebbles, amount, ledger.Mutation{}); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("debit %d: err = %v, want VALIDATION", amount, err)
		}
	}
}

// Concurrent debits against an insufficient balance must not both
// succeed: the conditional store mutation is the only guard.
func TestConcurrentDebits(t *testing.T) {
	st := memory.New()
	led := ledger.New(st, nil)
	ctx := context.Background()
	newAccount(t, st, "alice", 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := led.Debit(ctx, "alice", domain.CurrencyPebbles, 300, ledger.Mutation{Type: domain.AuditEscrowHold}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("successful debits = %d, want 3", succeeded)
	}
	acct, _ := st.GetAccount(ctx, "alice")
	if acct.Pebbles != 100 {
		t.Fatalf("final balance = %d, want 100", acct.Pebbles)
	}
}

func TestTransfer(t *testing.T) {
	st := memory.New()
	led := ledger.New(st, nil)
	ctx := context.Background()
	newAccount(t, st, "alice", 300)
	newAccount(t, st, "bob", 0)

	if err := led.Transfer(ctx, "alice", "bob", domain.CurrencyPebbles, 200, ledger.Mutation{Type: domain.AuditTransfer}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := st.GetAccount(ctx, "alice")
	b, _ := st.GetAccount(ctx, "bob")
	if a.Pebbles != 100 || b.Pebbles != 200 {
		t.Fatalf("balances = %d/%d, want 100/200", a.Pebbles, b.Pebbles)
	}
}

// failingCreditStore rejects balance adjustments for one wallet,
// simulating a credit-leg persistence failure mid-transfer.
type failingCreditStore struct {
	store.Store
	failWallet string
}

func (s *failingCreditStore) AdjustBalance(ctx context.Context, wallet string, cur domain.Currency, delta int64) (domain.Account, error) {
	if wallet == s.failWallet && delta > 0 {
		return domain.Account{}, errors.New("store unavailable")
	}
	return s.Store.AdjustBalance(ctx, wallet, cur, delta)
}

func TestTransferCompensatesFailedCredit(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	newAccount(t, mem, "alice", 300)
	newAccount(t, mem, "bob", 0)

	led := ledger.New(&failingCreditStore{Store: mem, failWallet: "bob"}, nil)
	if err := led.Transfer(ctx, "alice", "bob", domain.CurrencyPebbles, 200, ledger.Mutation{Type: domain.AuditTransfer}); err == nil {
		t.Fatal("transfer succeeded, want error")
	}

	// The debit must have been compensated: alice keeps her funds.
	a, _ := mem.GetAccount(ctx, "alice")
	if a.Pebbles != 300 {
		t.Fatalf("alice balance = %d, want 300 after compensation", a.Pebbles)
	}
	b, _ := mem.GetAccount(ctx, "bob")
	if b.Pebbles != 0 {
		t.Fatalf("bob balance = %d, want 0", b.Pebbles)
	}
}

func TestInvalidatorRunsPerMutation(t *testing.T) {
	st := memory.New()
	led := ledger.New(st, nil)
	ctx := context.Background()
	newAccount(t, st, "alice", 100)

	var mu sync.Mutex
	var invalidated []string
	led.SetInvalidator(func(w string) {
		mu.Lock()
		invalidated = append(invalidated, w)
		mu.Unlock()
	})

	if _, err := led.Credit(ctx, "alice", domain.CurrencyCoins, 50, ledger.Mutation{}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := led.Debit(ctx, "alice", domain.CurrencyCoins, 20, ledger.Mutation{}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if len(invalidated) != 2 {
		t.Fatalf("invalidations = %d, want 2", len(invalidated))
	}
}
