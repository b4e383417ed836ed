package withdraw_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"gamebridge/internal/domain"
	"gamebridge/internal/ledger"
	"gamebridge/internal/store"
	"gamebridge/internal/store/memory"
	"gamebridge/internal/wallet"
	"gamebridge/internal/withdraw"
)

func testConfig() withdraw.Config {
	return withdraw.Config{
		MinWithdrawal:       1000,
		RakeBps:             500, // 5%
		ChainUnitsPerPebble: decimal.NewFromInt(1),
		LiquidityBuffer:     decimal.Zero,
	}
}

func seedAccount(t *testing.T, st store.Store, walletID string, pebbles int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.GetOrCreateAccount(ctx, walletID); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := st.AdjustBalance(ctx, walletID, domain.CurrencyPebbles, pebbles); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func TestImmediateWithdrawal(t *testing.T) {
	st := memory.New()
	cust := wallet.NewFake(decimal.NewFromInt(1_000_000))
	q := withdraw.NewQueue(st, ledger.New(st, nil), cust, nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, st, "alice", 10_000)

	out, err := q.Request(ctx, "alice", 5000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if out.Status != withdraw.StatusCompleted {
		t.Fatalf("status = %q, want completed", out.Status)
	}
	req := out.Request
	if req.GrossPebbles != 5000 || req.RakePebbles != 250 || req.NetPebbles != 4750 {
		t.Fatalf("amounts = gross %d rake %d net %d", req.GrossPebbles, req.RakePebbles, req.NetPebbles)
	}
	if req.SettlementTx == "" {
		t.Fatal("completed withdrawal has no settlement tx")
	}
	if out.Account.Pebbles != 5000 {
		t.Fatalf("balance after hold = %d, want 5000", out.Account.Pebbles)
	}

	// The custodial wallet paid out the net amount in chain units.
	if len(cust.Sends) != 1 || !cust.Sends[0].Amount.Equal(decimal.NewFromInt(4750)) {
		t.Fatalf("custodial sends = %+v", cust.Sends)
	}

	acct, _ := st.GetAccount(ctx, "alice")
	if acct.TotalWithdrawn != 4750 || acct.TotalRakePaid != 250 {
		t.Fatalf("counters = withdrawn %d rake %d", acct.TotalWithdrawn, acct.TotalRakePaid)
	}
}

func TestBelowMinimum(t *testing.T) {
	st := memory.New()
	q := withdraw.NewQueue(st, ledger.New(st, nil), wallet.NewFake(decimal.NewFromInt(1_000_000)), nil, nil, testConfig())
	seedAccount(t, st, "alice", 10_000)

	_, err := q.Request(context.Background(), "alice", 999)
	if domain.CodeOf(err) != domain.CodeBelowMinimum {
		t.Fatalf("err = %v, want BELOW_MINIMUM", err)
	}
	// No debit happened.
	acct, _ := st.GetAccount(context.Background(), "alice")
	if acct.Pebbles != 10_000 {
		t.Fatalf("balance = %d, want untouched 10000", acct.Pebbles)
	}
}

func TestInsufficientFunds(t *testing.T) {
	st := memory.New()
	q := withdraw.NewQueue(st, ledger.New(st, nil), wallet.NewFake(decimal.NewFromInt(1_000_000)), nil, nil, testConfig())
	seedAccount(t, st, "alice", 2000)

	_, err := q.Request(context.Background(), "alice", 3000)
	if domain.CodeOf(err) != domain.CodeInsufficientFunds {
		t.Fatalf("err = %v, want INSUFFICIENT_FUNDS", err)
	}
}

func TestQueuedWhenIlliquid(t *testing.T) {
	st := memory.New()
	cust := wallet.NewFake(decimal.Zero) // No liquidity at all
	q := withdraw.NewQueue(st, ledger.New(st, nil), cust, nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, st, "alice", 10_000)

	out, err := q.Request(ctx, "alice", 2000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if out.Status != withdraw.StatusQueued {
		t.Fatalf("status = %q, want queued", out.Status)
	}
	if out.Request.QueuePosition == nil || *out.Request.QueuePosition != 1 {
		t.Fatalf("queue position = %v, want 1", out.Request.QueuePosition)
	}
	// Funds are held even while queued.
	if out.Account.Pebbles != 8000 {
		t.Fatalf("balance = %d, want 8000", out.Account.Pebbles)
	}

	out2, err := q.Request(ctx, "alice", 2000)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if out2.Request.QueuePosition == nil || *out2.Request.QueuePosition != 2 {
		t.Fatalf("second queue position = %v, want 2", out2.Request.QueuePosition)
	}
}

func TestProcessQueueStrictFIFO(t *testing.T) {
	st := memory.New()
	cust := wallet.NewFake(decimal.NewFromInt(5000))
	cust.Lock() // Force both requests onto the queue
	q := withdraw.NewQueue(st, ledger.New(st, nil), cust, nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, st, "alice", 10_000)
	seedAccount(t, st, "bob", 10_000)

	first, err := q.Request(ctx, "alice", 5000) // net 4750
	if err != nil {
		t.Fatalf("alice request: %v", err)
	}
	second, err := q.Request(ctx, "bob", 5000)
	if err != nil {
		t.Fatalf("bob request: %v", err)
	}

	// Liquidity covers only the first payout; the second must wait
	// rather than skip ahead on the next sweep.
	if err := cust.Unlock(ctx, ""); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	n, err := q.ProcessQueue(ctx, 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	got1, _ := st.GetWithdrawal(ctx, first.Request.ID)
	if got1.Status != domain.WithdrawalCompleted {
		t.Fatalf("first status = %q, want completed", got1.Status)
	}
	got2, _ := st.GetWithdrawal(ctx, second.Request.ID)
	if got2.Status != domain.WithdrawalPending {
		t.Fatalf("second status = %q, want still pending", got2.Status)
	}
	if got2.QueuePosition == nil || *got2.QueuePosition != 2 {
		t.Fatalf("second queue position = %v, want kept at 2", got2.QueuePosition)
	}
}

func TestRecoverRequeuesInterruptedPayout(t *testing.T) {
	st := memory.New()
	cust := wallet.NewFake(decimal.NewFromInt(1_000_000))
	cust.Lock() // Force the request onto the queue
	q := withdraw.NewQueue(st, ledger.New(st, nil), cust, nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, st, "alice", 10_000)

	out, err := q.Request(ctx, "alice", 5000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	// Simulate a crash after the row was claimed but before the send
	// finished: the row stays in processing with no sweep picking it up.
	if claimed, err := st.MarkWithdrawalProcessing(ctx, out.Request.ID); err != nil || !claimed {
		t.Fatalf("claim: %v (%v)", claimed, err)
	}
	if n, err := q.ProcessQueue(ctx, 10); err != nil || n != 0 {
		t.Fatalf("sweep before recovery = %d (%v), want 0", n, err)
	}

	n, err := q.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}
	got, _ := st.GetWithdrawal(ctx, out.Request.ID)
	if got.Status != domain.WithdrawalPending {
		t.Fatalf("status after recovery = %q, want pending", got.Status)
	}
	if got.QueuePosition == nil || *got.QueuePosition != 1 {
		t.Fatalf("queue position = %v, want kept at 1", got.QueuePosition)
	}

	// The recovered row pays out on the next sweep.
	if err := cust.Unlock(ctx, ""); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if n, err := q.ProcessQueue(ctx, 10); err != nil || n != 1 {
		t.Fatalf("sweep after recovery = %d (%v), want 1", n, err)
	}
}

func TestSendFailureReturnsToPending(t *testing.T) {
	st := memory.New()
	cust := wallet.NewFake(decimal.NewFromInt(1_000_000))
	cust.Lock()
	q := withdraw.NewQueue(st, ledger.New(st, nil), cust, nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, st, "alice", 10_000)

	out, err := q.Request(ctx, "alice", 5000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := cust.Unlock(ctx, ""); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	cust.FailNext = 1
	n, err := q.ProcessQueue(ctx, 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 0 {
		t.Fatalf("processed = %d, want 0 after injected failure", n)
	}
	got, _ := st.GetWithdrawal(ctx, out.Request.ID)
	if got.Status != domain.WithdrawalPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.Attempts != 1 || got.FailureReason == "" {
		t.Fatalf("attempts = %d, reason = %q", got.Attempts, got.FailureReason)
	}
	// Failure keeps the queue position, so the retry keeps its place.
	if got.QueuePosition == nil || *got.QueuePosition != 1 {
		t.Fatalf("queue position = %v, want kept at 1", got.QueuePosition)
	}

	// Next sweep succeeds.
	n, err = q.ProcessQueue(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("retry sweep = %d, %v", n, err)
	}
	got, _ = st.GetWithdrawal(ctx, out.Request.ID)
	if got.Status != domain.WithdrawalCompleted || got.SettlementTx == "" {
		t.Fatalf("after retry = %+v", got)
	}
}

func TestCancelRefundsGross(t *testing.T) {
	st := memory.New()
	cust := wallet.NewFake(decimal.Zero)
	q := withdraw.NewQueue(st, ledger.New(st, nil), cust, nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, st, "alice", 10_000)

	out, err := q.Request(ctx, "alice", 5000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req, acct, err := q.Cancel(ctx, "alice", out.Request.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if req.Status != domain.WithdrawalCancelled || req.QueuePosition != nil {
		t.Fatalf("cancelled request = %+v", req)
	}
	// The full gross amount comes back, rake included.
	if acct.Pebbles != 10_000 {
		t.Fatalf("balance = %d, want 10000", acct.Pebbles)
	}

	// Cancelled is terminal.
	if _, _, err := q.Cancel(ctx, "alice", out.Request.ID); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("second cancel err = %v, want VALIDATION", err)
	}
}

func TestCancelOnlyOwn(t *testing.T) {
	st := memory.New()
	q := withdraw.NewQueue(st, ledger.New(st, nil), wallet.NewFake(decimal.Zero), nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, st, "alice", 10_000)
	seedAccount(t, st, "bob", 10_000)

	out, err := q.Request(ctx, "alice", 5000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	// Another wallet cannot see, let alone cancel, the request.
	if _, _, err := q.Cancel(ctx, "bob", out.Request.ID); domain.CodeOf(err) != domain.CodeNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

// appendFailStore drops every queue append, forcing the compensation
// path after the hold debit already landed.
type appendFailStore struct {
	store.Store
}

func (s *appendFailStore) AppendPendingWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	return errors.New("store unavailable")
}

func TestAppendFailureCompensatesDebit(t *testing.T) {
	mem := memory.New()
	st := &appendFailStore{Store: mem}
	cust := wallet.NewFake(decimal.Zero) // No liquidity, so the request must queue
	q := withdraw.NewQueue(st, ledger.New(st, nil), cust, nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, mem, "alice", 10_000)

	_, err := q.Request(ctx, "alice", 5000)
	if domain.CodeOf(err) != domain.CodeInternal {
		t.Fatalf("err = %v, want INTERNAL", err)
	}
	// Debit without a tracked obligation must never survive.
	acct, _ := mem.GetAccount(ctx, "alice")
	if acct.Pebbles != 10_000 {
		t.Fatalf("balance = %d, want 10000 after compensation", acct.Pebbles)
	}
}

func TestQueueStatus(t *testing.T) {
	st := memory.New()
	q := withdraw.NewQueue(st, ledger.New(st, nil), wallet.NewFake(decimal.Zero), nil, nil, testConfig())
	ctx := context.Background()
	seedAccount(t, st, "alice", 50_000)

	for i := 0; i < 3; i++ {
		if _, err := q.Request(ctx, "alice", 2000); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	status, err := q.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Pending != 3 || status.Processing != 0 {
		t.Fatalf("status = %+v", status)
	}
	if status.PendingNetPebbles != 3*1900 {
		t.Fatalf("pending net = %d, want 5700", status.PendingNetPebbles)
	}
}
