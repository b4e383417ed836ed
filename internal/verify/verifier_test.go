package verify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"gamebridge/internal/chain"
	"gamebridge/internal/domain"
	"gamebridge/internal/ratelimit"
	"gamebridge/internal/store"
	"gamebridge/internal/store/memory"
	"gamebridge/internal/verify"
)

// fakeChain serves canned transactions, optionally hiding each one for
// its first fetch to exercise the retry path.
type fakeChain struct {
	mu          sync.Mutex
	txs         map[string]*chain.Tx
	hideOnce    map[string]bool
	fetchCounts map[string]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:         make(map[string]*chain.Tx),
		hideOnce:    make(map[string]bool),
		fetchCounts: make(map[string]int),
	}
}

func (f *fakeChain) FetchConfirmedTransfer(ctx context.Context, signature string) (*chain.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCounts[signature]++
	if f.hideOnce[signature] {
		f.hideOnce[signature] = false
		return nil, nil
	}
	return f.txs[signature], nil
}

func tokenTx(sig, sender, recipient, mint string, amount uint64) *chain.Tx {
	return &chain.Tx{
		Signature: sig,
		Slot:      42,
		BlockTime: 1700000000,
		TokenTransfers: []chain.TokenTransfer{{
			Authority:        sender,
			DestinationOwner: recipient,
			Mint:             mint,
			Amount:           amount,
		}},
	}
}

func newVerifier(t *testing.T, fc *fakeChain, st *memory.Store) *verify.Verifier {
	t.Helper()
	guard := verify.NewReplayGuard(st)
	limiter := ratelimit.NewMemory(100, time.Minute)
	v := verify.New(fc, guard, limiter, st, nil)
	v.SetRetryDelay(time.Millisecond)
	return v
}

var exp = verify.Expectation{
	Sender:    "alice",
	Recipient: "treasury",
	TokenMint: "mint-1",
	Amount:    5000,
}

func TestVerifyTokenTransfer(t *testing.T) {
	fc := newFakeChain()
	fc.txs["sig-1"] = tokenTx("sig-1", "alice", "treasury", "mint-1", 5000)
	st := memory.New()
	v := newVerifier(t, fc, st)

	res, err := v.VerifyTokenTransfer(context.Background(), "sig-1", exp, domain.TransferDeposit)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Sender != "alice" || res.Recipient != "treasury" || res.Amount != 5000 {
		t.Fatalf("result = %+v", res)
	}
	if res.Slot != 42 || res.BlockTime != 1700000000 {
		t.Fatalf("chain metadata = slot %d, blocktime %d", res.Slot, res.BlockTime)
	}

	seen, err := st.TransferSeen(context.Background(), "sig-1")
	if err != nil || !seen {
		t.Fatalf("transfer not recorded: seen=%v err=%v", seen, err)
	}
}

func TestReplayRejected(t *testing.T) {
	fc := newFakeChain()
	fc.txs["sig-1"] = tokenTx("sig-1", "alice", "treasury", "mint-1", 5000)
	st := memory.New()
	v := newVerifier(t, fc, st)
	ctx := context.Background()

	if _, err := v.VerifyTokenTransfer(ctx, "sig-1", exp, domain.TransferDeposit); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	_, err := v.VerifyTokenTransfer(ctx, "sig-1", exp, domain.TransferDeposit)
	if domain.CodeOf(err) != domain.CodeReplayDetected {
		t.Fatalf("second verify err = %v, want SIGNATURE_ALREADY_USED", err)
	}
	// The replay must be rejected before another chain fetch.
	if n := fc.fetchCounts["sig-1"]; n != 1 {
		t.Fatalf("chain fetches = %d, want 1", n)
	}
}

// A restart clears the in-memory set; the persistent record must still
// reject the replay.
func TestReplaySurvivesRestart(t *testing.T) {
	fc := newFakeChain()
	fc.txs["sig-1"] = tokenTx("sig-1", "alice", "treasury", "mint-1", 5000)
	st := memory.New()
	ctx := context.Background()

	if _, err := newVerifier(t, fc, st).VerifyTokenTransfer(ctx, "sig-1", exp, domain.TransferDeposit); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	restarted := newVerifier(t, fc, st) // fresh guard, same store
	_, err := restarted.VerifyTokenTransfer(ctx, "sig-1", exp, domain.TransferDeposit)
	if domain.CodeOf(err) != domain.CodeReplayDetected {
		t.Fatalf("err = %v, want SIGNATURE_ALREADY_USED", err)
	}
}

func TestRetryWhenNotYetVisible(t *testing.T) {
	fc := newFakeChain()
	fc.txs["sig-1"] = tokenTx("sig-1", "alice", "treasury", "mint-1", 5000)
	fc.hideOnce["sig-1"] = true
	st := memory.New()
	v := newVerifier(t, fc, st)

	if _, err := v.VerifyTokenTransfer(context.Background(), "sig-1", exp, domain.TransferDeposit); err != nil {
		t.Fatalf("verify after retry: %v", err)
	}
	if n := fc.fetchCounts["sig-1"]; n != 2 {
		t.Fatalf("chain fetches = %d, want 2", n)
	}
}

func TestTxNotFound(t *testing.T) {
	v := newVerifier(t, newFakeChain(), memory.New())
	_, err := v.VerifyTokenTransfer(context.Background(), "missing", exp, domain.TransferDeposit)
	if domain.CodeOf(err) != domain.CodeTxNotFound {
		t.Fatalf("err = %v, want TX_NOT_FOUND", err)
	}
}

func TestFailedTransaction(t *testing.T) {
	fc := newFakeChain()
	tx := tokenTx("sig-1", "alice", "treasury", "mint-1", 5000)
	tx.Failed = true
	fc.txs["sig-1"] = tx
	v := newVerifier(t, fc, memory.New())

	_, err := v.VerifyTokenTransfer(context.Background(), "sig-1", exp, domain.TransferDeposit)
	if domain.CodeOf(err) != domain.CodeTxFailed {
		t.Fatalf("err = %v, want TX_FAILED", err)
	}
}

func TestMismatchRejected(t *testing.T) {
	cases := map[string]*chain.Tx{
		"wrong sender":    tokenTx("s", "mallory", "treasury", "mint-1", 5000),
		"wrong recipient": tokenTx("s", "alice", "mallory", "mint-1", 5000),
		"wrong mint":      tokenTx("s", "alice", "treasury", "mint-2", 5000),
		"amount too low":  tokenTx("s", "alice", "treasury", "mint-1", 4999),
	}
	for name, tx := range cases {
		t.Run(name, func(t *testing.T) {
			fc := newFakeChain()
			fc.txs["s"] = tx
			v := newVerifier(t, fc, memory.New())
			_, err := v.VerifyTokenTransfer(context.Background(), "s", exp, domain.TransferDeposit)
			if domain.CodeOf(err) != domain.CodeNotVerified {
				t.Fatalf("err = %v, want TRANSFER_NOT_VERIFIED", err)
			}
		})
	}
}

// An overpaying transfer still verifies; the expectation amount is a
// minimum.
func TestOverpaymentAccepted(t *testing.T) {
	fc := newFakeChain()
	fc.txs["sig-1"] = tokenTx("sig-1", "alice", "treasury", "mint-1", 9000)
	v := newVerifier(t, fc, memory.New())

	res, err := v.VerifyTokenTransfer(context.Background(), "sig-1", exp, domain.TransferDeposit)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Amount != 9000 {
		t.Fatalf("amount = %d, want on-chain 9000", res.Amount)
	}
}

func TestNativeTransferFeeTolerance(t *testing.T) {
	nativeExp := verify.Expectation{Sender: "alice", Recipient: "treasury", Amount: 100_000}

	nativeTx := func(amount uint64) *chain.Tx {
		return &chain.Tx{
			NativeTransfers: []chain.NativeTransfer{{
				Source:      "alice",
				Destination: "treasury",
				Amount:      amount,
			}},
		}
	}

	fc := newFakeChain()
	fc.txs["close"] = nativeTx(95_000) // Within the fee tolerance
	fc.txs["short"] = nativeTx(80_000) // Too far below

	v := newVerifier(t, fc, memory.New())
	if _, err := v.VerifyNativeTransfer(context.Background(), "close", nativeExp); err != nil {
		t.Fatalf("within tolerance: %v", err)
	}
	_, err := v.VerifyNativeTransfer(context.Background(), "short", nativeExp)
	if domain.CodeOf(err) != domain.CodeNotVerified {
		t.Fatalf("below tolerance err = %v, want TRANSFER_NOT_VERIFIED", err)
	}
}

func TestRateLimited(t *testing.T) {
	fc := newFakeChain()
	st := memory.New()
	guard := verify.NewReplayGuard(st)
	v := verify.New(fc, guard, ratelimit.NewMemory(2, time.Minute), st, nil)
	v.SetRetryDelay(time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := v.VerifyTokenTransfer(ctx, "missing", exp, domain.TransferDeposit); domain.CodeOf(err) != domain.CodeTxNotFound {
			t.Fatalf("attempt %d err = %v, want TX_NOT_FOUND", i, err)
		}
	}
	_, err := v.VerifyTokenTransfer(ctx, "missing", exp, domain.TransferDeposit)
	de, ok := err.(*domain.Error)
	if !ok || de.Code != domain.CodeRateLimited {
		t.Fatalf("err = %v, want RATE_LIMITED", err)
	}
	if de.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %v, want > 0", de.RetryAfter)
	}
}

// duplicateStore simulates a concurrent verification winning the
// insert race for the persistent transfer record.
type duplicateStore struct {
	store.Store
}

func (s *duplicateStore) InsertTransfer(ctx context.Context, rec *domain.ChainTransferRecord) error {
	return store.ErrDuplicate
}

func TestInsertRaceReportsReplay(t *testing.T) {
	fc := newFakeChain()
	fc.txs["sig-1"] = tokenTx("sig-1", "alice", "treasury", "mint-1", 5000)
	st := &duplicateStore{Store: memory.New()}
	guard := verify.NewReplayGuard(st)
	v := verify.New(fc, guard, ratelimit.NewMemory(100, time.Minute), st, nil)
	v.SetRetryDelay(time.Millisecond)

	_, err := v.VerifyTokenTransfer(context.Background(), "sig-1", exp, domain.TransferDeposit)
	if domain.CodeOf(err) != domain.CodeReplayDetected {
		t.Fatalf("err = %v, want SIGNATURE_ALREADY_USED", err)
	}
}
