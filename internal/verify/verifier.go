// Package verify validates claimed on-chain transfers and off-chain
// signed intents before any balance is credited. An unmatched
// transaction is rejected outright: false negatives over false
// positives, since money is at stake.
package verify

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gamebridge/internal/chain"
	"gamebridge/internal/domain"
	"gamebridge/internal/events"
	"gamebridge/internal/ratelimit"
	"gamebridge/internal/store"

	"github.com/sirupsen/logrus"
)

// nativeFeeTolerance absorbs the network fee when matching plain value
// transfers, in smallest on-chain units.
const nativeFeeTolerance uint64 = 10_000

// Expectation is what the caller claims the transaction contains.
type Expectation struct {
	Sender    string // Required: signing authority
	Recipient string // Required: resolved destination owner
	TokenMint string // Empty for the native-currency variant or "any token"
	Amount    uint64 // Minimum, smallest on-chain units
}

// Result carries the verified transfer details plus timing metadata
// for audit.
type Result struct {
	Signature string
	Sender    string
	Recipient string
	TokenMint string
	Amount    uint64
	Slot      uint64
	BlockTime int64
	Elapsed   time.Duration
}

type Verifier struct {
	chain      chain.Client
	guard      *ReplayGuard
	limiter    ratelimit.Limiter
	store      store.Store
	events     events.Publisher
	retryDelay time.Duration // Wait before the single not-yet-visible refetch
}

func New(c chain.Client, guard *ReplayGuard, limiter ratelimit.Limiter, st store.Store, pub events.Publisher) *Verifier {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Verifier{
		chain:      c,
		guard:      guard,
		limiter:    limiter,
		store:      st,
		events:     pub,
		retryDelay: 2 * time.Second,
	}
}

// SetRetryDelay overrides the not-found retry delay, for tests.
func (v *Verifier) SetRetryDelay(d time.Duration) { v.retryDelay = d }

// VerifyTokenTransfer checks that the transaction behind signature
// contains a token-transfer instruction from exp.Sender to
// exp.Recipient of at least exp.Amount of the expected mint, and
// consumes the signature. At most one call per signature ever
// succeeds.
func (v *Verifier) VerifyTokenTransfer(ctx context.Context, signature string, exp Expectation, transferType string) (*Result, error) {
	return v.verify(ctx, signature, exp, transferType, false)
}

// VerifyNativeTransfer is the native-currency variant: it matches a
// plain value transfer within a small fee tolerance instead of a
// token-transfer instruction.
func (v *Verifier) VerifyNativeTransfer(ctx context.Context, signature string, exp Expectation) (*Result, error) {
	return v.verify(ctx, signature, exp, domain.TransferNative, true)
}

func (v *Verifier) verify(ctx context.Context, signature string, exp Expectation, transferType string, native bool) (*Result, error) {
	started := time.Now()

	// 1. Rate limit by sender before touching the chain.
	ok, retryAfter, err := v.limiter.Allow(ctx, exp.Sender)
	if err != nil {
		logrus.WithFields(logrus.Fields{"sender": exp.Sender, "error": err.Error()}).
			Warn("Rate limiter unavailable; proceeding")
	} else if !ok {
		return nil, &domain.Error{
			Code:       domain.CodeRateLimited,
			Message:    "too many verification attempts",
			RetryAfter: retryAfter,
		}
	}

	// 2. Replay check: fast set, then persistent record.
	if v.guard.Seen(ctx, signature) {
		v.flagReplay(exp.Sender, signature)
		return nil, domain.E(domain.CodeReplayDetected, "signature already used")
	}

	// 3. Fetch the transaction; retry once if not yet visible.
	tx, err := v.fetch(ctx, signature)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, domain.E(domain.CodeTxNotFound, "transaction not found on chain")
	}
	if tx.Failed {
		return nil, domain.E(domain.CodeTxFailed, "transaction failed on chain")
	}

	// 4. Scan for an instruction satisfying every check. First full
	// match wins; no "close enough" fallback.
	var matched *Result
	if native {
		matched = matchNative(tx, exp)
	} else {
		matched = matchToken(tx, exp)
	}
	if matched == nil {
		logrus.WithFields(logrus.Fields{
			"signature": signature,
			"sender":    exp.Sender,
			"recipient": exp.Recipient,
			"amount":    exp.Amount,
			"mint":      exp.TokenMint,
		}).Warn("Transfer verification mismatch")
		return nil, domain.E(domain.CodeNotVerified, "no transfer in transaction matches expectation")
	}
	matched.Signature = signature
	matched.Slot = tx.Slot
	matched.BlockTime = tx.BlockTime
	matched.Elapsed = time.Since(started)

	// 5. Consume the signature: fast set first, then the persistent
	// record whose unique index is the real backstop.
	v.guard.Mark(signature)
	err = v.store.InsertTransfer(ctx, &domain.ChainTransferRecord{
		Signature:    signature,
		Sender:       matched.Sender,
		Recipient:    matched.Recipient,
		Amount:       strconv.FormatUint(matched.Amount, 10),
		TokenMint:    matched.TokenMint,
		Type:         transferType,
		BlockTime:    tx.BlockTime,
		Slot:         tx.Slot,
		VerifyMillis: matched.Elapsed.Milliseconds(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Benign race: a concurrent verification consumed the
			// signature between our replay check and this insert. The
			// other call owns the credit.
			v.flagReplay(exp.Sender, signature)
			return nil, domain.E(domain.CodeReplayDetected, "signature already used")
		}
		return nil, err
	}
	return matched, nil
}

func (v *Verifier) fetch(ctx context.Context, signature string) (*chain.Tx, error) {
	tx, err := v.chain.FetchConfirmedTransfer(ctx, signature)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx, nil
	}
	// Not visible yet; wait once then try again rather than hang.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(v.retryDelay):
	}
	return v.chain.FetchConfirmedTransfer(ctx, signature)
}

func matchToken(tx *chain.Tx, exp Expectation) *Result {
	for _, t := range tx.TokenTransfers {
		if t.Authority != exp.Sender {
			continue
		}
		if t.Amount < exp.Amount {
			continue
		}
		if exp.TokenMint != "" && t.Mint != exp.TokenMint {
			continue
		}
		if t.DestinationOwner != exp.Recipient {
			continue
		}
		return &Result{
			Sender:    t.Authority,
			Recipient: t.DestinationOwner,
			TokenMint: t.Mint,
			Amount:    t.Amount,
		}
	}
	return nil
}

func matchNative(tx *chain.Tx, exp Expectation) *Result {
	for _, t := range tx.NativeTransfers {
		if t.Source != exp.Sender || t.Destination != exp.Recipient {
			continue
		}
		if t.Amount+nativeFeeTolerance < exp.Amount {
			continue
		}
		return &Result{
			Sender:    t.Source,
			Recipient: t.Destination,
			Amount:    t.Amount,
		}
	}
	return nil
}

// flagReplay logs a replay attempt at attack-signal severity and
// publishes it to the operational topic.
func (v *Verifier) flagReplay(sender, signature string) {
	logrus.WithFields(logrus.Fields{
		"sender":    sender,
		"signature": signature,
	}).Warn("Replay attempt for consumed signature")
	ev := events.Event{
		Type:       events.EventReplayAttempt,
		Wallet:     sender,
		Reference:  signature,
		OccurredAt: time.Now(),
	}
	if err := v.events.Publish(events.TopicOperational, ev); err != nil {
		logrus.WithField("error", err.Error()).Warn("Event publish failed")
	}
}
