// Package ledger holds the atomic balance mutation primitives. Every
// change to an account balance in the system goes through here: the
// store applies the delta conditionally ("only if the result stays
// >= 0") and each applied delta produces exactly one audit record.
package ledger

import (
	"context"
	"errors"
	"time"

	"gamebridge/internal/domain"
	"gamebridge/internal/events"
	"gamebridge/internal/store"

	"github.com/sirupsen/logrus"
)

// maxMutation bounds a single credit or debit to an economically
// reasonable amount.
const maxMutation int64 = 1_000_000_000

// Mutation describes why a balance is changing, for the audit trail.
type Mutation struct {
	Type      string // Audit type tag
	Reference string // Related entity: withdrawal id, match id, signature
	Reason    string // Human-readable reason
}

// Invalidator is called after every applied mutation so cached balance
// reads don't serve stale values.
type Invalidator func(wallet string)

type Ledger struct {
	store      store.Store
	events     events.Publisher
	invalidate Invalidator
}

func New(st store.Store, pub events.Publisher) *Ledger {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Ledger{store: st, events: pub, invalidate: func(string) {}}
}

// SetInvalidator installs the cache invalidation hook.
func (l *Ledger) SetInvalidator(fn Invalidator) {
	if fn != nil {
		l.invalidate = fn
	}
}

// Credit adds amount to the wallet's balance in the given currency.
// Credits always succeed for an existing account, bounded only by the
// per-mutation limit.
func (l *Ledger) Credit(ctx context.Context, wallet string, cur domain.Currency, amount int64, m Mutation) (domain.Account, error) {
	if amount <= 0 || amount > maxMutation {
		return domain.Account{}, domain.E(domain.CodeValidation, "credit amount out of range")
	}
	acct, err := l.store.AdjustBalance(ctx, wallet, cur, amount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, domain.E(domain.CodeNotFound, "account not found")
		}
		return domain.Account{}, err
	}
	l.invalidate(wallet)
	l.audit(ctx, &domain.AuditRecord{
		Type:          m.Type,
		ToWallet:      &wallet,
		Amount:        amount,
		Currency:      string(cur),
		BalanceBefore: acct.Balance(cur) - amount,
		BalanceAfter:  acct.Balance(cur),
		Reference:     m.Reference,
		Reason:        m.Reason,
	})
	return acct, nil
}

// Debit removes amount from the wallet's balance. Fails with
// INSUFFICIENT_FUNDS when the balance would go negative; two
// concurrent debits against an insufficient balance cannot both
// succeed because the store applies the delta conditionally.
func (l *Ledger) Debit(ctx context.Context, wallet string, cur domain.Currency, amount int64, m Mutation) (domain.Account, error) {
	if amount <= 0 || amount > maxMutation {
		return domain.Account{}, domain.E(domain.CodeValidation, "debit amount out of range")
	}
	acct, err := l.store.AdjustBalance(ctx, wallet, cur, -amount)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return domain.Account{}, domain.E(domain.CodeInsufficientFunds, "insufficient funds")
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.Account{}, domain.E(domain.CodeNotFound, "account not found")
		}
		return domain.Account{}, err
	}
	l.invalidate(wallet)
	l.audit(ctx, &domain.AuditRecord{
		Type:          m.Type,
		FromWallet:    &wallet,
		Amount:        amount,
		Currency:      string(cur),
		BalanceBefore: acct.Balance(cur) + amount,
		BalanceAfter:  acct.Balance(cur),
		Reference:     m.Reference,
		Reason:        m.Reason,
	})
	return acct, nil
}

// Transfer moves amount from one wallet to another: a guarded debit
// followed by a credit. If the credit leg fails after the debit
// landed, the debit is compensated and the failure escalated; callers
// never observe a half-applied transfer.
func (l *Ledger) Transfer(ctx context.Context, from, to string, cur domain.Currency, amount int64, m Mutation) error {
	if _, err := l.Debit(ctx, from, cur, amount, m); err != nil {
		return err
	}
	if _, err := l.Credit(ctx, to, cur, amount, m); err != nil {
		logrus.WithFields(logrus.Fields{
			"from":      from,
			"to":        to,
			"amount":    amount,
			"currency":  cur,
			"reference": m.Reference,
			"error":     err.Error(),
		}).Error("Transfer credit leg failed; compensating debit")
		l.publish(events.EventTransferPartial, from, m.Reference, err.Error())
		if _, cerr := l.Credit(ctx, from, cur, amount, Mutation{
			Type:      m.Type,
			Reference: m.Reference,
			Reason:    "compensation: transfer credit leg failed",
		}); cerr != nil {
			// Funds are now debited with no tracked obligation: the one
			// state the system must never reach. Loudest possible alert.
			logrus.WithFields(logrus.Fields{
				"from":      from,
				"amount":    amount,
				"reference": m.Reference,
				"error":     cerr.Error(),
			}).Error("Transfer compensation failed; funds unaccounted")
			l.publish(events.EventTransferPartial, from, m.Reference, "compensation failed: "+cerr.Error())
		}
		return err
	}
	return nil
}

// Append writes an audit record that is not tied to a balance delta
// (payout confirmations, rake accounting). Failure policy matches
// mutation audits: reported and alerted, never rolled back.
func (l *Ledger) Append(ctx context.Context, rec *domain.AuditRecord) {
	l.audit(ctx, rec)
}

// audit appends the record for an applied mutation. A write failure is
// reported but does not roll back the balance change; it weakens the
// audit trail, so it raises an operational alert.
func (l *Ledger) audit(ctx context.Context, rec *domain.AuditRecord) {
	if err := l.store.AppendAudit(ctx, rec); err != nil {
		logrus.WithFields(logrus.Fields{
			"type":      rec.Type,
			"amount":    rec.Amount,
			"reference": rec.Reference,
			"error":     err.Error(),
		}).Error("Audit record write failed")
		wallet := ""
		if rec.FromWallet != nil {
			wallet = *rec.FromWallet
		} else if rec.ToWallet != nil {
			wallet = *rec.ToWallet
		}
		l.publish(events.EventAuditWriteFailed, wallet, rec.Reference, err.Error())
	}
}

func (l *Ledger) publish(typ, wallet, ref, detail string) {
	ev := events.Event{
		Type:       typ,
		Wallet:     wallet,
		Reference:  ref,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
	if err := l.events.Publish(events.TopicOperational, ev); err != nil {
		logrus.WithFields(logrus.Fields{"event": typ, "error": err.Error()}).Warn("Event publish failed")
	}
}
