// Package withdraw implements the durable FIFO withdrawal queue.
//
// Debit-first, settle-later: the gross amount leaves the account the
// moment a withdrawal is accepted, so the balance always reflects true
// spendable funds while the payout is in flight or waiting on
// custodial liquidity. From that point the obligation to pay or refund
// is tracked entirely by the WithdrawalRequest row.
package withdraw

import (
	"context"
	"errors"
	"time"

	"gamebridge/internal/domain"
	"gamebridge/internal/events"
	"gamebridge/internal/ledger"
	"gamebridge/internal/notify"
	"gamebridge/internal/store"
	"gamebridge/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Outcome statuses returned to the caller. Queued is a normal,
// non-error outcome.
const (
	StatusCompleted = "completed"
	StatusQueued    = "queued"
)

// Config holds the queue's economic parameters.
type Config struct {
	MinWithdrawal       int64           // Pebbles
	RakeBps             int64           // Rake in basis points; rake = gross*RakeBps/10000
	ChainUnitsPerPebble decimal.Decimal // Conversion to smallest on-chain units
	LiquidityBuffer     decimal.Decimal // Fixed safety margin kept in the custodial wallet
}

// Outcome is the result of an accepted withdrawal request.
type Outcome struct {
	Status  string
	Request domain.WithdrawalRequest
	Account domain.Account // Balance after the gross debit
}

type Queue struct {
	store     store.Store
	ledger    *ledger.Ledger
	custodial wallet.Custodial
	notifier  *notify.Registry
	events    events.Publisher
	cfg       Config
}

func NewQueue(st store.Store, led *ledger.Ledger, cust wallet.Custodial, reg *notify.Registry, pub events.Publisher, cfg Config) *Queue {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Queue{
		store:     st,
		ledger:    led,
		custodial: cust,
		notifier:  reg,
		events:    pub,
		cfg:       cfg,
	}
}

// Request accepts a withdrawal of gross pebbles from wallet. The gross
// amount is debited up front; the request then either completes
// immediately against custodial liquidity or joins the tail of the
// pending queue.
func (q *Queue) Request(ctx context.Context, walletID string, gross int64) (*Outcome, error) {
	if gross < q.cfg.MinWithdrawal {
		return nil, domain.E(domain.CodeBelowMinimum, "withdrawal below minimum")
	}

	id := uuid.New().String()

	// Durability boundary: once this debit lands, the obligation lives
	// on the WithdrawalRequest.
	acct, err := q.ledger.Debit(ctx, walletID, domain.CurrencyPebbles, gross, ledger.Mutation{
		Type:      domain.AuditWithdrawalHold,
		Reference: id,
		Reason:    "withdrawal hold",
	})
	if err != nil {
		return nil, err
	}

	rake := gross * q.cfg.RakeBps / 10000
	net := gross - rake
	netChain := decimal.NewFromInt(net).Mul(q.cfg.ChainUnitsPerPebble)

	req := &domain.WithdrawalRequest{
		ID:           id,
		Wallet:       walletID,
		GrossPebbles: gross,
		RakePebbles:  rake,
		NetPebbles:   net,
		NetChain:     netChain.String(),
	}

	// Opportunistic immediate payout.
	if q.custodial.Ready() && q.hasLiquidity(ctx, netChain) {
		res, sendErr := q.custodial.SendFunds(ctx, walletID, netChain)
		if sendErr == nil {
			req.Status = domain.WithdrawalCompleted
			req.SettlementTx = res.TxID
			if insErr := q.store.InsertWithdrawal(ctx, req); insErr != nil {
				// The payout already happened; losing the row weakens
				// the trail but the money is correct. Alert, don't
				// re-credit.
				logrus.WithFields(logrus.Fields{
					"withdrawal": id,
					"wallet":     walletID,
					"error":      insErr.Error(),
				}).Error("Completed withdrawal row insert failed")
			}
			q.settleBookkeeping(ctx, req, acct)
			return &Outcome{Status: StatusCompleted, Request: *req, Account: acct}, nil
		}
		req.FailureReason = sendErr.Error()
		logrus.WithFields(logrus.Fields{
			"withdrawal": id,
			"wallet":     walletID,
			"error":      sendErr.Error(),
		}).Warn("Immediate payout failed; queueing withdrawal")
	}

	// Queue at the tail.
	if err := q.store.AppendPendingWithdrawal(ctx, req); err != nil {
		// The debit must never outlive a failed append: reverse it
		// before reporting failure.
		logrus.WithFields(logrus.Fields{
			"withdrawal": id,
			"wallet":     walletID,
			"error":      err.Error(),
		}).Error("Withdrawal queue append failed; reversing debit")
		if _, cerr := q.ledger.Credit(ctx, walletID, domain.CurrencyPebbles, gross, ledger.Mutation{
			Type:      domain.AuditWithdrawalReversal,
			Reference: id,
			Reason:    "queue append failed",
		}); cerr != nil {
			logrus.WithFields(logrus.Fields{
				"withdrawal": id,
				"wallet":     walletID,
				"error":      cerr.Error(),
			}).Error("Withdrawal reversal failed; funds unaccounted")
		}
		return nil, domain.E(domain.CodeInternal, "failed to queue withdrawal")
	}
	return &Outcome{Status: StatusQueued, Request: *req, Account: acct}, nil
}

// Recover returns withdrawals stranded in processing by an interrupted
// process to the pending queue, keeping their positions. The debit for
// such a row already happened, so until it is back in pending it can
// neither pay out nor be cancelled. Run once at startup, before the
// first sweep.
func (q *Queue) Recover(ctx context.Context) (int64, error) {
	n, err := q.store.RequeueStaleProcessing(ctx, 0)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logrus.WithField("count", n).Warn("Requeued withdrawals interrupted mid-payout")
	}
	return n, nil
}

// ProcessQueue drains pending withdrawals oldest-first, up to maxBatch.
// The first insufficient-liquidity result stops the batch: later
// positions must not skip ahead of earlier ones.
func (q *Queue) ProcessQueue(ctx context.Context, maxBatch int) (int, error) {
	pending, err := q.store.ListPendingWithdrawals(ctx, maxBatch)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, req := range pending {
		netChain, derr := decimal.NewFromString(req.NetChain)
		if derr != nil {
			logrus.WithFields(logrus.Fields{"withdrawal": req.ID, "net_chain": req.NetChain}).
				Error("Corrupt net chain amount on withdrawal")
			continue
		}
		if !q.custodial.Ready() || !q.hasLiquidity(ctx, netChain) {
			// Funds depleted; keep strict FIFO and wait for the next
			// sweep.
			break
		}
		claimed, err := q.store.MarkWithdrawalProcessing(ctx, req.ID)
		if err != nil {
			return processed, err
		}
		if !claimed {
			continue
		}
		res, sendErr := q.custodial.SendFunds(ctx, req.Wallet, netChain)
		if sendErr != nil {
			logrus.WithFields(logrus.Fields{
				"withdrawal": req.ID,
				"wallet":     req.Wallet,
				"error":      sendErr.Error(),
			}).Warn("Queued payout send failed; returning to pending")
			if ferr := q.store.MarkWithdrawalFailed(ctx, req.ID, sendErr.Error()); ferr != nil {
				logrus.WithFields(logrus.Fields{"withdrawal": req.ID, "error": ferr.Error()}).
					Error("Failed to return withdrawal to pending")
			}
			continue
		}
		if err := q.store.MarkWithdrawalCompleted(ctx, req.ID, res.TxID); err != nil {
			logrus.WithFields(logrus.Fields{"withdrawal": req.ID, "error": err.Error()}).
				Error("Failed to mark withdrawal completed after send")
		}
		req.Status = domain.WithdrawalCompleted
		req.SettlementTx = res.TxID
		acct, _ := q.store.GetAccount(ctx, req.Wallet)
		q.settleBookkeeping(ctx, &req, acct)
		if q.notifier != nil && q.notifier.Connected(req.Wallet) {
			q.notifier.Notify(req.Wallet, notify.Message{
				Type:   "withdrawal_completed",
				Text:   "Your withdrawal has been paid out.",
				Ref:    req.ID,
				Amount: req.NetPebbles,
			})
		}
		processed++
	}
	return processed, nil
}

// Cancel aborts a pending withdrawal and refunds the gross amount.
// Only valid from pending.
func (q *Queue) Cancel(ctx context.Context, walletID, id string) (*domain.WithdrawalRequest, domain.Account, error) {
	req, err := q.store.GetWithdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Account{}, domain.E(domain.CodeNotFound, "withdrawal not found")
		}
		return nil, domain.Account{}, err
	}
	if req.Wallet != walletID {
		return nil, domain.Account{}, domain.E(domain.CodeNotFound, "withdrawal not found")
	}
	cancelled, err := q.store.MarkWithdrawalCancelled(ctx, id)
	if err != nil {
		return nil, domain.Account{}, err
	}
	if !cancelled {
		return nil, domain.Account{}, domain.E(domain.CodeValidation, "only pending withdrawals can be cancelled")
	}
	acct, err := q.ledger.Credit(ctx, walletID, domain.CurrencyPebbles, req.GrossPebbles, ledger.Mutation{
		Type:      domain.AuditWithdrawalCancelled,
		Reference: id,
		Reason:    "withdrawal cancelled by user",
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"withdrawal": id,
			"wallet":     walletID,
			"error":      err.Error(),
		}).Error("Cancellation refund failed; funds unaccounted")
		return nil, domain.Account{}, err
	}
	req.Status = domain.WithdrawalCancelled
	req.QueuePosition = nil
	return &req, acct, nil
}

// List returns the wallet's withdrawal history, newest first.
func (q *Queue) List(ctx context.Context, walletID string) ([]domain.WithdrawalRequest, error) {
	return q.store.ListWithdrawals(ctx, walletID)
}

// Status summarizes the queue for the admin surface.
func (q *Queue) Status(ctx context.Context) (store.QueueStatus, error) {
	return q.store.QueueStatus(ctx)
}

func (q *Queue) hasLiquidity(ctx context.Context, netChain decimal.Decimal) bool {
	bal, err := q.custodial.Balance(ctx)
	if err != nil {
		logrus.WithField("error", err.Error()).Warn("Custodial balance check failed")
		return false
	}
	return bal.GreaterThanOrEqual(netChain.Add(q.cfg.LiquidityBuffer))
}

// settleBookkeeping records the payout and rake audit entries and bumps
// lifetime counters once a withdrawal completes.
func (q *Queue) settleBookkeeping(ctx context.Context, req *domain.WithdrawalRequest, acct domain.Account) {
	bal := acct.Pebbles
	q.ledger.Append(ctx, &domain.AuditRecord{
		Type:          domain.AuditWithdrawal,
		FromWallet:    &req.Wallet,
		Amount:        req.NetPebbles,
		Currency:      string(domain.CurrencyPebbles),
		BalanceBefore: bal,
		BalanceAfter:  bal,
		Reference:     req.ID,
		Reason:        "withdrawal paid out: " + req.SettlementTx,
	})
	q.ledger.Append(ctx, &domain.AuditRecord{
		Type:          domain.AuditRake,
		FromWallet:    &req.Wallet,
		Amount:        req.RakePebbles,
		Currency:      string(domain.CurrencyPebbles),
		BalanceBefore: bal,
		BalanceAfter:  bal,
		Reference:     req.ID,
		Reason:        "withdrawal rake",
	})
	if err := q.store.IncrementCounters(ctx, req.Wallet, store.CounterDeltas{
		Withdrawn: req.NetPebbles,
		RakePaid:  req.RakePebbles,
	}); err != nil {
		logrus.WithFields(logrus.Fields{"wallet": req.Wallet, "error": err.Error()}).
			Warn("Lifetime counter update failed")
	}
	ev := events.Event{
		Type:       "withdrawal_completed",
		Wallet:     req.Wallet,
		Reference:  req.ID,
		Detail:     req.SettlementTx,
		OccurredAt: time.Now(),
	}
	if err := q.events.Publish(events.TopicOperational, ev); err != nil {
		logrus.WithField("error", err.Error()).Warn("Event publish failed")
	}
}
