// Package escrow holds wagered balances out of play for the duration
// of a match and resolves them exactly once.
package escrow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gamebridge/internal/domain"
	"gamebridge/internal/events"
	"gamebridge/internal/ledger"
	"gamebridge/internal/store"
	"gamebridge/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Stake is one participant's wager.
type Stake struct {
	Wallet      string
	Amount      int64           // In-game units
	ChainAmount decimal.Decimal // Smallest on-chain units; zero unless the wager is token-denominated
}

// Match is the runtime escrow context: it exists only between
// "challenge accepted" and "match settled" and is never persisted.
type Match struct {
	ID       string
	Currency domain.Currency
	A, B     Stake
	OnChain  bool // Token-denominated wager: settlement adds an on-chain leg
}

// Pot returns the total wagered in-game amount.
func (m Match) Pot() int64 { return m.A.Amount + m.B.Amount }

// Coordinator escrows wagers and settles each match exactly once. The
// in-flight marker and the held-match map are process-local; a
// multi-instance deployment would need a shared store in their place.
type Coordinator struct {
	mu       sync.Mutex
	held     map[string]Match
	inFlight map[string]struct{} // Settlement-in-progress markers, keyed by match id

	ledger    *ledger.Ledger
	store     store.Store
	custodial wallet.Custodial
	events    events.Publisher
}

func NewCoordinator(led *ledger.Ledger, st store.Store, cust wallet.Custodial, pub events.Publisher) *Coordinator {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Coordinator{
		held:      make(map[string]Match),
		inFlight:  make(map[string]struct{}),
		ledger:    led,
		store:     st,
		custodial: cust,
		events:    pub,
	}
}

// Hold debits both participants' wagers before the match begins. If
// the second debit fails the first is refunded and the match does not
// start.
func (c *Coordinator) Hold(ctx context.Context, m Match) error {
	if m.ID == "" || m.A.Wallet == "" || m.B.Wallet == "" || m.A.Wallet == m.B.Wallet {
		return domain.E(domain.CodeValidation, "invalid match participants")
	}
	if m.A.Amount <= 0 || m.B.Amount <= 0 || !m.Currency.Valid() {
		return domain.E(domain.CodeValidation, "invalid wager")
	}

	if _, err := c.ledger.Debit(ctx, m.A.Wallet, m.Currency, m.A.Amount, ledger.Mutation{
		Type:      domain.AuditEscrowHold,
		Reference: m.ID,
		Reason:    "wager escrow",
	}); err != nil {
		return err
	}
	if _, err := c.ledger.Debit(ctx, m.B.Wallet, m.Currency, m.B.Amount, ledger.Mutation{
		Type:      domain.AuditEscrowHold,
		Reference: m.ID,
		Reason:    "wager escrow",
	}); err != nil {
		// Roll the first stake back before reporting failure.
		if _, cerr := c.ledger.Credit(ctx, m.A.Wallet, m.Currency, m.A.Amount, ledger.Mutation{
			Type:      domain.AuditEscrowRefund,
			Reference: m.ID,
			Reason:    "opponent escrow failed",
		}); cerr != nil {
			logrus.WithFields(logrus.Fields{
				"match":  m.ID,
				"wallet": m.A.Wallet,
				"error":  cerr.Error(),
			}).Error("Escrow rollback failed; funds unaccounted")
		}
		return err
	}

	c.mu.Lock()
	c.held[m.ID] = m
	c.mu.Unlock()
	return nil
}

// Held returns the runtime escrow context for a match, if any.
func (c *Coordinator) Held(matchID string) (Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.held[matchID]
	return m, ok
}

// Settle resolves a match's escrow exactly once. Concurrent settlement
// attempts for the same match find the in-progress marker and report
// ALREADY_PROCESSING instead of re-running the payout; a match with no
// held escrow (unknown, or already settled) reports NOT_FOUND.
//
// For token-denominated wagers the on-chain leg runs after the in-game
// leg. A chain-leg failure does not roll back the in-game credits (the
// ledgers are independent); it is recorded on the settlement row and
// alerted for out-of-band reconciliation.
func (c *Coordinator) Settle(ctx context.Context, matchID, outcome, winner, reason string) (*domain.MatchSettlement, error) {
	c.mu.Lock()
	if _, busy := c.inFlight[matchID]; busy {
		c.mu.Unlock()
		return nil, domain.E(domain.CodeAlreadyProcessing, "settlement already in progress")
	}
	m, ok := c.held[matchID]
	if !ok {
		c.mu.Unlock()
		return nil, domain.E(domain.CodeNotFound, "unknown or already settled match")
	}
	c.inFlight[matchID] = struct{}{}
	c.mu.Unlock()

	// The marker is cleared only after every mutation has completed,
	// success or failure.
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, matchID)
		c.mu.Unlock()
	}()

	rec := &domain.MatchSettlement{
		MatchID:   matchID,
		Outcome:   outcome,
		PotAmount: m.Pot(),
		Currency:  string(m.Currency),
		Reason:    reason,
	}
	// Validate before the settlement row is written: a rejected outcome
	// must leave the escrow settleable, not burn the unique match id.
	switch outcome {
	case domain.OutcomeWin:
		if winner != m.A.Wallet && winner != m.B.Wallet {
			return nil, domain.E(domain.CodeValidation, "winner is not a match participant")
		}
		rec.WinnerWallet = &winner
	case domain.OutcomeDraw, domain.OutcomeVoid:
	default:
		return nil, domain.E(domain.CodeValidation, "unknown outcome")
	}

	// Persist the settlement row before any payout: the unique match id
	// is the backstop that holds across restarts.
	if err := c.store.InsertSettlement(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domain.E(domain.CodeAlreadyProcessing, "match already settled")
		}
		return nil, err
	}

	if outcome == domain.OutcomeWin {
		c.payWinner(ctx, m, winner)
	} else {
		c.refundBoth(ctx, m, outcome, reason)
	}

	if m.OnChain {
		c.settleChainLeg(ctx, m, rec, winner)
	}

	c.mu.Lock()
	delete(c.held, matchID)
	c.mu.Unlock()

	c.publish(events.EventSettlementComplete, matchID, outcome)
	return rec, nil
}

func (c *Coordinator) payWinner(ctx context.Context, m Match, winner string) {
	loser := m.A.Wallet
	if winner == m.A.Wallet {
		loser = m.B.Wallet
	}
	loserStake := m.A.Amount
	if loser == m.B.Wallet {
		loserStake = m.B.Amount
	}
	if _, err := c.ledger.Credit(ctx, winner, m.Currency, m.Pot(), ledger.Mutation{
		Type:      domain.AuditEscrowPayout,
		Reference: m.ID,
		Reason:    "match won",
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"match":  m.ID,
			"winner": winner,
			"error":  err.Error(),
		}).Error("Winner payout failed; escrow unaccounted")
	}
	if err := c.store.IncrementCounters(ctx, winner, store.CounterDeltas{Wins: 1}); err != nil {
		logrus.WithFields(logrus.Fields{"wallet": winner, "error": err.Error()}).Warn("Stats update failed")
	}
	if err := c.store.IncrementCounters(ctx, loser, store.CounterDeltas{Losses: 1, Spent: loserStake}); err != nil {
		logrus.WithFields(logrus.Fields{"wallet": loser, "error": err.Error()}).Warn("Stats update failed")
	}
}

func (c *Coordinator) refundBoth(ctx context.Context, m Match, outcome, reason string) {
	auditReason := "match drawn"
	if outcome == domain.OutcomeVoid {
		auditReason = "match voided: " + reason
	}
	for _, s := range []Stake{m.A, m.B} {
		if _, err := c.ledger.Credit(ctx, s.Wallet, m.Currency, s.Amount, ledger.Mutation{
			Type:      domain.AuditEscrowRefund,
			Reference: m.ID,
			Reason:    auditReason,
		}); err != nil {
			logrus.WithFields(logrus.Fields{
				"match":  m.ID,
				"wallet": s.Wallet,
				"error":  err.Error(),
			}).Error("Escrow refund failed; funds unaccounted")
		}
		if outcome == domain.OutcomeDraw {
			if err := c.store.IncrementCounters(ctx, s.Wallet, store.CounterDeltas{Draws: 1}); err != nil {
				logrus.WithFields(logrus.Fields{"wallet": s.Wallet, "error": err.Error()}).Warn("Stats update failed")
			}
		}
	}
}

// settleChainLeg transfers the on-chain side of a token-denominated
// wager: the whole pot to the winner, or each stake back on draw/void.
func (c *Coordinator) settleChainLeg(ctx context.Context, m Match, rec *domain.MatchSettlement, winner string) {
	var txIDs []string
	var failures []string

	send := func(recipient string, amount decimal.Decimal) {
		if amount.IsZero() {
			return
		}
		res, err := c.custodial.SendFunds(ctx, recipient, amount)
		if err != nil {
			failures = append(failures, recipient+": "+err.Error())
			return
		}
		txIDs = append(txIDs, res.TxID)
	}

	if rec.Outcome == domain.OutcomeWin {
		send(winner, m.A.ChainAmount.Add(m.B.ChainAmount))
	} else {
		send(m.A.Wallet, m.A.ChainAmount)
		send(m.B.Wallet, m.B.ChainAmount)
	}

	if len(txIDs) > 0 {
		rec.ChainTx = strings.Join(txIDs, ",")
		if err := c.store.AttachSettlementTx(ctx, m.ID, rec.ChainTx); err != nil {
			logrus.WithFields(logrus.Fields{"match": m.ID, "error": err.Error()}).
				Warn("Failed to attach settlement tx")
		}
	}
	if len(failures) > 0 {
		rec.ChainError = strings.Join(failures, "; ")
		logrus.WithFields(logrus.Fields{
			"match": m.ID,
			"error": rec.ChainError,
		}).Error("On-chain settlement leg failed; needs reconciliation")
		if err := c.store.AttachSettlementError(ctx, m.ID, rec.ChainError); err != nil {
			logrus.WithFields(logrus.Fields{"match": m.ID, "error": err.Error()}).
				Warn("Failed to record settlement chain error")
		}
		c.publish(events.EventChainLegFailed, m.ID, rec.ChainError)
	}
}

func (c *Coordinator) publish(typ, ref, detail string) {
	ev := events.Event{
		Type:       typ,
		Reference:  ref,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
	if err := c.events.Publish(events.TopicOperational, ev); err != nil {
		logrus.WithField("error", err.Error()).Warn("Event publish failed")
	}
}
