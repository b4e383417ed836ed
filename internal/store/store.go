package store

import (
	"context"
	"errors"
	"time"

	"gamebridge/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicate           = errors.New("duplicate record")
	ErrInvalidStatus       = errors.New("invalid status")
)

// CounterDeltas bumps an account's lifetime counters and per-game
// statistics. All fields are additive.
type CounterDeltas struct {
	Deposited int64
	Withdrawn int64
	Spent     int64
	RakePaid  int64
	Wins      int
	Losses    int
	Draws     int
}

// QueueStatus summarizes the withdrawal queue for the admin surface.
type QueueStatus struct {
	Pending           int64 `json:"pending"`
	Processing        int64 `json:"processing"`
	PendingNetPebbles int64 `json:"pending_net_pebbles"`
}

// Store is the persistent source of truth. Balance adjustments are
// conditional single-row operations: a negative delta only applies when
// the resulting balance stays >= 0, so concurrent debits against an
// insufficient balance cannot both succeed.
type Store interface {
	// Accounts
	GetAccount(ctx context.Context, wallet string) (domain.Account, error)
	GetOrCreateAccount(ctx context.Context, wallet string) (domain.Account, error)
	AdjustBalance(ctx context.Context, wallet string, cur domain.Currency, delta int64) (domain.Account, error)
	IncrementCounters(ctx context.Context, wallet string, d CounterDeltas) error

	// Audit trail
	AppendAudit(ctx context.Context, rec *domain.AuditRecord) error
	ListAudit(ctx context.Context, wallet string, limit, offset int) ([]domain.AuditRecord, int64, error)

	// Consumed chain signatures
	TransferSeen(ctx context.Context, signature string) (bool, error)
	InsertTransfer(ctx context.Context, rec *domain.ChainTransferRecord) error

	// Withdrawal queue
	AppendPendingWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error
	InsertWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (domain.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, wallet string) ([]domain.WithdrawalRequest, error)
	ListPendingWithdrawals(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error)
	MarkWithdrawalProcessing(ctx context.Context, id string) (bool, error)
	MarkWithdrawalCompleted(ctx context.Context, id, txID string) error
	MarkWithdrawalFailed(ctx context.Context, id, reason string) error
	MarkWithdrawalCancelled(ctx context.Context, id string) (bool, error)
	// RequeueStaleProcessing returns rows stuck in processing for longer
	// than olderThan to pending, keeping their queue positions. With a
	// zero olderThan every processing row qualifies.
	RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	QueueStatus(ctx context.Context) (QueueStatus, error)

	// Match settlements
	InsertSettlement(ctx context.Context, rec *domain.MatchSettlement) error
	AttachSettlementTx(ctx context.Context, matchID, txID string) error
	AttachSettlementError(ctx context.Context, matchID, message string) error
}
