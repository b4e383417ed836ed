package gormstore

import (
	"context"
	"errors"
	"time"

	"gamebridge/internal/domain"
	"gamebridge/internal/store"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Store is the MySQL implementation of store.Store, the persistent
// source of truth. Balance changes are expressed as conditional
// single-row UPDATEs ("apply delta where the result stays >= 0"), never
// as separate read-then-write steps.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL with error translation enabled, so unique-key
// violations surface as gorm.ErrDuplicatedKey.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an existing gorm handle. The handle must have been opened
// with TranslateError enabled.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetAccount(ctx context.Context, wallet string) (domain.Account, error) {
	var a domain.Account
	err := s.db.WithContext(ctx).Where("wallet = ?", wallet).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Account{}, store.ErrNotFound
	}
	return a, err
}

func (s *Store) GetOrCreateAccount(ctx context.Context, wallet string) (domain.Account, error) {
	var a domain.Account
	err := s.db.WithContext(ctx).
		Where(domain.Account{Wallet: wallet}).
		Attrs(domain.Account{Role: "player"}).
		FirstOrCreate(&a).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a creation race; the row exists now.
		return s.GetAccount(ctx, wallet)
	}
	return a, err
}

func (s *Store) AdjustBalance(ctx context.Context, wallet string, cur domain.Currency, delta int64) (domain.Account, error) {
	col := cur.Column()
	var a domain.Account
	// Update and re-read run in one transaction: the row lock taken by
	// the UPDATE holds until commit, so the returned snapshot is exactly
	// the post-delta balance and audit before/after values derived from
	// it cannot be skewed by a concurrent mutation.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&domain.Account{}).Where("wallet = ?", wallet)
		if delta < 0 {
			// The guard: the debit only lands if the balance covers it.
			q = q.Where(col+" >= ?", -delta)
		}
		res := q.Update(col, gorm.Expr(col+" + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either the account is missing or the balance was short.
			err := tx.Where("wallet = ?", wallet).First(&domain.Account{}).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			if err != nil {
				return err
			}
			return store.ErrInsufficientBalance
		}
		return tx.Where("wallet = ?", wallet).First(&a).Error
	})
	if err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

func (s *Store) IncrementCounters(ctx context.Context, wallet string, d store.CounterDeltas) error {
	updates := map[string]any{}
	if d.Deposited != 0 {
		updates["total_deposited"] = gorm.Expr("total_deposited + ?", d.Deposited)
	}
	if d.Withdrawn != 0 {
		updates["total_withdrawn"] = gorm.Expr("total_withdrawn + ?", d.Withdrawn)
	}
	if d.Spent != 0 {
		updates["total_spent"] = gorm.Expr("total_spent + ?", d.Spent)
	}
	if d.RakePaid != 0 {
		updates["total_rake_paid"] = gorm.Expr("total_rake_paid + ?", d.RakePaid)
	}
	if d.Wins != 0 {
		updates["wins"] = gorm.Expr("wins + ?", d.Wins)
	}
	if d.Losses != 0 {
		updates["losses"] = gorm.Expr("losses + ?", d.Losses)
	}
	if d.Draws != 0 {
		updates["draws"] = gorm.Expr("draws + ?", d.Draws)
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&domain.Account{}).Where("wallet = ?", wallet).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, rec *domain.AuditRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) ListAudit(ctx context.Context, wallet string, limit, offset int) ([]domain.AuditRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.AuditRecord{})
	if wallet != "" {
		query = query.Where("from_wallet = ? OR to_wallet = ?", wallet, wallet)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var recs []domain.AuditRecord
	err := query.Order("id desc").Offset(offset).Limit(limit).Find(&recs).Error
	return recs, total, err
}

func (s *Store) TransferSeen(ctx context.Context, signature string) (bool, error) {
	var rec domain.ChainTransferRecord
	err := s.db.WithContext(ctx).Select("id").Where("signature = ?", signature).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) InsertTransfer(ctx context.Context, rec *domain.ChainTransferRecord) error {
	err := s.db.WithContext(ctx).Create(rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) AppendPendingWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	// Position assignment and insert run in one transaction so two
	// concurrent appends cannot claim the same tail position.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos int
		if err := tx.Raw(
			"SELECT COALESCE(MAX(queue_position), 0) FROM withdrawal_requests FOR UPDATE",
		).Scan(&maxPos).Error; err != nil {
			return err
		}
		pos := maxPos + 1
		req.QueuePosition = &pos
		req.Status = domain.WithdrawalPending
		if err := tx.Create(req).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return store.ErrDuplicate
			}
			return err
		}
		return nil
	})
}

func (s *Store) InsertWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	err := s.db.WithContext(ctx).Create(req).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.WithdrawalRequest{}, store.ErrNotFound
	}
	return w, err
}

func (s *Store) ListWithdrawals(ctx context.Context, wallet string) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	err := s.db.WithContext(ctx).
		Where("wallet = ?", wallet).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.WithdrawalPending).
		Order("queue_position asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) MarkWithdrawalProcessing(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, domain.WithdrawalPending).
		Updates(map[string]any{
			"status":   domain.WithdrawalProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) MarkWithdrawalCompleted(ctx context.Context, id, txID string) error {
	res := s.db.WithContext(ctx).Model(&domain.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, domain.WithdrawalProcessing).
		Updates(map[string]any{
			"status":         domain.WithdrawalCompleted,
			"settlement_tx":  txID,
			"queue_position": nil,
			"failure_reason": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrInvalidStatus
	}
	return nil
}

func (s *Store) MarkWithdrawalFailed(ctx context.Context, id, reason string) error {
	// Back to pending with the original queue position, so the retry
	// keeps its place in line.
	res := s.db.WithContext(ctx).Model(&domain.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, domain.WithdrawalProcessing).
		Updates(map[string]any{
			"status":         domain.WithdrawalPending,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrInvalidStatus
	}
	return nil
}

func (s *Store) MarkWithdrawalCancelled(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, domain.WithdrawalPending).
		Updates(map[string]any{
			"status":         domain.WithdrawalCancelled,
			"queue_position": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).Model(&domain.WithdrawalRequest{}).
		Where("status = ? AND updated_at <= ?", domain.WithdrawalProcessing, time.Now().Add(-olderThan)).
		Updates(map[string]any{
			"status":         domain.WithdrawalPending,
			"failure_reason": "requeued after interrupted processing",
		})
	return res.RowsAffected, res.Error
}

func (s *Store) QueueStatus(ctx context.Context) (store.QueueStatus, error) {
	var st store.QueueStatus
	db := s.db.WithContext(ctx).Model(&domain.WithdrawalRequest{})
	if err := db.Where("status = ?", domain.WithdrawalPending).Count(&st.Pending).Error; err != nil {
		return st, err
	}
	db = s.db.WithContext(ctx).Model(&domain.WithdrawalRequest{})
	if err := db.Where("status = ?", domain.WithdrawalProcessing).Count(&st.Processing).Error; err != nil {
		return st, err
	}
	row := s.db.WithContext(ctx).Model(&domain.WithdrawalRequest{}).
		Where("status = ?", domain.WithdrawalPending).
		Select("COALESCE(SUM(net_pebbles), 0)").
		Row()
	if err := row.Scan(&st.PendingNetPebbles); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) InsertSettlement(ctx context.Context, rec *domain.MatchSettlement) error {
	err := s.db.WithContext(ctx).Create(rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) AttachSettlementTx(ctx context.Context, matchID, txID string) error {
	res := s.db.WithContext(ctx).Model(&domain.MatchSettlement{}).
		Where("match_id = ?", matchID).
		Update("chain_tx", txID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AttachSettlementError(ctx context.Context, matchID, message string) error {
	res := s.db.WithContext(ctx).Model(&domain.MatchSettlement{}).
		Where("match_id = ?", matchID).
		Update("chain_error", message)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Compile-time check: Store implements store.Store.
var _ store.Store = (*Store)(nil)
