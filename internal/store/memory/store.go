package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gamebridge/internal/domain"
	"gamebridge/internal/store"
)

// Store is an in-memory implementation of store.Store. It is
// thread-safe and used by tests and dev mode; production uses the GORM
// implementation.
type Store struct {
	mu sync.Mutex

	accounts    map[string]*domain.Account
	audits      []domain.AuditRecord
	transfers   map[string]domain.ChainTransferRecord
	withdrawals map[string]*domain.WithdrawalRequest
	settlements map[string]*domain.MatchSettlement

	nextAccountID uint
	nextAuditID   uint
	queueCounter  int
}

func New() *Store {
	return &Store{
		accounts:    make(map[string]*domain.Account),
		transfers:   make(map[string]domain.ChainTransferRecord),
		withdrawals: make(map[string]*domain.WithdrawalRequest),
		settlements: make(map[string]*domain.MatchSettlement),
	}
}

func (s *Store) GetAccount(ctx context.Context, wallet string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[wallet]
	if !ok {
		return domain.Account{}, store.ErrNotFound
	}
	return *a, nil
}

func (s *Store) GetOrCreateAccount(ctx context.Context, wallet string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[wallet]; ok {
		return *a, nil
	}
	s.nextAccountID++
	a := &domain.Account{
		ID:        s.nextAccountID,
		Wallet:    wallet,
		Role:      "player",
		CreatedAt: time.Now(),
	}
	s.accounts[wallet] = a
	return *a, nil
}

func (s *Store) AdjustBalance(ctx context.Context, wallet string, cur domain.Currency, delta int64) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[wallet]
	if !ok {
		return domain.Account{}, store.ErrNotFound
	}
	bal := a.Balance(cur)
	if bal+delta < 0 {
		return domain.Account{}, store.ErrInsufficientBalance
	}
	if cur == domain.CurrencyCoins {
		a.Coins = bal + delta
	} else {
		a.Pebbles = bal + delta
	}
	a.UpdatedAt = time.Now()
	return *a, nil
}

func (s *Store) IncrementCounters(ctx context.Context, wallet string, d store.CounterDeltas) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[wallet]
	if !ok {
		return store.ErrNotFound
	}
	a.TotalDeposited += d.Deposited
	a.TotalWithdrawn += d.Withdrawn
	a.TotalSpent += d.Spent
	a.TotalRakePaid += d.RakePaid
	a.Wins += d.Wins
	a.Losses += d.Losses
	a.Draws += d.Draws
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, rec *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	rec.ID = s.nextAuditID
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	s.audits = append(s.audits, *rec)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, wallet string, limit, offset int) ([]domain.AuditRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.AuditRecord
	for _, rec := range s.audits {
		if wallet == "" ||
			(rec.FromWallet != nil && *rec.FromWallet == wallet) ||
			(rec.ToWallet != nil && *rec.ToWallet == wallet) {
			matched = append(matched, rec)
		}
	}
	// Newest first.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out := make([]domain.AuditRecord, len(matched))
	copy(out, matched)
	return out, total, nil
}

func (s *Store) TransferSeen(ctx context.Context, signature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.transfers[signature]
	return ok, nil
}

func (s *Store) InsertTransfer(ctx context.Context, rec *domain.ChainTransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[rec.Signature]; ok {
		return store.ErrDuplicate
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.transfers[rec.Signature] = *rec
	return nil
}

func (s *Store) AppendPendingWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.withdrawals[req.ID]; ok {
		return store.ErrDuplicate
	}
	s.queueCounter++
	pos := s.queueCounter
	req.QueuePosition = &pos
	req.Status = domain.WithdrawalPending
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	s.withdrawals[req.ID] = &cp
	return nil
}

func (s *Store) InsertWithdrawal(ctx context.Context, req *domain.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.withdrawals[req.ID]; ok {
		return store.ErrDuplicate
	}
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	s.withdrawals[req.ID] = &cp
	return nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return domain.WithdrawalRequest{}, store.ErrNotFound
	}
	return *w, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, wallet string) ([]domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.WithdrawalRequest
	for _, w := range s.withdrawals {
		if w.Wallet == wallet {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.WithdrawalRequest
	for _, w := range s.withdrawals {
		if w.Status == domain.WithdrawalPending {
			out = append(out, *w)
		}
	}
	// Oldest first, by queue position.
	sort.Slice(out, func(i, j int) bool {
		return pos(out[i]) < pos(out[j])
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func pos(w domain.WithdrawalRequest) int {
	if w.QueuePosition == nil {
		return 0
	}
	return *w.QueuePosition
}

func (s *Store) MarkWithdrawalProcessing(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalPending {
		return false, nil
	}
	w.Status = domain.WithdrawalProcessing
	w.Attempts++
	w.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) MarkWithdrawalCompleted(ctx context.Context, id, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return store.ErrNotFound
	}
	if w.Status != domain.WithdrawalProcessing {
		return store.ErrInvalidStatus
	}
	w.Status = domain.WithdrawalCompleted
	w.SettlementTx = txID
	w.QueuePosition = nil
	w.FailureReason = ""
	w.UpdatedAt = time.Now()
	return nil
}

func (s *Store) MarkWithdrawalFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return store.ErrNotFound
	}
	if w.Status != domain.WithdrawalProcessing {
		return store.ErrInvalidStatus
	}
	// Back to pending, keeping the queue position so the retry keeps
	// its place in line.
	w.Status = domain.WithdrawalPending
	w.FailureReason = reason
	w.UpdatedAt = time.Now()
	return nil
}

func (s *Store) MarkWithdrawalCancelled(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalPending {
		return false, nil
	}
	w.Status = domain.WithdrawalCancelled
	w.QueuePosition = nil
	w.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, w := range s.withdrawals {
		if w.Status == domain.WithdrawalProcessing && !w.UpdatedAt.After(cutoff) {
			w.Status = domain.WithdrawalPending
			w.FailureReason = "requeued after interrupted processing"
			w.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *Store) QueueStatus(ctx context.Context) (store.QueueStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st store.QueueStatus
	for _, w := range s.withdrawals {
		switch w.Status {
		case domain.WithdrawalPending:
			st.Pending++
			st.PendingNetPebbles += w.NetPebbles
		case domain.WithdrawalProcessing:
			st.Processing++
		}
	}
	return st, nil
}

func (s *Store) InsertSettlement(ctx context.Context, rec *domain.MatchSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settlements[rec.MatchID]; ok {
		return store.ErrDuplicate
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	s.settlements[rec.MatchID] = &cp
	return nil
}

func (s *Store) AttachSettlementTx(ctx context.Context, matchID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[matchID]
	if !ok {
		return store.ErrNotFound
	}
	rec.ChainTx = txID
	return nil
}

func (s *Store) AttachSettlementError(ctx context.Context, matchID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[matchID]
	if !ok {
		return store.ErrNotFound
	}
	rec.ChainError = message
	return nil
}

// GetSettlement returns a settlement by match id, for tests.
func (s *Store) GetSettlement(matchID string) (domain.MatchSettlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.settlements[matchID]
	if !ok {
		return domain.MatchSettlement{}, false
	}
	return *rec, true
}

// Compile-time check: Store implements store.Store.
var _ store.Store = (*Store)(nil)
