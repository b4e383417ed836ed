package domain

// Audit record type tags.
const (
	AuditDeposit             = "deposit"
	AuditWithdrawalHold      = "withdrawal_hold"
	AuditWithdrawal          = "withdrawal"
	AuditWithdrawalReversal  = "withdrawal_reversal"
	AuditWithdrawalCancelled = "withdrawal_cancelled"
	AuditRake                = "rake"
	AuditEscrowHold          = "escrow_hold"
	AuditEscrowRefund        = "escrow_refund"
	AuditEscrowPayout        = "escrow_payout"
	AuditTransfer            = "transfer"
)

// AuditRecord is an immutable append-only entry written once per ledger
// mutation. Never updated after creation.
type AuditRecord struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	Type          string  `gorm:"size:32;index" json:"type"`
	FromWallet    *string `gorm:"size:64;index" json:"from_wallet,omitempty"`
	ToWallet      *string `gorm:"size:64;index" json:"to_wallet,omitempty"`
	Amount        int64   `json:"amount"`
	Currency      string  `gorm:"size:16" json:"currency"`
	BalanceBefore int64   `json:"balance_before"`
	BalanceAfter  int64   `json:"balance_after"`
	Reference     string  `gorm:"size:128;index" json:"reference,omitempty"` // Related entity: withdrawal id, match id, chain signature
	Reason        string  `gorm:"size:255" json:"reason"`
	CreatedAt     int64   `gorm:"autoCreateTime:milli" json:"created_at"` // Timestamp of creation in milliseconds
}
