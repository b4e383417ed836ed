package domain

import "time"

// Withdrawal request states.
//
// pending -> processing -> completed
// processing -> pending   (send failure, eligible for retry)
// pending -> cancelled    (user-initiated, refunds the account)
const (
	WithdrawalPending    = "pending"
	WithdrawalProcessing = "processing"
	WithdrawalCompleted  = "completed"
	WithdrawalCancelled  = "cancelled"
)

// WithdrawalRequest tracks a cash-out from the moment the gross amount
// has been debited from the account until it is paid out or refunded.
// Once a row exists, the obligation to pay or refund lives here, not on
// the account balance.
type WithdrawalRequest struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	Wallet string `gorm:"size:64;index;not null" json:"wallet"`

	GrossPebbles int64  `gorm:"not null" json:"gross_pebbles"`
	RakePebbles  int64  `gorm:"not null" json:"rake_pebbles"`
	NetPebbles   int64  `gorm:"not null" json:"net_pebbles"`
	NetChain     string `gorm:"size:40;not null" json:"net_chain"` // Net in smallest on-chain units, decimal string

	QueuePosition *int   `gorm:"index" json:"queue_position,omitempty"` // Nil once no longer pending
	Status        string `gorm:"size:16;index" json:"status"`
	SettlementTx  string `gorm:"size:128" json:"settlement_tx,omitempty"`
	FailureReason string `gorm:"size:255" json:"failure_reason,omitempty"`
	Attempts      int    `gorm:"not null;default:0" json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
