package domain

import "time"

// Chain transfer type tags.
const (
	TransferDeposit      = "deposit"
	TransferWagerDeposit = "wager_deposit"
	TransferNative       = "native"
)

// ChainTransferRecord is one row per externally-verified chain
// transaction signature. Existence of a row is definitive proof the
// signature was already consumed; the unique index on Signature is the
// replay backstop that survives process restarts.
type ChainTransferRecord struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Signature    string    `gorm:"uniqueIndex;size:128;not null" json:"signature"`
	Sender       string    `gorm:"size:64;index" json:"sender"`
	Recipient    string    `gorm:"size:64" json:"recipient"`
	Amount       string    `gorm:"size:40" json:"amount"` // Smallest on-chain units, decimal string
	TokenMint    string    `gorm:"size:64" json:"token_mint,omitempty"`
	Type         string    `gorm:"size:32" json:"type"`
	BlockTime    int64     `json:"block_time"`
	Slot         uint64    `json:"slot"`
	VerifyMillis int64     `json:"verify_millis"` // Verification latency, for audit
	CreatedAt    time.Time `json:"created_at"`
}
