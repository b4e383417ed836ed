package domain

import "time"

// Match settlement outcomes.
const (
	OutcomeWin  = "win"
	OutcomeDraw = "draw"
	OutcomeVoid = "void"
)

// MatchSettlement records the one-and-only resolution of a wagered
// match. The unique index on MatchID makes double settlement impossible
// even across a process restart.
type MatchSettlement struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	MatchID      string    `gorm:"uniqueIndex;size:36;not null" json:"match_id"`
	Outcome      string    `gorm:"size:16" json:"outcome"`
	WinnerWallet *string   `gorm:"size:64" json:"winner_wallet,omitempty"`
	PotAmount    int64     `json:"pot_amount"`
	Currency     string    `gorm:"size:16" json:"currency"`
	ChainTx      string    `gorm:"size:128" json:"chain_tx,omitempty"` // On-chain settlement transaction, when the wager was token-denominated
	ChainError   string    `gorm:"size:255" json:"chain_error,omitempty"`
	Reason       string    `gorm:"size:255" json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
