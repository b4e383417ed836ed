package domain

import "time"

// Currency identifies one of the two server-authoritative balances.
type Currency string

const (
	CurrencyCoins   Currency = "coins"   // Base currency
	CurrencyPebbles Currency = "pebbles" // Premium currency, bridged to chain value
)

// Column returns the accounts table column holding this currency's balance.
func (c Currency) Column() string {
	if c == CurrencyCoins {
		return "coins"
	}
	return "pebbles"
}

// Valid reports whether c names a known currency.
func (c Currency) Valid() bool {
	return c == CurrencyCoins || c == CurrencyPebbles
}

// Account Model. One row per wallet identifier; created on first
// authentication, never deleted. Balances are mutated only through
// ledger operations and never go below zero.
type Account struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	Wallet string `gorm:"uniqueIndex;size:64;not null" json:"wallet"` // Stable wallet identifier
	Role   string `gorm:"size:16;default:player" json:"role"`         // Role: player or admin

	Coins   int64 `gorm:"not null;default:0" json:"coins"`   // Base currency balance
	Pebbles int64 `gorm:"not null;default:0" json:"pebbles"` // Premium currency balance

	// Lifetime counters, monotonic.
	TotalDeposited int64 `gorm:"not null;default:0" json:"total_deposited"`
	TotalWithdrawn int64 `gorm:"not null;default:0" json:"total_withdrawn"`
	TotalSpent     int64 `gorm:"not null;default:0" json:"total_spent"`
	TotalRakePaid  int64 `gorm:"not null;default:0" json:"total_rake_paid"`

	// Per-game statistics.
	Wins   int `gorm:"not null;default:0" json:"wins"`
	Losses int `gorm:"not null;default:0" json:"losses"`
	Draws  int `gorm:"not null;default:0" json:"draws"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// Balance returns the account's balance in the given currency.
func (a Account) Balance(c Currency) int64 {
	if c == CurrencyCoins {
		return a.Coins
	}
	return a.Pebbles
}
