package api

import (
	"net/http" // HTTP status codes

	"gamebridge/internal/config" // Application configuration
	"gamebridge/internal/domain" // Importing domain models
	"gamebridge/internal/escrow" // Wager escrow and settlement
	"gamebridge/internal/verify" // Chain transfer verification

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/google/uuid"        // Match identifiers
	"github.com/shopspring/decimal" // Chain unit conversion
)

// AcceptWagerRequest starts a match: both stakes are escrowed
// immediately. For token-denominated wagers each participant's deposit
// proof is verified before any balance moves; a stake without a
// verified deposit never gains on-chain value at settlement.
type AcceptWagerRequest struct {
	Opponent string `json:"opponent" binding:"required"`    // Challenger's wallet
	Amount   int64  `json:"amount" binding:"required,gt=0"` // Per-player stake, in-game units
	Currency string `json:"currency"`                       // coins (default) or pebbles
	// On-chain wager fields (optional, all-or-nothing)
	DepositSignature         string `json:"deposit_signature"`          // Accepter's own wager deposit proof
	OpponentDepositSignature string `json:"opponent_deposit_signature"` // Challenger's wager deposit proof
}

// AcceptWagerHandler escrows both players' stakes and returns the
// match id
func AcceptWagerHandler(coord *escrow.Coordinator, v *verify.Verifier, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet") // Accepting player
		var req AcceptWagerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": domain.CodeValidation})
			return
		}
		if req.Opponent == wallet {
			respondError(c, domain.E(domain.CodeValidation, "cannot wager against yourself"))
			return
		}
		cur := domain.Currency(req.Currency)
		if req.Currency == "" {
			cur = domain.CurrencyCoins
		}

		m := escrow.Match{
			ID:       uuid.NewString(),
			Currency: cur,
			A:        escrow.Stake{Wallet: wallet, Amount: req.Amount},
			B:        escrow.Stake{Wallet: req.Opponent, Amount: req.Amount},
		}
		// Token-denominated wager: both players must have deposited
		// their stake on-chain, and settlement gains an on-chain leg.
		// Settlement pays out exactly what was deposited, so a proof is
		// required from each participant, not just one.
		if req.DepositSignature != "" || req.OpponentDepositSignature != "" {
			if req.DepositSignature == "" || req.OpponentDepositSignature == "" {
				respondError(c, domain.E(domain.CodeValidation, "on-chain wagers need a deposit proof from both players"))
				return
			}
			if cur != domain.CurrencyPebbles {
				respondError(c, domain.E(domain.CodeValidation, "on-chain wagers are pebble-denominated"))
				return
			}
			stakeUnits := chainUnits(req.Amount, cfg.ChainUnitsPerPebble)
			exp := verify.Expectation{
				Recipient: cfg.TreasuryWallet,
				TokenMint: cfg.TokenMint,
				Amount:    stakeUnits,
			}
			exp.Sender = wallet
			if _, err := v.VerifyTokenTransfer(c.Request.Context(), req.DepositSignature, exp, domain.TransferWagerDeposit); err != nil {
				respondError(c, err)
				return
			}
			exp.Sender = req.Opponent
			if _, err := v.VerifyTokenTransfer(c.Request.Context(), req.OpponentDepositSignature, exp, domain.TransferWagerDeposit); err != nil {
				respondError(c, err)
				return
			}
			m.OnChain = true
			stake := decimal.NewFromUint64(stakeUnits)
			m.A.ChainAmount = stake
			m.B.ChainAmount = stake
		}
		if err := coord.Hold(c.Request.Context(), m); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"match_id": m.ID, "pot": m.Pot(), "currency": cur})
	}
}

// SettleMatchRequest resolves a held match
type SettleMatchRequest struct {
	MatchID string `json:"match_id" binding:"required"`
	Outcome string `json:"outcome" binding:"required,oneof=win draw void"`
	Winner  string `json:"winner"` // Required for win
	Reason  string `json:"reason"` // Forfeit, disconnect, timeout
}

// SettleMatchHandler settles a match exactly once; a concurrent or
// repeated call reports already-processing rather than paying twice
func SettleMatchHandler(coord *escrow.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SettleMatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": domain.CodeValidation})
			return
		}
		rec, err := coord.Settle(c.Request.Context(), req.MatchID, req.Outcome, req.Winner, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"settlement": rec})
	}
}
