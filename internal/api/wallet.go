package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"gamebridge/internal/config"    // Application configuration
	"gamebridge/internal/domain"    // Importing domain models
	"gamebridge/internal/ledger"    // Balance mutations
	"gamebridge/internal/notify"    // Connected-player pushes
	"gamebridge/internal/ratelimit" // Per-identity throttling
	"gamebridge/internal/store"     // Persistent store
	"gamebridge/internal/utils"     // Utility functions
	"gamebridge/internal/verify"    // Chain transfer verification
	"gamebridge/internal/withdraw"

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/gorilla/websocket"  // WebSocket upgrader
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Chain unit conversion
	"github.com/sirupsen/logrus"    // Logging library
)

// DepositRequest carries the chain signature and the claimed amount
type DepositRequest struct {
	Signature string `json:"signature" binding:"required"`   // Chain transaction signature
	Amount    int64  `json:"amount" binding:"required,gt=0"` // Claimed amount, in-game units
}

// DepositHandler verifies a token transfer to the treasury and credits
// the premium balance with the claimed amount
func DepositHandler(v *verify.Verifier, led *ledger.Ledger, st store.Store, reg *notify.Registry, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet") // Authenticated wallet from JWT middleware
		var req DepositRequest          // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			// If binding fails, return bad request
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": domain.CodeValidation})
			return
		}
		// Reject dust before spending a chain call on it
		if req.Amount < cfg.MinDeposit {
			respondError(c, domain.E(domain.CodeBelowMinimum, "deposit below minimum"))
			return
		}
		// The transfer must come from the caller, land on the treasury,
		// carry the configured mint and cover the claimed amount
		exp := verify.Expectation{
			Sender:    wallet,
			Recipient: cfg.TreasuryWallet,
			TokenMint: cfg.TokenMint,
			Amount:    chainUnits(req.Amount, cfg.ChainUnitsPerPebble),
		}
		res, err := v.VerifyTokenTransfer(c.Request.Context(), req.Signature, exp, domain.TransferDeposit)
		if err != nil {
			respondError(c, err)
			return
		}
		// Credit the claimed amount, not the on-chain amount: overpaying
		// the treasury never mints extra pebbles
		acct, err := led.Credit(c.Request.Context(), wallet, domain.CurrencyPebbles, req.Amount, ledger.Mutation{
			Type:      domain.AuditDeposit,
			Reference: res.Signature,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		// Lifetime counter; failure does not undo the credit
		if err := st.IncrementCounters(c.Request.Context(), wallet, store.CounterDeltas{Deposited: req.Amount}); err != nil {
			logrus.WithError(err).Warn("deposit counter update failed")
		}
		reg.Notify(wallet, notify.Message{Type: "deposit_confirmed", Ref: res.Signature, Amount: req.Amount})
		c.JSON(http.StatusOK, gin.H{"account": acct, "signature": res.Signature})
	}
}

// NativeDepositHandler is the plain value-transfer variant: it matches
// a native transfer within fee tolerance and credits the base balance
func NativeDepositHandler(v *verify.Verifier, led *ledger.Ledger, st store.Store, reg *notify.Registry, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet")
		var req DepositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": domain.CodeValidation})
			return
		}
		if req.Amount < cfg.MinDeposit {
			respondError(c, domain.E(domain.CodeBelowMinimum, "deposit below minimum"))
			return
		}
		exp := verify.Expectation{
			Sender:    wallet,
			Recipient: cfg.TreasuryWallet,
			Amount:    chainUnits(req.Amount, cfg.ChainUnitsPerPebble),
		}
		res, err := v.VerifyNativeTransfer(c.Request.Context(), req.Signature, exp)
		if err != nil {
			respondError(c, err)
			return
		}
		acct, err := led.Credit(c.Request.Context(), wallet, domain.CurrencyCoins, req.Amount, ledger.Mutation{
			Type:      domain.AuditDeposit,
			Reference: res.Signature,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		if err := st.IncrementCounters(c.Request.Context(), wallet, store.CounterDeltas{Deposited: req.Amount}); err != nil {
			logrus.WithError(err).Warn("deposit counter update failed")
		}
		reg.Notify(wallet, notify.Message{Type: "deposit_confirmed", Ref: res.Signature, Amount: req.Amount})
		c.JSON(http.StatusOK, gin.H{"account": acct, "signature": res.Signature})
	}
}

// BalanceHandler returns the caller's account, served from Redis for
// up to a minute; every ledger mutation invalidates the cached entry.
// Balance checks share the per-identity limiter with verification.
func BalanceHandler(st store.Store, rdb *redis.Client, lim ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet")

		ok, retryAfter, err := lim.Allow(c.Request.Context(), wallet)
		if err != nil {
			logrus.WithError(err).Warn("rate limiter unavailable; proceeding")
		} else if !ok {
			respondError(c, &domain.Error{
				Code:       domain.CodeRateLimited,
				Message:    "too many balance checks",
				RetryAfter: retryAfter,
			})
			return
		}
		cacheKey := utils.BalanceKey(wallet)

		var cached domain.Account // Try the cache first
		if found, err := utils.GetCache(c.Request.Context(), rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, cached)
			return
		}
		acct, err := st.GetAccount(c.Request.Context(), wallet)
		if err != nil {
			respondError(c, domain.E(domain.CodeNotFound, "account not found"))
			return
		}
		// Cache the account until the next mutation or TTL
		if err := utils.SetCache(c.Request.Context(), rdb, cacheKey, acct, utils.BalanceTTL); err != nil {
			logrus.WithError(err).Warn("failed to cache account")
		}
		c.JSON(http.StatusOK, acct)
	}
}

// WithdrawRequestBody is the requested gross amount in pebbles
type WithdrawRequestBody struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// WithdrawHandler accepts a withdrawal: funds are debited up front and
// the payout either completes immediately or queues
func WithdrawHandler(q *withdraw.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet")
		var req WithdrawRequestBody
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": domain.CodeValidation})
			return
		}
		out, err := q.Request(c.Request.Context(), wallet, req.Amount)
		if err != nil {
			respondError(c, err)
			return
		}
		// Queueing is a normal outcome, not an error
		c.JSON(http.StatusOK, gin.H{
			"status":  out.Status,
			"request": out.Request,
			"account": out.Account,
		})
	}
}

// CancelWithdrawalHandler cancels a still-pending withdrawal and
// returns the gross amount to the balance
func CancelWithdrawalHandler(q *withdraw.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet")
		req, acct, err := q.Cancel(c.Request.Context(), wallet, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"request": req, "account": acct})
	}
}

// ListWithdrawalsHandler returns the caller's withdrawal requests
func ListWithdrawalsHandler(q *withdraw.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet")
		reqs, err := q.List(c.Request.Context(), wallet)
		if err != nil {
			respondError(c, domain.E(domain.CodeInternal, "failed to list withdrawals"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"withdrawals": reqs})
	}
}

// AuditHistoryHandler returns the caller's audit trail, paginated and
// briefly cached
func AuditHistoryHandler(st store.Store, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))   // Pagination limit
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0")) // Pagination offset
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		cacheKey := utils.AuditKey(wallet, limit, offset)

		var cached gin.H
		if found, err := utils.GetCache(c.Request.Context(), rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, cached)
			return
		}
		recs, total, err := st.ListAudit(c.Request.Context(), wallet, limit, offset)
		if err != nil {
			respondError(c, domain.E(domain.CodeInternal, "failed to list audit records"))
			return
		}
		resp := gin.H{"records": recs, "total": total, "limit": limit, "offset": offset}
		if err := utils.SetCache(c.Request.Context(), rdb, cacheKey, resp, utils.AuditTTL); err != nil {
			logrus.WithError(err).Warn("failed to cache audit page")
		}
		c.JSON(http.StatusOK, resp)
	}
}

// upgrader for notification WebSockets; auth already happened in the
// JWT middleware, so cross-origin upgrades are acceptable here
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// NotificationsHandler upgrades the connection and streams withdrawal
// and deposit pushes until the client disconnects
func NotificationsHandler(reg *notify.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetString("wallet")
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ch, unsub := reg.Connect(wallet)
		defer unsub()

		// Read pump: discard client frames, notice the close
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}

// chainUnits converts an in-game amount to smallest on-chain units
func chainUnits(amount int64, perUnit decimal.Decimal) uint64 {
	return uint64(decimal.NewFromInt(amount).Mul(perUnit).IntPart())
}
