package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"gamebridge/internal/domain" // Importing domain models
	"gamebridge/internal/store"  // Persistent store
	"gamebridge/internal/utils"  // Utility functions
	"gamebridge/internal/wallet" // Custodial signer
	"gamebridge/internal/withdraw"

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
	"golang.org/x/crypto/bcrypt"   // Shared-secret comparison
)

// QueueStatusHandler exposes queue depth, processing/pending counts
// and the total pending payout value
func QueueStatusHandler(q *withdraw.Queue, cust wallet.Custodial) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := q.Status(c.Request.Context())
		if err != nil {
			respondError(c, domain.E(domain.CodeInternal, "failed to read queue status"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"queue": status, "custodial_ready": cust.Ready()})
	}
}

// ListAuditHandler returns any wallet's audit trail, paginated and
// briefly cached. An empty wallet filter lists everything.
func ListAuditHandler(st store.Store, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletFilter := c.Query("wallet")                        // Optional wallet filter
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))  // Pagination limit
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0")) // Pagination offset
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		cacheKey := utils.AdminAuditKey(walletFilter, limit, offset)

		var cached gin.H
		if found, err := utils.GetCache(c.Request.Context(), rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, cached)
			return
		}
		recs, total, err := st.ListAudit(c.Request.Context(), walletFilter, limit, offset)
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

// UnlockRequest carries the custodial unlock secret
type UnlockRequest struct {
	Passphrase string `json:"passphrase" binding:"required"`
}

// UnlockHandler recovers a locked custodial signer. The passphrase is
// compared against a bcrypt hash from configuration before it is
// forwarded to the signer.
func UnlockHandler(cust wallet.Custodial, unlockHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UnlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": domain.CodeValidation})
			return
		}
		// Compare provided passphrase with the configured hash
		if err := bcrypt.CompareHashAndPassword([]byte(unlockHash), []byte(req.Passphrase)); err != nil {
			logrus.Warn("custodial unlock attempt with bad passphrase")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid passphrase", "code": domain.CodeAuthRequired})
			return
		}
		if err := cust.Unlock(c.Request.Context(), req.Passphrase); err != nil {
			respondError(c, domain.E(domain.CodeSendFailed, "custodial unlock failed"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"unlocked": true, "ready": cust.Ready()})
	}
}

// ProcessQueueHandler triggers an immediate queue sweep instead of
// waiting for the next ticker run
func ProcessQueueHandler(q *withdraw.Queue, batch int) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := q.ProcessQueue(c.Request.Context(), batch)
		if err != nil {
			respondError(c, domain.E(domain.CodeInternal, "queue sweep failed"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"processed": n})
	}
}
