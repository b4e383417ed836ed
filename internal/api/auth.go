package api

import (
	"net/http" // HTTP status codes
	"time"

	"gamebridge/internal/domain" // Importing domain models
	"gamebridge/internal/store"  // Persistent store
	"gamebridge/internal/utils"  // Utility functions
	"gamebridge/internal/verify" // Signed-intent verification

	"github.com/gin-gonic/gin" // Gin web framework
)

// Response struct for authentication
type AuthResponse struct {
	Token   string         `json:"token"` // JWT token
	Account domain.Account `json:"account"`
}

// LoginHandler authenticates a wallet by a signed intent and returns a
// JWT token. The account is created on first login.
func LoginHandler(st store.Store, network, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var si verify.SignedIntent // Bind JSON request to struct
		if err := c.ShouldBindJSON(&si); err != nil {
			// If binding fails, return bad request
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": domain.CodeValidation})
			return
		}
		// Check the ed25519 signature, expiry and network tag
		intent, err := verify.VerifyIntent(si, network, time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		// Only login intents mint sessions
		if intent.Action != "login" {
			respondError(c, domain.E(domain.CodeValidation, "intent action must be login"))
			return
		}
		// First login creates the account
		acct, err := st.GetOrCreateAccount(c.Request.Context(), intent.Wallet)
		if err != nil {
			respondError(c, domain.E(domain.CodeInternal, "failed to load account"))
			return
		}
		// Generate JWT token
		token, err := utils.GenerateJWT(acct.Wallet, jwtSecret)
		if err != nil {
			// If token generation fails, return internal server error
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token", "code": domain.CodeInternal})
			return
		}
		// Return the token in the response
		c.JSON(http.StatusOK, AuthResponse{Token: token, Account: acct})
	}
}
