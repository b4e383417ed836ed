package api

import (
	"net/http" // HTTP status codes
	"strconv"

	"gamebridge/internal/domain" // Domain error codes

	"github.com/gin-gonic/gin" // Gin web framework
)

// statusFor maps a domain error code to an HTTP status
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeValidation, domain.CodeBelowMinimum, domain.CodeInsufficientFunds:
		return http.StatusBadRequest
	case domain.CodeAuthRequired:
		return http.StatusUnauthorized
	case domain.CodeNotFound, domain.CodeTxNotFound:
		return http.StatusNotFound
	case domain.CodeReplayDetected, domain.CodeAlreadyProcessing:
		return http.StatusConflict
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeTxFailed, domain.CodeNotVerified:
		return http.StatusUnprocessableEntity
	case domain.CodeSendFailed:
		return http.StatusBadGateway
	case domain.CodeLiquidity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes a structured error response with a stable code
func respondError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	msg := err.Error()
	if de, ok := err.(*domain.Error); ok {
		msg = de.Message
		if de.RetryAfter > 0 {
			// Tell the client when to retry a rate-limited call
			c.Header("Retry-After", strconv.Itoa(int(de.RetryAfter.Seconds())))
		}
	}
	c.JSON(statusFor(code), gin.H{"error": msg, "code": code})
}
