package domain

import "time"

// Code is a stable machine-readable error code returned to callers.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeAuthRequired      Code = "AUTH_REQUIRED"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeReplayDetected    Code = "SIGNATURE_ALREADY_USED"
	CodeTxNotFound        Code = "TX_NOT_FOUND"
	CodeTxFailed          Code = "TX_FAILED"
	CodeNotVerified       Code = "TRANSFER_NOT_VERIFIED"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeBelowMinimum      Code = "BELOW_MINIMUM"
	CodeLiquidity         Code = "LIQUIDITY_UNAVAILABLE"
	CodeSendFailed        Code = "SEND_FAILED"
	CodeAlreadyProcessing Code = "ALREADY_PROCESSING"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConfigError       Code = "CONFIG_ERROR"
	CodeInternal          Code = "INTERNAL"
)

// Error is the structured failure returned across the settlement
// boundary: a stable code plus a human-readable message. Verification
// and ledger failures are returned as values, never panicked.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration // Set for RATE_LIMITED
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// E builds a coded error.
func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the code from err, or INTERNAL for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if de, ok := err.(*Error); ok {
		return de.Code
	}
	return CodeInternal
}
