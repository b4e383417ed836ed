package verify

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"gamebridge/internal/domain"
)

// SignedIntent is an off-chain signed authorization: a payload signed
// by the player's wallet key. Unlike a chain signature it is not a
// consumable artifact, so this path never touches the replay guard.
type SignedIntent struct {
	Payload   string `json:"payload" binding:"required"`    // base64 JSON of Intent
	Signature string `json:"signature" binding:"required"`  // base64 ed25519 signature over the payload bytes
	PublicKey string `json:"public_key" binding:"required"` // hex-encoded wallet public key
}

// Intent is the authorization content the player signed.
type Intent struct {
	Action    string `json:"action"`
	Wallet    string `json:"wallet"`
	Amount    int64  `json:"amount,omitempty"`
	Network   string `json:"network"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expires_at"` // Unix seconds
}

// VerifyIntent decodes and validates a signed intent: expiry, network
// tag, key/wallet binding, and the ed25519 signature over the exact
// payload bytes the client signed.
func VerifyIntent(si SignedIntent, network string, now time.Time) (*Intent, error) {
	payload, err := base64.StdEncoding.DecodeString(si.Payload)
	if err != nil {
		return nil, domain.E(domain.CodeValidation, "intent payload is not valid base64")
	}
	var intent Intent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return nil, domain.E(domain.CodeValidation, "intent payload is not valid JSON")
	}
	if intent.ExpiresAt <= now.Unix() {
		return nil, domain.E(domain.CodeValidation, "intent expired")
	}
	if intent.Network != network {
		return nil, domain.E(domain.CodeValidation, "intent network mismatch")
	}

	pub, err := hex.DecodeString(si.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, domain.E(domain.CodeValidation, "invalid public key")
	}
	// The wallet identifier is the signing key; a signature from key A
	// must not authorize wallet B.
	if intent.Wallet != si.PublicKey {
		return nil, domain.E(domain.CodeValidation, "intent wallet does not match signing key")
	}
	sig, err := base64.StdEncoding.DecodeString(si.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, domain.E(domain.CodeValidation, "invalid signature encoding")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return nil, domain.E(domain.CodeValidation, "intent signature verification failed")
	}
	return &intent, nil
}
