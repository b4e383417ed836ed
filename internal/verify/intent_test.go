package verify_test

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"gamebridge/internal/domain"
	"gamebridge/internal/verify"
)

func signIntent(t *testing.T, priv ed25519.PrivateKey, intent verify.Intent) verify.SignedIntent {
	t.Helper()
	payload, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	sig := ed25519.Sign(priv, payload)
	pub := priv.Public().(ed25519.PublicKey)
	return verify.SignedIntent{
		Payload:   base64.StdEncoding.EncodeToString(payload),
		Signature: base64.StdEncoding.EncodeToString(sig),
		PublicKey: hex.EncodeToString(pub),
	}
}

func TestVerifyIntent(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet := hex.EncodeToString(pub)
	now := time.Now()

	base := verify.Intent{
		Action:    "login",
		Wallet:    wallet,
		Network:   "mainnet",
		Nonce:     "n-1",
		ExpiresAt: now.Add(time.Minute).Unix(),
	}

	t.Run("valid", func(t *testing.T) {
		intent, err := verify.VerifyIntent(signIntent(t, priv, base), "mainnet", now)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if intent.Wallet != wallet || intent.Action != "login" {
			t.Fatalf("intent = %+v", intent)
		}
	})

	t.Run("expired", func(t *testing.T) {
		expired := base
		expired.ExpiresAt = now.Add(-time.Second).Unix()
		if _, err := verify.VerifyIntent(signIntent(t, priv, expired), "mainnet", now); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("network mismatch", func(t *testing.T) {
		if _, err := verify.VerifyIntent(signIntent(t, priv, base), "testnet", now); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("wallet not the signing key", func(t *testing.T) {
		other := base
		other.Wallet = "someone-else"
		if _, err := verify.VerifyIntent(signIntent(t, priv, other), "mainnet", now); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		si := signIntent(t, priv, base)
		tampered := base
		tampered.Amount = 1_000_000
		payload, _ := json.Marshal(tampered)
		si.Payload = base64.StdEncoding.EncodeToString(payload)
		if _, err := verify.VerifyIntent(si, "mainnet", now); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("signature from another key", func(t *testing.T) {
		_, otherPriv, _ := ed25519.GenerateKey(nil)
		si := signIntent(t, priv, base)
		forged := signIntent(t, otherPriv, base)
		si.Signature = forged.Signature
		if _, err := verify.VerifyIntent(si, "mainnet", now); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("err = %v, want VALIDATION", err)
		}
	})

	t.Run("garbage payload", func(t *testing.T) {
		si := verify.SignedIntent{Payload: "!!!", Signature: "x", PublicKey: "y"}
		if _, err := verify.VerifyIntent(si, "mainnet", now); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("err = %v, want VALIDATION", err)
		}
	})
}
