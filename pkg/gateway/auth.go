package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// AuthHandler verifies connection signatures against the shared secret.
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{sharedSecret: sharedSecret}
}

// Sign computes the HMAC-SHA256 signature a client must present for the
// given session id.
func (a *AuthHandler) Sign(sessionID string) string {
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write([]byte(sessionID))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a presented signature in constant time.
func (a *AuthHandler) VerifySignature(sessionID, signature string) bool {
	expected := a.Sign(sessionID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
