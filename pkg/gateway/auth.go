package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// maxAuthAttempts closes a WebSocket after this many bad signatures
const maxAuthAttempts = 3

// SecretHeader carries the shared secret on HTTP RPC calls
const SecretHeader = "X-Anuneko-Secret"

// AuthHandler checks callers against the shared secret. With an empty secret
// every caller is accepted.
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Required reports whether callers must authenticate
func (a *AuthHandler) Required() bool {
	return a.sharedSecret != ""
}

// VerifySecret compares a presented secret in constant time
func (a *AuthHandler) VerifySecret(presented string) bool {
	if !a.Required() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(presented)) == 1
}

// GenerateChallenge generates a random 32-byte hex challenge
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// Sign returns the HMAC-SHA256 of challenge keyed by the shared secret
func (a *AuthHandler) Sign(challenge string) string {
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature verifies an HMAC-SHA256 signature against a challenge
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	return subtle.ConstantTimeCompare([]byte(a.Sign(challenge)), []byte(signature)) == 1
}

// HandleAuthResponse processes an authentication response from a client
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return AuthResult{
			Event:   "auth.failure",
			Message: "No challenge found",
		}
	}

	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return AuthResult{
				Event:   "auth.failure",
				Message: "Too many failed attempts",
			}
		}
		return AuthResult{
			Event:   "auth.failure",
			Message: "Invalid signature",
		}
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""

	return AuthResult{
		Event:   "auth.success",
		Success: true,
	}
}
