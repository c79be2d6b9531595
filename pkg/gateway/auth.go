package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// maxAuthAttempts is how many signature failures a connection gets
// before it is closed.
const maxAuthAttempts = 3

// AuthHandler manages challenge-response authentication
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// challengeBytes is the entropy of an auth challenge before hex encoding.
const challengeBytes = 32

// GenerateChallenge generates a cryptographically random challenge
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, challengeBytes)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

// mac computes the HMAC-SHA256 tag of a challenge under the shared secret.
func (a *AuthHandler) mac(challenge string) []byte {
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write([]byte(challenge))
	return h.Sum(nil)
}

// Sign computes the hex signature a client must present for a challenge.
func (a *AuthHandler) Sign(challenge string) string {
	return hex.EncodeToString(a.mac(challenge))
}

// VerifySignature checks a client's hex signature against the challenge.
// The comparison runs on decoded bytes in constant time; a signature that
// is not valid hex never matches.
func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(a.mac(challenge), provided)
}

// HandleAuthResponse processes an authentication response from a client.
// A client at the attempt limit stays locked out even with a valid
// signature; it must reconnect for a fresh challenge.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) AuthResult {
	if client.AuthAttempts >= maxAuthAttempts {
		return authFailure("Too many failed attempts")
	}
	if client.Challenge == "" {
		return authFailure("No challenge found")
	}

	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return authFailure("Too many failed attempts")
		}
		return authFailure("Invalid signature")
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = "" // a challenge signs in at most one session

	return AuthResult{
		Event:   "auth.success",
		Success: true,
	}
}

func authFailure(reason string) AuthResult {
	return AuthResult{
		Event:   "auth.failure",
		Success: false,
		Message: reason,
	}
}
