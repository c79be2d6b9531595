package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChallenge(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("hex encoded entropy", func(t *testing.T) {
		challenge, err := auth.GenerateChallenge()
		require.NoError(t, err)
		assert.Len(t, challenge, challengeBytes*2)
	})

	t.Run("challenges never repeat", func(t *testing.T) {
		seen := map[string]bool{}
		for i := 0; i < 32; i++ {
			challenge, err := auth.GenerateChallenge()
			require.NoError(t, err)
			assert.False(t, seen[challenge])
			seen[challenge] = true
		}
	})
}

func TestVerifySignature(t *testing.T) {
	auth := NewAuthHandler("test-secret")
	challenge, err := auth.GenerateChallenge()
	require.NoError(t, err)

	t.Run("accepts own signature", func(t *testing.T) {
		assert.True(t, auth.VerifySignature(challenge, auth.Sign(challenge)))
	})

	t.Run("rejects garbage", func(t *testing.T) {
		assert.False(t, auth.VerifySignature(challenge, "invalid-signature"))
	})

	t.Run("rejects truncated hex", func(t *testing.T) {
		full := auth.Sign(challenge)
		assert.False(t, auth.VerifySignature(challenge, full[:len(full)-2]))
	})

	t.Run("rejects signature from another secret", func(t *testing.T) {
		forged := NewAuthHandler("wrong-secret").Sign(challenge)
		assert.False(t, auth.VerifySignature(challenge, forged))
	})

	t.Run("signature binds to the challenge", func(t *testing.T) {
		other, err := auth.GenerateChallenge()
		require.NoError(t, err)
		assert.False(t, auth.VerifySignature(other, auth.Sign(challenge)))
	})
}

func TestHandleAuthResponse(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	pendingClient := func() *Client {
		return &Client{ID: "test-client", Challenge: "test-challenge"}
	}

	t.Run("valid signature authenticates", func(t *testing.T) {
		client := pendingClient()

		result := auth.HandleAuthResponse(client, auth.Sign("test-challenge"))

		assert.True(t, result.Success)
		assert.Equal(t, "auth.success", result.Event)
		assert.True(t, client.Authenticated)
		assert.Equal(t, StateAuthenticated, client.State)
		assert.Equal(t, 0, client.AuthAttempts)
	})

	t.Run("challenge is single use", func(t *testing.T) {
		client := pendingClient()
		signature := auth.Sign("test-challenge")

		require.True(t, auth.HandleAuthResponse(client, signature).Success)

		replay := auth.HandleAuthResponse(client, signature)
		assert.False(t, replay.Success)
		assert.Contains(t, replay.Message, "No challenge found")
	})

	t.Run("invalid signature counts an attempt", func(t *testing.T) {
		client := pendingClient()

		result := auth.HandleAuthResponse(client, "invalid-signature")

		assert.False(t, result.Success)
		assert.Equal(t, "auth.failure", result.Event)
		assert.False(t, client.Authenticated)
		assert.Equal(t, 1, client.AuthAttempts)
	})

	t.Run("third failure locks the client", func(t *testing.T) {
		client := pendingClient()
		client.AuthAttempts = 2

		result := auth.HandleAuthResponse(client, "invalid-signature")

		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "Too many failed attempts")
		assert.Equal(t, 3, client.AuthAttempts)
	})

	t.Run("locked client stays locked even with a valid signature", func(t *testing.T) {
		client := pendingClient()
		client.AuthAttempts = maxAuthAttempts

		result := auth.HandleAuthResponse(client, auth.Sign("test-challenge"))

		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "Too many failed attempts")
		assert.False(t, client.Authenticated)
	})

	t.Run("missing challenge fails", func(t *testing.T) {
		client := &Client{ID: "test-client"}

		result := auth.HandleAuthResponse(client, "any-signature")

		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "No challenge found")
	})
}
