package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTGate(t *testing.T) {
	ctx := context.Background()
	gate := NewJWTGate("secret")

	sign := func(t *testing.T, secret string, claims *Claims) string {
		t.Helper()
		token, err := Encode(secret, claims)
		require.NoError(t, err)
		return token
	}

	t.Run("valid token", func(t *testing.T) {
		token := sign(t, "secret", &Claims{
			Email: "Alice@Example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "alice",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		id, err := gate.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, &Identity{UserID: "alice", Email: "alice@example.com"}, id)
	})

	t.Run("rejects", func(t *testing.T) {
		tests := map[string]string{
			"empty token": "",
			"garbage":     "not-a-jwt",
			"wrong secret": sign(t, "other", &Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
			}),
			"expired": sign(t, "secret", &Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "alice",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
				},
			}),
			"missing subject": sign(t, "secret", &Claims{Email: "a@x.com"}),
		}

		for name, token := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := gate.Verify(ctx, token)
				assert.ErrorIs(t, err, ErrUnauthorized)
			})
		}
	})

	t.Run("rejects unsigned tokens", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = gate.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestOIDCGate(t *testing.T) {
	ctx := context.Background()
	const issuer = "https://id.example.com"

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	gate := &OIDCGate{verifier: oidc.NewVerifier(issuer,
		&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}},
		&oidc.Config{ClientID: "drive"},
	)}

	sign := func(t *testing.T, claims *Claims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	t.Run("valid id token", func(t *testing.T) {
		token := sign(t, &Claims{
			Email: "bob@example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   "bob",
				Audience:  jwt.ClaimStrings{"drive"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		})

		id, err := gate.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "bob", id.UserID)
		assert.Equal(t, "bob@example.com", id.Email)
	})

	t.Run("wrong audience", func(t *testing.T) {
		token := sign(t, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   "bob",
				Audience:  jwt.ClaimStrings{"someone-else"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		_, err := gate.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := gate.Verify(ctx, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{UserID: "u1"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}
