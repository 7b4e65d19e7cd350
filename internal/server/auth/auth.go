package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"drive/internal/server/logging"
)

// ErrUnauthorized is returned for missing, malformed or rejected credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Gate resolves an opaque bearer credential to an Identity.
type Gate interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type identityContextKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok && id != nil
}

// Claims are the JWT claims issued for drive users.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func Encode(secret string, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func Decode(secret string, token string) (*Claims, error) {
	claims := &Claims{}

	tkn, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// JWTGate verifies HS256 tokens signed with a shared secret.
type JWTGate struct {
	secret string
}

func NewJWTGate(secret string) *JWTGate {
	return &JWTGate{secret: secret}
}

func (g *JWTGate) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := Decode(g.secret, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}
	return &Identity{UserID: claims.Subject, Email: strings.ToLower(claims.Email)}, nil
}

// OIDCGate verifies ID tokens issued by an OpenID Connect provider.
type OIDCGate struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCGate discovers the provider, retrying while it comes up.
func NewOIDCGate(ctx context.Context, issuer, clientID string, retries uint64) (*OIDCGate, error) {
	logger := logging.FromContext(ctx)

	var provider *oidc.Provider
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	err := backoff.RetryNotify(func() error {
		var err error
		provider, err = oidc.NewProvider(ctx, issuer)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx), func(err error, d time.Duration) {
		logger.Warn("oidc provider discovery failed", zap.String("issuer", issuer), zap.Duration("retry_in", d), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider %s: %w", issuer, err)
	}

	logger.Info("oidc gate initialized", zap.String("issuer", issuer), zap.String("client_id", clientID))
	return &OIDCGate{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (g *OIDCGate) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	idToken, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return &Identity{UserID: idToken.Subject, Email: strings.ToLower(claims.Email)}, nil
}
