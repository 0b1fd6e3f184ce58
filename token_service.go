package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// refreshSecretBytes is the entropy of a refresh secret. 64 bytes is 512
// bits, comfortably above the 256-bit floor for unguessability.
const refreshSecretBytes = 64

// RoleResolver resolves the roles, claims included, held by a user.
type RoleResolver interface {
	RolesForUser(ctx context.Context, userID uuid.UUID) ([]*Role, error)
}

// TokenService mints and validates signed session tokens.
type TokenService interface {
	Generate(ctx context.Context, user *User) (*AuthToken, error)
	SignClaims(claims *SessionClaims) (string, error)
	Validate(token string) (*SessionClaims, error)
	GenerateRefreshSecret() (string, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        jwt.ClaimStrings
	roles           RoleResolver
	logger          Logger
	now             func() time.Time
}

// TokenServiceOption customizes TokenService construction.
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger overrides the logger used by the token service.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config, roles RoleResolver, opts ...TokenServiceOption) TokenService {
	ts := &TokenServiceImpl{
		signingKey:      []byte(cfg.GetSigningKey()),
		tokenExpiration: cfg.GetTokenExpiration(),
		issuer:          cfg.GetIssuer(),
		audience:        cfg.GetAudience(),
		roles:           roles,
		logger:          defLogger{},
		now:             time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// Generate mints a session token for the user: subject id, issued-at, a
// fresh token id, email, role names, and the merged permission claims of
// those roles, expiring after the configured minutes-to-live.
func (ts *TokenServiceImpl) Generate(ctx context.Context, user *User) (*AuthToken, error) {
	if user == nil {
		return nil, goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	roles, err := ts.roles.RolesForUser(ctx, user.ID)
	if err != nil {
		ts.logger.Error("failed to resolve user roles for token: %v", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve roles for token")
	}

	now := ts.now()
	expiresAt := now.Add(time.Duration(ts.tokenExpiration) * time.Minute)

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   user.ID.String(),
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email:       user.Email,
		Roles:       RoleNames(roles),
		Permissions: MergeClaims(roles...),
	}

	signed, err := ts.SignClaims(claims)
	if err != nil {
		return nil, err
	}

	return &AuthToken{
		AccessToken: signed,
		ExpiresAt:   expiresAt,
	}, nil
}

// SignClaims signs arbitrary session claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *SessionClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signedString, nil
}

// Validate verifies signature, signing algorithm, issuer, and audience, and
// returns the decoded claims. Expiry is deliberately NOT enforced here so
// post-expiry inspection flows (confirmation-link completion) keep working;
// callers that need expiry enforcement must check Expires themselves.
func (ts *TokenServiceImpl) Validate(tokenString string) (*SessionClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	token, err := parser.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token validate encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	})

	if err != nil {
		return nil, withMetadata(ErrInvalidToken, map[string]any{
			"reason": err.Error(),
		})
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService validate could not decode or validate claims")
		return nil, ErrInvalidToken
	}

	if ts.issuer != "" && claims.RegisteredClaims.Issuer != ts.issuer {
		return nil, withMetadata(ErrInvalidToken, map[string]any{
			"reason": "issuer mismatch",
		})
	}

	if len(ts.audience) > 0 && !audienceMatches(claims.RegisteredClaims.Audience, ts.audience) {
		return nil, withMetadata(ErrInvalidToken, map[string]any{
			"reason": "audience mismatch",
		})
	}

	return claims, nil
}

// GenerateRefreshSecret returns a cryptographically random opaque secret
// suitable for refresh-token use.
func (ts *TokenServiceImpl) GenerateRefreshSecret() (string, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh secret")
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func audienceMatches(got jwt.ClaimStrings, want jwt.ClaimStrings) bool {
	for _, g := range got {
		for _, w := range want {
			if g == w {
				return true
			}
		}
	}
	return false
}
