// Package auth issues and verifies operator tokens for the admin API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/emspub-checkout/internal/common"
)

const (
	tenantClaim = "tenant"
	// AnyTenant grants access to every journal's settings.
	AnyTenant = "*"
)

// Config configures operator token handling.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	TTL       time.Duration
	ClockSkew time.Duration
}

// Claims are the verified facts carried by an operator token.
type Claims struct {
	Subject string
	Tenant  string
}

// Allows reports whether the claims grant access to tenantID.
func (c Claims) Allows(tenantID string) bool {
	return c.Tenant == AnyTenant || (c.Tenant != "" && c.Tenant == tenantID)
}

// Tokens signs and verifies HS256 operator tokens.
type Tokens struct {
	secret    []byte
	issuer    string
	audience  string
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

// NewTokens validates cfg and returns a Tokens instance.
func NewTokens(cfg Config) (*Tokens, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "emspub-checkout"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "emspub-admin"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	skew := cfg.ClockSkew
	if skew < 0 {
		skew = 0
	}
	return &Tokens{
		secret:    []byte(secret),
		issuer:    issuer,
		audience:  audience,
		ttl:       ttl,
		clockSkew: skew,
		now:       time.Now,
	}, nil
}

// WithNow overrides the clock. Used by tests.
func (t *Tokens) WithNow(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Issue signs a token for subject scoped to tenantID (or AnyTenant).
func (t *Tokens) Issue(subject, tenantID string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	tenantID = strings.TrimSpace(tenantID)
	if subject == "" || tenantID == "" {
		return "", time.Time{}, errors.New("auth: subject and tenant are required")
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)
	tok, err := jwt.NewBuilder().
		Subject(subject).
		Issuer(t.issuer).
		Audience([]string{t.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-t.clockSkew)).
		Expiration(expiresAt).
		Claim(tenantClaim, tenantID).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, t.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry.
func (t *Tokens) Parse(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, unauthorized(errors.New("auth: token missing"))
	}
	if err := requireHS256(trimmed); err != nil {
		return Claims{}, unauthorized(err)
	}
	parsed, err := jwt.ParseString(trimmed,
		jwt.WithKey(jwa.HS256, t.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(t.now)),
		jwt.WithAcceptableSkew(t.clockSkew),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
	)
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	claims := Claims{Subject: parsed.Subject()}
	if raw, ok := parsed.Get(tenantClaim); ok {
		claims.Tenant, _ = raw.(string)
	}
	if claims.Tenant == "" {
		return Claims{}, unauthorized(errors.New("auth: token carries no tenant"))
	}
	return claims, nil
}

func requireHS256(token string) error {
	message, err := jws.ParseString(token)
	if err != nil {
		return err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return errors.New("auth: token contains no signatures")
	}
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return errors.New("auth: token missing protected headers")
		}
		if alg := headers.Algorithm(); alg != jwa.HS256 {
			return fmt.Errorf("auth: unexpected token algorithm %q", alg)
		}
	}
	return nil
}

func unauthorized(err error) error {
	return common.NewAppError("UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized, err)
}
