// Package session verifies identity-provider session tokens and
// terminates sessions. The provider signs HS256 JWTs with a secret shared
// with this service; the subject claim is the bookmark owner reference.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrNoSession means the request carries no session token.
	ErrNoSession = errors.New("no session")
	// ErrInvalidSession means the token is malformed, expired or badly signed.
	ErrInvalidSession = errors.New("invalid session")
	// ErrRevoked means the session was terminated.
	ErrRevoked = errors.New("session terminated")
)

// Identity is the authenticated principal of a request.
type Identity struct {
	UserID    string
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

// Revoker persists terminated sessions.
type Revoker interface {
	RevokeSession(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsSessionRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Config configures a Gateway.
type Config struct {
	Secret       string
	Issuer       string // expected iss claim, empty = not checked
	CookieName   string
	SecureCookie bool
}

// claims are the fields read from provider tokens.
type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Gateway is the identity gateway used by route gating and by the
// write paths to stamp ownership.
type Gateway struct {
	cfg     Config
	revoker Revoker
	now     func() time.Time
}

func NewGateway(cfg Config, revoker Revoker) *Gateway {
	if cfg.CookieName == "" {
		cfg.CookieName = "shelf_session"
	}
	return &Gateway{cfg: cfg, revoker: revoker, now: time.Now}
}

// CookieName returns the name of the session cookie.
func (g *Gateway) CookieName() string { return g.cfg.CookieName }

// Verify parses and validates a raw token.
func (g *Gateway) Verify(ctx context.Context, raw string) (Identity, error) {
	c := &claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	}
	if g.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (interface{}, error) {
		return []byte(g.cfg.Secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if c.Subject == "" || c.ID == "" {
		return Identity{}, fmt.Errorf("%w: missing sub or jti", ErrInvalidSession)
	}

	if g.revoker != nil {
		revoked, err := g.revoker.IsSessionRevoked(ctx, c.ID)
		if err != nil {
			return Identity{}, err
		}
		if revoked {
			return Identity{}, ErrRevoked
		}
	}

	return Identity{
		UserID:    c.Subject,
		Email:     c.Email,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Identify returns the identity of r, read from the session cookie or an
// "Authorization: Bearer" header.
func (g *Gateway) Identify(r *http.Request) (Identity, error) {
	raw := tokenFromRequest(r, g.cfg.CookieName)
	if raw == "" {
		return Identity{}, ErrNoSession
	}
	return g.Verify(r.Context(), raw)
}

// Current re-checks an identity verified earlier, e.g. on a long-lived
// socket. The session must be neither expired nor terminated.
func (g *Gateway) Current(ctx context.Context, id Identity) (Identity, error) {
	if id.UserID == "" || id.TokenID == "" {
		return Identity{}, ErrNoSession
	}
	if !id.ExpiresAt.IsZero() && !g.now().Before(id.ExpiresAt) {
		return Identity{}, fmt.Errorf("%w: token expired", ErrInvalidSession)
	}
	if g.revoker == nil {
		return id, nil
	}

	revoked, err := g.revoker.IsSessionRevoked(ctx, id.TokenID)
	if err != nil {
		return Identity{}, fmt.Errorf("check session: %w", err)
	}
	if revoked {
		return Identity{}, ErrRevoked
	}
	return id, nil
}

// Ended reports whether err means the session is over for good, as opposed
// to a failed check.
func Ended(err error) bool {
	return errors.Is(err, ErrNoSession) || errors.Is(err, ErrInvalidSession) || errors.Is(err, ErrRevoked)
}

// Terminate ends the session: its token id is revoked until expiry.
func (g *Gateway) Terminate(ctx context.Context, id Identity) error {
	if id.TokenID == "" {
		return ErrNoSession
	}
	if g.revoker == nil {
		return nil
	}
	if err := g.revoker.RevokeSession(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	return nil
}

// SetCookie stores raw as the session cookie, expiring with the token.
func (g *Gateway) SetCookie(w http.ResponseWriter, raw string, id Identity) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    raw,
		Path:     "/",
		Expires:  id.ExpiresAt,
		HttpOnly: true,
		Secure:   g.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func (g *Gateway) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// Mint signs a token the way the identity provider does. It backs the
// `shelf token` development command and the tests.
func (g *Gateway) Mint(userID, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("mint requires a user id")
	}
	now := g.now()
	c := &claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    g.cfg.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(g.cfg.Secret))
}

func tokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the session gate.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
