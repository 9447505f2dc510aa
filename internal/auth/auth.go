// Package auth issues and checks the session cookie that identifies a logged
// in user. Sessions are HS256 JWTs carrying the X user id; logging out puts
// the token id on a revocation list until the token would have expired.
package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lucsky/cuid"
	"x-auto-post-tool/internal/common/cache"
	"x-auto-post-tool/internal/common/errors"
	commonhttp "x-auto-post-tool/internal/common/http"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/middleware"
)

const (
	// CookieName is the session cookie.
	CookieName          = "session"
	// DefaultTTL is how long a session lasts.
	DefaultTTL          = 7 * 24 * time.Hour
	// RevocationNamespace is the cache namespace of revoked session ids.
	RevocationNamespace = "session"
	issuer              = "x-auto-post"
	minSecret           = 32
)

// Claims are the session token claims.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// Auth signs and validates session tokens.
type Auth struct {
	secret       []byte
	ttl          time.Duration
	revoked      cache.Cache
	secureCookie bool
	now          func() time.Time
}

// Option configures Auth.
type Option func(*Auth)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(a *Auth) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(a *Auth) { a.secureCookie = secure }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

// New creates an Auth. revoked holds logged out token ids; nil disables
// revocation, leaving logout to cookie removal alone.
func New(secret string, revoked cache.Cache, opts ...Option) (*Auth, error) {
	if len(secret) < minSecret {
		return nil, errors.ConfigError("session secret must be at least 32 characters long")
	}

	a := &Auth{
		secret:  []byte(secret),
		ttl:     DefaultTTL,
		revoked: revoked,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// GenerateJWT issues a session token for userID.
func (a *Auth) GenerateJWT(userID, username string) (string, error) {
	if userID == "" {
		return "", errors.ValidationError("user id is required")
	}

	now := a.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cuid.New(),
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign session token", err)
	}
	return signed, nil
}

// ValidateJWT parses token and checks signature, expiry and revocation.
func (a *Auth) ValidateJWT(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.AuthRequiredError("session expired")
		}
		return nil, errors.AuthRequiredError("invalid session token")
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, errors.AuthRequiredError("invalid session token")
	}

	if a.revoked != nil && claims.ID != "" {
		_, found, err := a.revoked.Get(ctx, revokedKey(claims.ID))
		if err != nil {
			// an unreachable revocation list must not lock everyone out
			logging.WithContext(ctx).Warn("Session revocation check failed", logging.Err(err))
		} else if found {
			return nil, errors.AuthRequiredError("token has been revoked")
		}
	}

	return claims, nil
}

// RevokeJWT rejects claims' token from now until it expires.
func (a *Auth) RevokeJWT(ctx context.Context, claims *Claims) error {
	if a.revoked == nil || claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(a.now())
	if ttl <= 0 {
		return nil
	}
	return a.revoked.Set(ctx, revokedKey(claims.ID), []byte("1"), ttl)
}

func revokedKey(id string) string {
	return RevocationNamespace + ":revoked:" + id
}

// SetSessionCookie stores token in the session cookie.
func (a *Auth) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.ttl / time.Second),
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie removes the session cookie.
func (a *Auth) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequireAuth rejects requests without a valid session with 401. Accepted
// requests carry the claims and the user id in their context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			commonhttp.WriteError(w, errors.AuthRequiredError("no session"))
			return
		}

		claims, err := a.ValidateJWT(r.Context(), token)
		if err != nil {
			commonhttp.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = logging.ContextWithUserID(ctx, claims.UserID)
		middleware.RecordUser(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// ClaimsFromContext returns the claims RequireAuth stored.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}
