package tokenvault

import "time"

// OAuthToken is one issued credential. Rows are never deleted: superseded or
// revoked tokens stay as history with IsActive false.
type OAuthToken struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Provider           string     `json:"provider"`
	AccessTokenCipher  string     `json:"-"`
	RefreshTokenCipher string     `json:"-"`
	TokenType          string     `json:"token_type"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Scope              string     `json:"scope,omitempty"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsExpired reports whether the token should be treated as expired at now,
// counting skew as already elapsed. A token without an expiry only expires
// when it carries no access token at all.
func (t *OAuthToken) IsExpired(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt == nil {
		return t.AccessTokenCipher == ""
	}
	return !now.Add(skew).Before(*t.ExpiresAt)
}

// HasRefreshToken reports whether a refresh token was stored.
func (t *OAuthToken) HasRefreshToken() bool {
	return t.RefreshTokenCipher != ""
}

// Status describes a pair's usable credential without revealing it.
type Status struct {
	Connected       bool       `json:"connected"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Scope           string     `json:"scope,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}
