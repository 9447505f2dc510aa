package oauthstate

import (
	"golang.org/x/oauth2"
	"x-auto-post-tool/internal/common/validation"
)

// ClientConfig describes the OAuth2 client a login is started with.
type ClientConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURI  string   `json:"redirect_uri"`
	Scopes       []string `json:"scopes"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
}

// Validate checks that the config can produce an authorization URL and
// later exchange a code.
func (c ClientConfig) Validate() error {
	v := validation.NewValidatorWithPrefix("oauth client").
		RequireString(c.ClientID, "client id").
		RequireURL(c.RedirectURI, "redirect uri").
		RequireURL(c.AuthURL, "auth url").
		RequireURL(c.TokenURL, "token url")

	if len(c.Scopes) == 0 {
		v.Validate(func() error { return errNoScopes })
	}
	for _, s := range c.Scopes {
		v.RequireString(s, "scope")
	}

	return v.Error()
}

// OAuth2 converts the config into the x/oauth2 client form.
func (c ClientConfig) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       append([]string(nil), c.Scopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
			// confidential clients send credentials in the Authorization header
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}
