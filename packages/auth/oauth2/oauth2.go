// Package oauth2 obtains bearer tokens for batch requests. Token requests
// are performed in memory through the same client as the batch.
package oauth2

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/inmemory"
)

// GrantType represents the OAuth2 grant type
type GrantType string

const (
	ClientCredentials GrantType = "client_credentials"
	Password          GrantType = "password"
)

// expiryLeeway treats tokens this close to expiry as expired
const expiryLeeway = 30 * time.Second

// Config holds OAuth2 configuration
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Username and Password are used by the password grant only
	Username  string
	Password  string
	GrantType GrantType
}

// Validate checks that the grant has what it needs
func (c *Config) Validate() error {
	switch c.GrantType {
	case ClientCredentials, "":
	case Password:
		if c.Username == "" {
			return fmt.Errorf("oauth2 password grant requires a username")
		}
	default:
		return fmt.Errorf("unsupported OAuth2 grant type: %s", c.GrantType)
	}
	if c.TokenURL == "" {
		return fmt.Errorf("oauth2 requires a token URL")
	}
	return nil
}

func (c *Config) cacheKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", c.TokenURL, c.ClientID, c.Username, strings.Join(c.Scopes, ","))
}

// Token represents an OAuth2 access token
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"-"`
}

// Expired reports whether the token expires within the leeway of now.
// Tokens without expiry never expire.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(expiryLeeway).After(t.ExpiresAt)
}

// Header returns the Authorization header value
func (t *Token) Header() string {
	typ := t.TokenType
	if typ == "" || strings.EqualFold(typ, "bearer") {
		typ = "Bearer"
	}
	return typ + " " + t.AccessToken
}

// Provider fetches and caches tokens.
type Provider struct {
	client hhttp.Client
	runner *interruptible.Runner
	cache  *TokenCache
	now    func() time.Time
}

// NewProvider creates a provider performing token requests with client
// under runner. A nil cache gets a private one.
func NewProvider(client hhttp.Client, runner *interruptible.Runner, cache *TokenCache) *Provider {
	if cache == nil {
		cache = NewTokenCache()
	}
	return &Provider{client: client, runner: runner, cache: cache, now: time.Now}
}

// Token returns a valid token for cfg, fetching a new one if the cached
// one is missing or expired.
func (p *Provider) Token(ctx context.Context, cfg *Config) (*Token, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key := cfg.cacheKey()
	if token := p.cache.Get(key); token != nil && !token.Expired(p.now()) {
		return token, nil
	}

	token, err := p.fetch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, token)
	return token, nil
}

func (p *Provider) fetch(ctx context.Context, cfg *Config) (*Token, error) {
	data := url.Values{}
	switch cfg.GrantType {
	case Password:
		data.Set("grant_type", string(Password))
		data.Set("username", cfg.Username)
		data.Set("password", cfg.Password)
	default:
		data.Set("grant_type", string(ClientCredentials))
	}
	if len(cfg.Scopes) > 0 {
		data.Set("scope", strings.Join(cfg.Scopes, " "))
	}

	headers := hhttp.HeaderList{
		{Key: hhttp.HeaderContentType, Value: "application/x-www-form-urlencoded"},
		{Key: "Accept", Value: "application/json"},
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(cfg.ClientID + ":" + cfg.ClientSecret))
		headers = append(headers, hhttp.Header{Key: "Authorization", Value: "Basic " + auth})
	}

	req, err := inmemory.Create(cfg.TokenURL, hhttp.MethodPost, headers, []byte(data.Encode()), false)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	resp, err := inmemory.PerformRequestInMemory(ctx, p.client, p.runner, req, nil)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var token Token
	if err := json.Unmarshal(resp.Body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	if token.ExpiresIn > 0 {
		token.ExpiresAt = p.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	return &token, nil
}
