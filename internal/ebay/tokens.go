package ebay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	oauthEndpoint = "https://api.ebay.com/identity/v1/oauth2/token"
	consentBase   = "https://auth.ebay.com/oauth2/authorize"

	userScopes = "https://api.ebay.com/oauth/api_scope/sell.inventory " +
		"https://api.ebay.com/oauth/api_scope/sell.marketing " +
		"https://api.ebay.com/oauth/api_scope/sell.account " +
		"https://api.ebay.com/oauth/api_scope/sell.fulfillment"
	applicationScopes = "https://api.ebay.com/oauth/api_scope"

	// Tokens are treated as expired this long before they actually are, so
	// a request never goes out with a token about to lapse mid-call.
	expirySlack = 300 * time.Second
)

// ErrNotAuthorized is returned when a user token is needed but no grant
// exists and no auth code has been delivered.
var ErrNotAuthorized = errors.New("ebay account not connected")

// Credentials is the developer keyset plus the RuName redirect registered
// for the consent flow.
type Credentials struct {
	ClientID     string
	ClientSecret string
	DevID        string
	RuName       string
}

type Token struct {
	AccessToken           string  `json:"access_token"`
	ExpiresIn             int     `json:"expires_in"`
	RefreshToken          string  `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int     `json:"refresh_token_expires_in,omitempty"`
	Timestamp             float64 `json:"timestamp"`
}

func (t *Token) valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	expiry := time.Unix(int64(t.Timestamp), 0).Add(time.Duration(t.ExpiresIn) * time.Second)
	return now.Before(expiry.Add(-expirySlack))
}

type tokenFile struct {
	ApplicationToken *Token `json:"application_token,omitempty"`
	UserToken        *Token `json:"user_token,omitempty"`
}

// TokenManager mints, refreshes and persists OAuth tokens. The token file
// survives restarts so a connected account stays connected.
type TokenManager struct {
	creds  Credentials
	path   string
	client *http.Client

	mu     sync.Mutex
	tokens tokenFile
	loaded bool
}

func NewTokenManager(creds Credentials, path string) *TokenManager {
	if path == "" {
		path = "ebay_tokens.json"
	}
	return &TokenManager{
		creds:  creds,
		path:   path,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// ApplicationToken returns a valid client-credentials token, minting a new
// one when the cached token is absent or near expiry.
func (m *TokenManager) ApplicationToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.load()

	if m.tokens.ApplicationToken.valid(time.Now()) {
		return m.tokens.ApplicationToken.AccessToken, nil
	}

	token, err := m.requestToken(ctx, url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {applicationScopes},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get application token: %w", err)
	}
	m.tokens.ApplicationToken = token
	m.save()
	return token.AccessToken, nil
}

// UserToken returns a valid user access token. A near-expired token is
// refreshed via its refresh token; with no grant at all the caller must run
// the consent flow first.
func (m *TokenManager) UserToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.load()

	current := m.tokens.UserToken
	if current.valid(time.Now()) {
		return current.AccessToken, nil
	}
	if current == nil || current.RefreshToken == "" {
		return "", ErrNotAuthorized
	}

	refreshed, err := m.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
		"scope":         {userScopes},
	})
	if err != nil {
		return "", fmt.Errorf("failed to refresh user token: %w", err)
	}
	// eBay does not return a new refresh token on refresh; keep the old one
	// and its expiry.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}
	if refreshed.RefreshTokenExpiresIn == 0 {
		refreshed.RefreshTokenExpiresIn = current.RefreshTokenExpiresIn
	}
	m.tokens.UserToken = refreshed
	m.save()
	return refreshed.AccessToken, nil
}

// ConsentURL is where the user grants the app access to their account.
func (m *TokenManager) ConsentURL() string {
	q := url.Values{
		"client_id":     {m.creds.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {m.creds.RuName},
		"scope":         {userScopes},
	}
	return consentBase + "?" + q.Encode()
}

// ExchangeAuthCode trades the consent-flow authorization code for a user
// token and persists it.
func (m *TokenManager) ExchangeAuthCode(ctx context.Context, code string) error {
	token, err := m.requestToken(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {m.creds.RuName},
	})
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.load()
	m.tokens.UserToken = token
	m.save()
	return nil
}

// Connected reports whether a user grant is on file, valid or refreshable.
func (m *TokenManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.load()

	t := m.tokens.UserToken
	return t != nil && (t.valid(time.Now()) || t.RefreshToken != "")
}

// ClearUserToken disconnects the account but keeps the application token.
func (m *TokenManager) ClearUserToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.load()
	m.tokens.UserToken = nil
	m.save()
}

func (m *TokenManager) requestToken(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(m.creds.ClientID + ":" + m.creds.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	token.Timestamp = float64(time.Now().Unix())
	return &token, nil
}

// load reads the token file once; later calls are no-ops. Callers hold mu.
func (m *TokenManager) load() {
	if m.loaded {
		return
	}
	m.loaded = true

	data, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	// A corrupt file is treated as no tokens; the flows re-mint.
	_ = json.Unmarshal(data, &m.tokens)
}

func (m *TokenManager) save() {
	data, err := json.MarshalIndent(m.tokens, "", "    ")
	if err != nil {
		return
	}
	_ = os.WriteFile(m.path, data, 0o600)
}
