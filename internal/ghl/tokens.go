package ghl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoToken is returned when a location has never completed the OAuth
// dance. Callers treat it as a configuration error, not a transient one.
var ErrNoToken = errors.New("ghl: no token stored for location")

// Token is the persisted OAuth state for one CRM location.
type Token struct {
	LocationID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenStore persists CRM tokens in the embedded database.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore wraps the shared database handle.
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Get loads the token for a location.
func (s *TokenStore) Get(ctx context.Context, locationID string) (*Token, error) {
	var t Token
	err := s.db.QueryRowContext(ctx,
		`SELECT location_id, access_token, refresh_token, expires_at FROM crm_tokens WHERE location_id = ?`,
		locationID,
	).Scan(&t.LocationID, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("ghl: load token: %w", err)
	}
	return &t, nil
}

// Save upserts the token for a location.
func (s *TokenStore) Save(ctx context.Context, t *Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crm_tokens (location_id, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(location_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = datetime('now')`,
		t.LocationID, t.AccessToken, t.RefreshToken, t.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ghl: save token: %w", err)
	}
	return nil
}

// AuthorizeURL builds the OAuth consent URL for the configured app.
func (c *Client) AuthorizeURL() string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("scope", strings.Join([]string{
		"calendars.readonly",
		"calendars/events.write",
		"contacts.readonly",
		"contacts.write",
		"workflows.readonly",
	}, " "))
	return "https://marketplace.gohighlevel.com/oauth/chooselocation?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	LocationID   string `json:"locationId"`
}

// ExchangeCode trades an OAuth authorization code for tokens and stores
// them keyed by the returned location.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	return c.tokenGrant(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"redirect_uri":  {c.redirectURI},
	})
}

func (c *Client) refresh(ctx context.Context, t *Token) (*Token, error) {
	return c.tokenGrant(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {t.RefreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	})
}

func (c *Client) tokenGrant(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ghl: token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tr tokenResponse
	if err := c.doJSON(req, &tr); err != nil {
		return nil, fmt.Errorf("ghl: token grant: %w", err)
	}
	locationID := tr.LocationID
	if locationID == "" {
		locationID = c.locationID
	}
	token := &Token{
		LocationID:   locationID,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if err := c.tokens.Save(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Bearer returns a valid access token for the configured location,
// refreshing it when within a minute of expiry.
func (c *Client) Bearer(ctx context.Context) (string, error) {
	t, err := c.tokens.Get(ctx, c.locationID)
	if err != nil {
		return "", err
	}
	if time.Until(t.ExpiresAt) > time.Minute {
		return t.AccessToken, nil
	}
	refreshed, err := c.refresh(ctx, t)
	if err != nil {
		return "", fmt.Errorf("ghl: refresh token: %w", err)
	}
	return refreshed.AccessToken, nil
}
