package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
)

// OAuthRefresher exchanges refresh tokens for fresh access tokens
// against a standard OAuth token endpoint.
type OAuthRefresher struct {
	cfg    model.OAuthConfig
	client *http.Client
}

// NewOAuthRefresher creates a refresher; it returns nil when no token
// endpoint or client credentials are configured, which makes the
// ingestion pipeline treat expired credentials as revoked.
func NewOAuthRefresher(cfg model.OAuthConfig) *OAuthRefresher {
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil
	}
	return &OAuthRefresher{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh exchanges cred's refresh token. The returned credential keeps
// the prior refresh token unless the endpoint rotated it.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred *model.ProviderCredential) (*model.ProviderCredential, error) {
	if cred.RefreshToken == "" {
		return nil, &provider.AuthError{Provider: cred.Provider, Message: "no refresh token"}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", r.cfg.ClientID)
	if r.cfg.ClientSecret != "" {
		form.Set("client_secret", r.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return nil, &provider.AuthError{Provider: cred.Provider, Message: fmt.Sprintf("token endpoint returned %d", resp.StatusCode)}
	default:
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, &provider.AuthError{Provider: cred.Provider, Message: "empty access token in response"}
	}

	next := *cred
	next.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	if tok.ExpiresIn > 0 {
		next.Expiry = time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return &next, nil
}
