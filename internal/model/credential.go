package model

import "time"

// CredentialStatus tracks whether a provider credential is usable.
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
)

// ProviderCredential holds the OAuth material for one (user, provider)
// pair. At most one active credential per pair.
type ProviderCredential struct {
	ID       string `json:"id" db:"id"`
	UserID   string `json:"user_id" db:"user_id"`
	Provider Source `json:"provider" db:"provider"`

	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	Expiry       time.Time `json:"expiry" db:"expiry"`

	// Scopes is the space-separated list of granted OAuth scopes.
	Scopes string `json:"scopes" db:"scopes"`

	Status CredentialStatus `json:"status" db:"status"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NeedsRefresh reports whether the access token expires within skew of now.
func (c *ProviderCredential) NeedsRefresh(now time.Time, skew time.Duration) bool {
	return !c.Expiry.After(now.Add(skew))
}
