package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhle/lifeflow/internal/model"
)

const credentialColumns = "id, user_id, provider, access_token, refresh_token, expiry, scopes, status, updated_at"

// GetCredential fetches the credential for (user, provider).
func (s *SQLiteStore) GetCredential(ctx context.Context, userID string, provider model.Source) (*model.ProviderCredential, error) {
	var c model.ProviderCredential
	err := s.db.GetContext(ctx, &c,
		"SELECT "+credentialColumns+" FROM provider_credentials WHERE user_id = ? AND provider = ?",
		userID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s credential for %s: %w", provider, userID, err)
	}
	return &c, nil
}

// SaveCredential inserts or replaces the credential for (user, provider).
func (s *SQLiteStore) SaveCredential(ctx context.Context, cred model.ProviderCredential) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO provider_credentials (`+credentialColumns+`)
		VALUES (:id, :user_id, :provider, :access_token, :refresh_token,
			:expiry, :scopes, :status, :updated_at)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			scopes = excluded.scopes,
			status = excluded.status,
			updated_at = excluded.updated_at`, cred)
	if err != nil {
		return fmt.Errorf("saving %s credential for %s: %w", cred.Provider, cred.UserID, err)
	}
	return nil
}

// MarkCredentialRevoked flips the credential to revoked so ingestion stops
// using it until the user re-authorizes.
func (s *SQLiteStore) MarkCredentialRevoked(ctx context.Context, userID string, provider model.Source) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE provider_credentials SET status = ? WHERE user_id = ? AND provider = ?",
		model.CredentialRevoked, userID, provider)
	if err != nil {
		return fmt.Errorf("revoking %s credential for %s: %w", provider, userID, err)
	}
	return requireRowAffected(res, string(provider))
}
