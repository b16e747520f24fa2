package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nhle/lifeflow/internal/model"
	"github.com/nhle/lifeflow/internal/provider"
)

func testCredential() *model.ProviderCredential {
	return &model.ProviderCredential{
		ID:           "cred-1",
		UserID:       "user-1",
		Provider:     model.SourceCalendar,
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Status:       model.CredentialActive,
	}
}

func TestRefreshExchangesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.Form.Get("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`))
	}))
	defer srv.Close()

	r := NewOAuthRefresher(model.OAuthConfig{TokenURL: srv.URL, ClientID: "cid"})
	got, err := r.Refresh(context.Background(), testCredential())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.AccessToken != "fresh" {
		t.Errorf("access token = %q, want fresh", got.AccessToken)
	}
	if got.RefreshToken != "refresh-1" {
		t.Errorf("refresh token rotated unexpectedly to %q", got.RefreshToken)
	}
	if !got.Expiry.After(time.Now().Add(30 * time.Minute)) {
		t.Errorf("expiry %v not pushed forward", got.Expiry)
	}
}

func TestRefreshRotatedRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"fresh","refresh_token":"refresh-2","expires_in":60}`))
	}))
	defer srv.Close()

	r := NewOAuthRefresher(model.OAuthConfig{TokenURL: srv.URL, ClientID: "cid"})
	got, err := r.Refresh(context.Background(), testCredential())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.RefreshToken != "refresh-2" {
		t.Errorf("refresh token = %q, want refresh-2", got.RefreshToken)
	}
}

func TestRefreshRejectionIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewOAuthRefresher(model.OAuthConfig{TokenURL: srv.URL, ClientID: "cid"})
	if _, err := r.Refresh(context.Background(), testCredential()); !provider.IsAuthError(err) {
		t.Errorf("got %v, want auth error", err)
	}

	cred := testCredential()
	cred.RefreshToken = ""
	if _, err := r.Refresh(context.Background(), cred); !provider.IsAuthError(err) {
		t.Errorf("missing refresh token: got %v, want auth error", err)
	}
}

func TestNewOAuthRefresherRequiresEndpoint(t *testing.T) {
	if r := NewOAuthRefresher(model.OAuthConfig{}); r != nil {
		t.Error("expected nil refresher without token endpoint")
	}
}
