package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func clearVaultEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")
	t.Setenv("VAULT_NAMESPACE", "")
}

func newVault(t *testing.T, data map[string]any) *VaultProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "test-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/secret/data/astro" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": data}})
	}))
	t.Cleanup(srv.Close)

	vp, err := NewVaultProvider(map[string]string{"address": srv.URL, "token": "test-token"})
	if err != nil {
		t.Fatalf("NewVaultProvider: %v", err)
	}
	return vp
}

func TestVaultProvider_Field(t *testing.T) {
	clearVaultEnv(t)
	vp := newVault(t, map[string]any{"openai_api_key": "sk-vault"})

	s, err := vp.Resolve(context.Background(), "vault://secret/data/astro#openai_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Value != "sk-vault" || s.Metadata["field"] != "openai_api_key" {
		t.Errorf("got %q %v", s.Value, s.Metadata)
	}
}

func TestVaultProvider_WholeMap(t *testing.T) {
	clearVaultEnv(t)
	vp := newVault(t, map[string]any{"a": "1"})

	s, err := vp.Resolve(context.Background(), "vault://secret/data/astro")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Value != `{"a":"1"}` {
		t.Errorf("Value = %s", s.Value)
	}
}

func TestVaultProvider_Errors(t *testing.T) {
	clearVaultEnv(t)
	vp := newVault(t, map[string]any{"n": 42.0})

	tests := []struct {
		ref      string
		notFound bool
	}{
		{"vault://secret/data/other#x", true},
		{"vault://secret/data/astro#missing", true},
		{"vault://secret/data/astro#n", false},
		{"vault://", true},
	}
	for _, tt := range tests {
		_, err := vp.Resolve(context.Background(), tt.ref)
		if err == nil {
			t.Errorf("Resolve(%q) expected error", tt.ref)
			continue
		}
		if got := errors.Is(err, ErrSecretNotFound); got != tt.notFound {
			t.Errorf("Resolve(%q) notFound = %v, want %v (%v)", tt.ref, got, tt.notFound, err)
		}
	}
}

func TestNewVaultProvider_RequiresAddressAndToken(t *testing.T) {
	clearVaultEnv(t)
	if _, err := NewVaultProvider(map[string]string{"token": "x"}); err == nil {
		t.Error("expected missing address error")
	}
	if _, err := NewVaultProvider(map[string]string{"address": "http://vault"}); err == nil {
		t.Error("expected missing token error")
	}
	t.Setenv("VAULT_TOKEN", "env-token")
	if _, err := NewVaultProvider(map[string]string{"address": "http://vault"}); err != nil {
		t.Errorf("env token not used: %v", err)
	}
}
