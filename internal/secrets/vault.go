package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// VaultProvider reads HashiCorp Vault KV v2 secrets with token auth.
// Reference format: "vault://<kv v2 api path>#<field>", for example
// "vault://secret/data/astro#openai_api_key". Without a field the whole
// data map is returned as JSON.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider builds a provider from config keys address, token, namespace,
// timeout and tls_skip_verify. VAULT_ADDR, VAULT_TOKEN and VAULT_NAMESPACE win over config.
func NewVaultProvider(cfg map[string]string) (*VaultProvider, error) {
	pick := func(key, env string) string {
		if v := os.Getenv(env); v != "" {
			return v
		}
		return cfg[key]
	}

	p := &VaultProvider{
		address:   strings.TrimRight(pick("address", "VAULT_ADDR"), "/"),
		token:     pick("token", "VAULT_TOKEN"),
		namespace: pick("namespace", "VAULT_NAMESPACE"),
	}
	if p.address == "" {
		return nil, fmt.Errorf("vault address is required (config key 'address' or VAULT_ADDR)")
	}
	if p.token == "" {
		return nil, fmt.Errorf("vault token is required (config key 'token' or VAULT_TOKEN)")
	}

	timeout := 5 * time.Second
	if t := cfg["timeout"]; t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("invalid vault timeout %q: %w", t, err)
		}
		timeout = d
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg["tls_skip_verify"] == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	p.client = &http.Client{Timeout: timeout, Transport: transport}
	return p, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (*Secret, error) {
	raw, ok := strings.CutPrefix(ref, "vault://")
	path, field, _ := strings.Cut(raw, "#")
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: invalid vault reference %q", ErrSecretNotFound, ref)
	}

	data, err := p.readKV(ctx, path)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{"source": "vault", "path": path}
	if field == "" {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshaling vault data: %w", err)
		}
		return &Secret{Value: string(b), Metadata: meta}, nil
	}

	meta["field"] = field
	v, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("%w: field %q not in vault path %q", ErrSecretNotFound, field, path)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("vault field %q in path %q is not a string", field, path)
	}
	return &Secret{Value: s, Metadata: meta}, nil
}

// readKV fetches the inner data map of a KV v2 read.
func (p *VaultProvider) readKV(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case http.StatusForbidden:
		return nil, fmt.Errorf("vault access denied for path %q", path)
	default:
		return nil, fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading vault response: %w", err)
	}
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vault response: %w", err)
	}
	if envelope.Data.Data == nil {
		return nil, fmt.Errorf("%w: vault path %q returned no data", ErrSecretNotFound, path)
	}
	return envelope.Data.Data, nil
}
