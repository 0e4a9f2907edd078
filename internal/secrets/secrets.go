// Package secrets resolves credential references such as the OpenAI API key.
// A reference is a URI whose scheme picks the backend:
//
//	env://OPENAI_API_KEY
//	file://openai.api_key        (dotted path into the YAML secrets file)
//	vault://secret/data/astro#openai_api_key
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Secret holds resolved credential material. Never log Value.
type Secret struct {
	Value    string
	Metadata map[string]string
}

// Provider resolves opaque credential references into secret material.
// Implementations must be safe for concurrent use.
type Provider interface {
	Resolve(ctx context.Context, ref string) (*Secret, error)
	Name() string
}

// ErrSecretNotFound is returned when a credential reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Scheme returns the scheme part of a reference ("env" for "env://X").
func Scheme(ref string) string {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok {
		return ""
	}
	return scheme
}

// Resolver dispatches references to the provider registered for their scheme.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver with the env provider registered.
func NewResolver() *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	r.Register("env", NewEnvProvider())
	return r
}

// Register binds a provider to a scheme, replacing any previous binding.
func (r *Resolver) Register(scheme string, p Provider) {
	r.providers[scheme] = p
}

func (r *Resolver) Name() string { return "resolver" }

// Resolve looks up the provider for ref's scheme and resolves it.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Secret, error) {
	scheme := Scheme(ref)
	p, ok := r.providers[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no provider for scheme %q in %q", ErrSecretNotFound, scheme, ref)
	}
	return p.Resolve(ctx, ref)
}

// Lookup resolves the first reference that yields a value. Empty refs are skipped.
func Lookup(ctx context.Context, p Provider, refs ...string) (string, error) {
	var lastErr error
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		s, err := p.Resolve(ctx, ref)
		if err == nil {
			return s.Value, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no reference given", ErrSecretNotFound)
	}
	return "", lastErr
}
