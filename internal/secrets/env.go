package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider resolves "env://NAME" references from the process environment.
type EnvProvider struct{}

// NewEnvProvider creates an environment variable secret provider.
func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, ref string) (*Secret, error) {
	name, ok := strings.CutPrefix(ref, "env://")
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: invalid env reference %q", ErrSecretNotFound, ref)
	}
	value := os.Getenv(name)
	if value == "" {
		return nil, fmt.Errorf("%w: environment variable %q is not set", ErrSecretNotFound, name)
	}
	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "env", "variable": name},
	}, nil
}
