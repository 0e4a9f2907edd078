package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileProvider resolves "file://section.key" references from a YAML secrets file:
//
//	openai:
//	  api_key: sk-...
//	serper:
//	  api_key: ...
//
// The file is read on first use. A missing file resolves nothing.
type FileProvider struct {
	path string

	once sync.Once
	data map[string]any
	err  error
}

// NewFileProvider creates a provider backed by the YAML file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) load() {
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		p.data = map[string]any{}
		return
	}
	if err != nil {
		p.err = fmt.Errorf("reading secrets file %s: %w", p.path, err)
		return
	}
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		p.err = fmt.Errorf("parsing secrets file %s: %w", p.path, err)
		return
	}
	p.data = data
}

func (p *FileProvider) Resolve(_ context.Context, ref string) (*Secret, error) {
	key, ok := strings.CutPrefix(ref, "file://")
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: invalid file reference %q", ErrSecretNotFound, ref)
	}

	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}

	var cur any = p.data
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q not found in %s", ErrSecretNotFound, key, p.path)
		}
		if cur, ok = m[part]; !ok {
			return nil, fmt.Errorf("%w: %q not found in %s", ErrSecretNotFound, key, p.path)
		}
	}

	value, ok := cur.(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: %q in %s is not a non-empty string", ErrSecretNotFound, key, p.path)
	}
	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "file", "key": key},
	}, nil
}
