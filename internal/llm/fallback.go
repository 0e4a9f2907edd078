package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackProvider tries providers in order until one answers.
// A canceled or expired context stops the chain immediately.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider returns the single provider unchanged, or a chain when
// more than one is given. It returns an error for an empty list.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) (Provider, error) {
	switch len(providers) {
	case 0:
		return nil, errors.New("fallback: at least one provider is required")
	case 1:
		return providers[0], nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FallbackProvider{providers: providers, logger: logger}, nil
}

func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for i, p := range f.providers {
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "fallback provider answered",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.logger.WarnContext(ctx, "provider failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
			slog.Int("remaining", len(f.providers)-i-1),
		)
	}
	return nil, fmt.Errorf("all %d providers failed: %w", len(f.providers), lastErr)
}

func (f *FallbackProvider) Name() string {
	return f.providers[0].Name() + "+fallback"
}

// Ping succeeds when any provider in the chain is reachable.
func (f *FallbackProvider) Ping(ctx context.Context) error {
	var errs []error
	for _, p := range f.providers {
		err := Ping(ctx, p)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return errors.Join(errs...)
}
