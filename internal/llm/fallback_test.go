package llm

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	name  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) SendMessage(_ context.Context, _ *Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Content: s.name, StopReason: StopEndTurn}, nil
}

func TestFallbackProvider_UsesNextOnError(t *testing.T) {
	first := &stubProvider{name: "openai", err: errors.New("boom")}
	second := &stubProvider{name: "ollama"}

	p, err := NewFallbackProvider([]Provider{first, second}, nil)
	if err != nil {
		t.Fatalf("NewFallbackProvider: %v", err)
	}
	resp, err := p.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "ollama" {
		t.Errorf("answered by %q, want ollama", resp.Content)
	}
	if p.Name() != "openai+fallback" {
		t.Errorf("Name = %q", p.Name())
	}
}

func TestFallbackProvider_AllFail(t *testing.T) {
	sentinel := errors.New("last")
	p, _ := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", err: errors.New("first")},
		&stubProvider{name: "b", err: sentinel},
	}, nil)

	_, err := p.SendMessage(context.Background(), &Request{})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped last error", err)
	}
}

func TestFallbackProvider_StopsOnCanceledContext(t *testing.T) {
	first := &stubProvider{name: "a", err: context.Canceled}
	second := &stubProvider{name: "b"}
	p, _ := NewFallbackProvider([]Provider{first, second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.SendMessage(ctx, &Request{}); err == nil {
		t.Fatal("expected error")
	}
	if second.calls != 0 {
		t.Errorf("second provider called %d times after cancel", second.calls)
	}
}

func TestNewFallbackProvider_SingleAndEmpty(t *testing.T) {
	only := &stubProvider{name: "openai"}
	p, err := NewFallbackProvider([]Provider{only}, nil)
	if err != nil || p != Provider(only) {
		t.Errorf("single provider should be returned as is, got %v %v", p, err)
	}
	if _, err := NewFallbackProvider(nil, nil); err == nil {
		t.Error("expected error for empty list")
	}
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 3, OutputTokens: 4})
	u.Add(Usage{InputTokens: 1})
	if u.Total() != 8 {
		t.Errorf("Total = %d, want 8", u.Total())
	}
}

type pingingProvider struct {
	stubProvider
	pingErr error
}

func (p *pingingProvider) Ping(context.Context) error { return p.pingErr }

func TestFallbackProvider_Ping(t *testing.T) {
	down := &pingingProvider{stubProvider: stubProvider{name: "openai"}, pingErr: errors.New("401")}
	up := &pingingProvider{stubProvider: stubProvider{name: "ollama"}}

	p, _ := NewFallbackProvider([]Provider{down, up}, nil)
	if err := Ping(context.Background(), p); err != nil {
		t.Errorf("Ping() = %v, want nil while one provider is up", err)
	}

	p, _ = NewFallbackProvider([]Provider{down, &pingingProvider{stubProvider: stubProvider{name: "ollama"}, pingErr: errors.New("refused")}}, nil)
	if err := Ping(context.Background(), p); err == nil {
		t.Error("Ping() = nil, want error when every provider is down")
	}

	if err := Ping(context.Background(), &stubProvider{name: "plain"}); err != nil {
		t.Errorf("providers without Ping report healthy, got %v", err)
	}
}
