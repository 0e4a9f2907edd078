package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type countingTool struct {
	name  string
	calls int
	fail  bool
}

func (c *countingTool) Name() string                 { return c.name }
func (c *countingTool) Description() string          { return "counts calls" }
func (c *countingTool) InputSchema() map[string]any  { return map[string]any{"type": "object"} }
func (c *countingTool) Validate(map[string]any) error { return nil }
func (c *countingTool) Execute(_ context.Context, _ map[string]any) (*Result, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("failed")
	}
	return &Result{Output: "ok", Success: true}, nil
}

func TestRegistry_RegisterAndSubset(t *testing.T) {
	reg := NewRegistry(&countingTool{name: "search_internet"}, &countingTool{name: "scrape_website"})

	if err := reg.Register(&countingTool{name: "search_internet"}); err == nil {
		t.Error("expected duplicate registration error")
	}
	if got := reg.Names(); strings.Join(got, ",") != "scrape_website,search_internet" {
		t.Errorf("Names = %v", got)
	}

	sub, err := reg.Subset([]string{"search_internet"})
	if err != nil {
		t.Fatalf("Subset: %v", err)
	}
	if sub.Len() != 1 || sub.Get("scrape_website") != nil {
		t.Errorf("subset leaked tools: %v", sub.Names())
	}
	if _, err := reg.Subset([]string{"launch_rocket"}); err == nil {
		t.Error("expected unknown tool error")
	}

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "scrape_website" {
		t.Errorf("Definitions = %+v", defs)
	}
}

func TestWithCache_ReusesSuccessfulResults(t *testing.T) {
	inner := &countingTool{name: "search_internet"}
	cached := WithCache(inner, NewCache(time.Minute))

	params := map[string]any{"search_query": "Europa Clipper"}
	for i := 0; i < 3; i++ {
		if _, err := cached.Execute(context.Background(), params); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}

	if _, err := cached.Execute(context.Background(), map[string]any{"search_query": "JWST"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("different params should miss the cache, calls = %d", inner.calls)
	}
}

func TestWithCache_SkipsFailures(t *testing.T) {
	inner := &countingTool{name: "scrape_website", fail: true}
	cached := WithCache(inner, NewCache(time.Minute))

	for i := 0; i < 2; i++ {
		_, _ = cached.Execute(context.Background(), map[string]any{"website_url": "https://x"})
	}
	if inner.calls != 2 {
		t.Errorf("failures must not be cached, calls = %d", inner.calls)
	}
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("t", nil, &Result{Output: "x", Success: true})
	if _, ok := c.Get("t", nil); !ok {
		t.Fatal("expected hit")
	}
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("t", nil); ok {
		t.Fatal("expected expiry")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, Len = %d", c.Len())
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := TruncateOutput("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
	got := TruncateOutput(strings.Repeat("a", 100), 40)
	if len(got) != 40 || !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("got %q (%d)", got, len(got))
	}
}

func TestCutUTF8(t *testing.T) {
	s := "Δv budget: 9.4 km/s"
	tests := []struct {
		max  int
		want string
	}{
		{100, s},
		{1, ""},
		{2, "Δ"},
		{3, "Δv"},
		{0, ""},
	}
	for _, tt := range tests {
		got := CutUTF8(s, tt.max)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("CutUTF8(%d) = %q, want %q", tt.max, got, tt.want)
		}
	}

	out := TruncateOutput(strings.Repeat("é", 40), 30)
	if !utf8.ValidString(out) || len(out) > 30 {
		t.Errorf("TruncateOutput split a character: %q", out)
	}
}

func TestParams(t *testing.T) {
	p := map[string]any{"q": "mars", "n": float64(5), "bad": 3}
	if s, err := RequireString(p, "q"); err != nil || s != "mars" {
		t.Errorf("RequireString = %q, %v", s, err)
	}
	if _, err := RequireString(p, "bad"); err == nil {
		t.Error("expected type error")
	}
	if _, err := RequireString(p, "missing"); err == nil {
		t.Error("expected missing error")
	}
	if OptionalInt(p, "n", 10) != 5 || OptionalInt(p, "x", 10) != 10 {
		t.Error("OptionalInt mismatch")
	}
}
