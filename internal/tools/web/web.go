// Package web implements the website scraping tool.
//
// Pages are fetched with GET only. Every dialed address, including those
// reached through redirects, is checked against private ranges, and the body
// is capped before HTML is reduced to readable text.
package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/jkaninda/astro/internal/tools"
)

// ToolName is the name agents reference the tool by.
const ToolName = "scrape_website"

// Config configures the scrape tool.
type Config struct {
	AllowedDomains   []string // Empty allows any public host.
	MaxResponseBytes int64    // 0 = 5 MB.
	TimeoutSeconds   int      // 0 = 15s.
}

const (
	defaultMaxResponseBytes = 5 << 20
	defaultTimeoutSeconds   = 15
	maxRedirects            = 5
	dialTimeout             = 10 * time.Second
	userAgent               = "Mozilla/5.0 (compatible; Astro/1.0; +https://github.com/jkaninda/astro)"
)

// Tool fetches a web page and returns its text content.
type Tool struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// NewTool creates a scrape tool.
func NewTool(cfg Config, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Tool{config: cfg, logger: logger}
	t.client = t.newClient(dialControl)
	return t
}

// newClient builds the fetch client. control runs on every dialed address
// after DNS resolution.
func (t *Tool) newClient(control func(network, address string, c syscall.RawConn) error) *http.Client {
	dialer := &net.Dialer{Timeout: dialTimeout, Control: control}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: dialTimeout,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: t.checkRedirect,
	}
}

func (t *Tool) Name() string { return ToolName }
func (t *Tool) Description() string {
	return "Read a website's content. Returns the page title and visible text."
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"website_url": map[string]any{"type": "string", "description": "Mandatory website url to read the content of (http or https)"},
		},
		"required": []string{"website_url"},
	}
}

func (t *Tool) Validate(params map[string]any) error {
	_, err := t.parseURL(params)
	return err
}

func (t *Tool) parseURL(params map[string]any) (*url.URL, error) {
	rawURL, err := tools.RequireString(params, "website_url")
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("only http/https schemes allowed, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("URL %q has no host", rawURL)
	}
	if !t.allowed(parsed.Hostname()) {
		return nil, fmt.Errorf("domain %q is not in the allowlist", parsed.Hostname())
	}
	return parsed, nil
}

func (t *Tool) allowed(host string) bool {
	return len(t.config.AllowedDomains) == 0 || IsDomainAllowed(host, t.config.AllowedDomains)
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	parsed, err := t.parseURL(params)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(t.config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	t.logger.InfoContext(ctx, "scrape executing", slog.String("url", parsed.String()))

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	maxBytes := t.config.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	truncated := int64(len(body)) > maxBytes
	if truncated {
		body = body[:maxBytes]
	}

	if resp.StatusCode >= 400 {
		return &tools.Result{
			Output:  fmt.Sprintf("failed to fetch %s: HTTP %d", parsed.String(), resp.StatusCode),
			Success: false,
			Metadata: map[string]any{
				"status_code": resp.StatusCode,
				"url":         resp.Request.URL.String(),
			},
		}, nil
	}

	var output string
	title := ""
	if isHTML(resp.Header.Get("Content-Type"), body) {
		page := ExtractText(strings.NewReader(string(body)))
		title = page.Title
		output = page.String()
	} else {
		output = string(body)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(output, tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"status_code": resp.StatusCode,
			"url":         resp.Request.URL.String(),
			"title":       title,
			"truncated":   truncated,
		},
	}, nil
}

func (t *Tool) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("too many redirects (max %d)", maxRedirects)
	}
	host := req.URL.Hostname()
	if !t.allowed(host) {
		return fmt.Errorf("redirect to disallowed domain %q blocked", host)
	}
	return nil
}

func isHTML(contentType string, body []byte) bool {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
