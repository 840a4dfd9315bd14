package toolkit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

const (
	maxStatusPageSize   = 20 * 1024
	statusPageTimeout   = 30 * time.Second
	statusPageUserAgent = "opsbridge-tools/1.0"
)

// StatusPages maps a provider name to its public status page.
var StatusPages = map[string]string{
	"azure": "https://azure.status.microsoft/en-us/status",
	"gcp":   "https://status.cloud.google.com/",
}

// StatusPageTool fetches a cloud status page and extracts its readable text.
type StatusPageTool struct {
	HTTPClient *http.Client
	Pages      map[string]string // default StatusPages
	MaxSize    int               // default 20KB
}

func (t *StatusPageTool) Name() string { return "fetch_status_page" }
func (t *StatusPageTool) Description() string {
	return "Fetch a cloud provider status page (azure, gcp) or any URL and return its readable text"
}
func (t *StatusPageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"provider": map[string]any{"type": "string", "description": "azure or gcp"},
			"url":      map[string]any{"type": "string", "description": "Status page URL, overrides provider"},
		},
	}
}

func (t *StatusPageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rawURL := getString(params, "url")
	if rawURL == "" {
		provider := strings.ToLower(getString(params, "provider"))
		if provider == "" {
			return "", fmt.Errorf("fetch_status_page: provider or url is required")
		}
		pages := t.Pages
		if pages == nil {
			pages = StatusPages
		}
		var ok bool
		if rawURL, ok = pages[provider]; !ok {
			return "", fmt.Errorf("fetch_status_page: unknown provider %q", provider)
		}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch_status_page: invalid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch_status_page: %w", err)
	}
	req.Header.Set("User-Agent", statusPageUserAgent)

	client := t.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: statusPageTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch_status_page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch_status_page: HTTP %d", resp.StatusCode)
	}

	max := t.MaxSize
	if max <= 0 {
		max = maxStatusPageSize
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(max)+1))
		return truncate(string(body), max), nil
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("fetch_status_page: parse: %w", err)
	}
	var text bytes.Buffer
	if err := article.RenderText(&text); err != nil {
		return "", fmt.Errorf("fetch_status_page: render: %w", err)
	}

	return fmt.Sprintf("Title: %s\nURL: %s\n\n%s", article.Title(), rawURL, truncate(strings.TrimSpace(text.String()), max)), nil
}
