// Package toolkit implements the infrastructure tools served over MCP:
// Kubernetes, Proxmox, Azure and GCP cost data, and provider status pages.
package toolkit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Tool is the interface every served tool implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema, always of type object
	Execute(ctx context.Context, params map[string]any) (string, error)
}

const truncatedMarker = "\n... [truncated]"

func getString(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case float64:
		// Models sometimes send numeric IDs unquoted.
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

func getInt(params map[string]any, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
		}
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s must be an integer, got %T", key, raw)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	// Back off to a rune boundary so the result stays valid UTF-8.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMarker
}

func emptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
