package invoke

import (
	"fmt"
	"strings"
)

const maxAPIErrorChars = 200

// APIError is a non-2xx response or a reported tool failure.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.StatusCode, e.Body)
}

func newAPIError(statusCode int, body, token string) *APIError {
	if token != "" {
		body = strings.ReplaceAll(body, token, "[REDACTED]")
	}
	return &APIError{
		StatusCode: statusCode,
		Body:       sanitizeAPIError(body),
	}
}

func sanitizeAPIError(input string) string {
	scrubbed := scrubSecretPatterns(strings.TrimSpace(input))
	runes := []rune(scrubbed)
	if len(runes) <= maxAPIErrorChars {
		return scrubbed
	}
	return string(runes[:maxAPIErrorChars]) + "..."
}

// scrubSecretPatterns redacts token-looking words that follow a known prefix.
func scrubSecretPatterns(input string) string {
	out := input
	for _, prefix := range []string{"sk-", "xoxb-", "xoxp-", "Bearer "} {
		searchFrom := 0
		for {
			rel := strings.Index(out[searchFrom:], prefix)
			if rel < 0 {
				break
			}
			idx := searchFrom + rel
			start := idx + len(prefix)
			end := start
			for end < len(out) && isTokenChar(out[end]) {
				end++
			}
			if end == start {
				searchFrom = start
				continue
			}
			if prefix == "Bearer " {
				// Keep the scheme so the message still reads naturally.
				out = out[:start] + "[REDACTED]" + out[end:]
				searchFrom = start + len("[REDACTED]")
				continue
			}
			out = out[:idx] + "[REDACTED]" + out[end:]
			searchFrom = idx + len("[REDACTED]")
		}
	}
	return out
}

func isTokenChar(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '_' || ch == '.' || ch == ':'
}
