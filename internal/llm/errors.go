package llm

import (
	"net/http"
	"strings"

	"scout/internal/core"
)

// Providers do not share an error taxonomy, so auth failures are detected by
// a combination of structured status codes and known message fragments.
var authErrorPatterns = []string{
	"api key not valid",
	"api_key_invalid",
	"invalid api key",
	"incorrect api key",
	"invalid_api_key",
	"invalid x-api-key",
	"authentication",
	"unauthorized",
	"permission denied",
	"permission_denied",
	"credential",
}

// isAuthMessage reports whether a provider error message matches a known
// auth-failure pattern.
func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range authErrorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifyHTTPError maps a provider HTTP failure into the error taxonomy,
// checking the status code first and message patterns second.
func classifyHTTPError(provider string, statusCode int, body string) *core.PipelineError {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.NewError(core.ErrKindProviderAuth, provider+" rejected credentials: "+body, nil)
	case http.StatusTooManyRequests:
		return core.NewError(core.ErrKindRateLimited, provider+" rate limited the request: "+body, nil)
	}
	if isAuthMessage(body) {
		return core.NewError(core.ErrKindProviderAuth, provider+" auth failure: "+body, nil)
	}
	return core.NewError(core.ErrKindProvider, provider+" call failed: "+body, nil)
}

// classifySDKError maps an SDK-surfaced error (no HTTP status available to
// the caller) into the taxonomy via message patterns.
func classifySDKError(provider string, err error) *core.PipelineError {
	if isAuthMessage(err.Error()) {
		return core.NewError(core.ErrKindProviderAuth, provider+" auth failure", err)
	}
	return core.NewError(core.ErrKindProvider, provider+" call failed", err)
}
