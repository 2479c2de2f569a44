package security

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker validates the Origin header of WebSocket upgrades.
type OriginChecker struct {
	allowedOrigins []string
}

// NewOriginChecker creates a new origin checker. With no allowed origins
// every origin is accepted.
func NewOriginChecker(allowedOrigins []string) *OriginChecker {
	return &OriginChecker{allowedOrigins: allowedOrigins}
}

// CheckOrigin validates the origin header in a request.
// Returns true if the origin is allowed.
func (oc *OriginChecker) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Non-browser clients and same-origin requests send no Origin.
	if origin == "" || len(oc.allowedOrigins) == 0 {
		return true
	}

	parsedOrigin, err := url.Parse(origin)
	if err != nil {
		return false
	}

	// Local check-in kiosks are always allowed.
	if isLocalhost(parsedOrigin.Hostname()) {
		return true
	}

	for _, allowed := range oc.allowedOrigins {
		if matchOrigin(parsedOrigin, origin, allowed) {
			return true
		}
	}
	return false
}

// isLocalhost checks if a host is localhost.
func isLocalhost(host string) bool {
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasSuffix(host, ".localhost")
}

// matchOrigin checks if an origin matches an allowed pattern.
// Supports exact match and wildcard subdomain matching (*.example.com).
func matchOrigin(parsed *url.URL, origin, allowed string) bool {
	if origin == allowed {
		return true
	}

	if strings.HasPrefix(allowed, "*.") {
		domain := allowed[1:] // ".example.com"
		host := parsed.Hostname()
		return strings.HasSuffix(host, domain) || host == domain[1:]
	}

	return false
}
