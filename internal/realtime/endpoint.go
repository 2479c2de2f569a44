package realtime

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/abyssinia-assembly/attendance/internal/domain"
)

const (
	// AttendancePath is the attendance channel path on the assembly service.
	AttendancePath = "/assemblyservice/ws/attendance"

	// LocalEndpoint is used when the client runs against a local development server.
	LocalEndpoint = "ws://localhost:8082" + AttendancePath
)

// ResolveEndpoint derives the channel URL from the page (or API) origin the
// operator is using. Local origins and an empty origin resolve to LocalEndpoint.
// Otherwise https pages map to wss and everything else to ws, on the same host.
func ResolveEndpoint(pageURL string) string {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return LocalEndpoint
	}

	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return LocalEndpoint
	}

	switch u.Hostname() {
	case "localhost", "127.0.0.1":
		return LocalEndpoint
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return scheme + "://" + u.Host + AttendancePath
}

// validateEndpoint rejects URLs the transport could never dial.
func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrInvalidEndpoint)
	}
	return nil
}
