package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/abyssinia-assembly/attendance/internal/attendance/auditlog"
	"github.com/abyssinia-assembly/attendance/internal/checkin"
	"github.com/abyssinia-assembly/attendance/internal/security"
)

// DefaultBasePath prefixes the channel and REST routes.
const DefaultBasePath = "/assemblyservice"

// ChannelPath is the WebSocket route below the base path.
const ChannelPath = "/ws/attendance"

// LogReader lists recorded switch changes.
type LogReader interface {
	List(ctx context.Context, limit int) ([]auditlog.Entry, error)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	BasePath string
	Roles    RoleChecker
	AuditLog LogReader
	Limiter  *RateLimiter
	// QR, when set, serves the check-in QR code as a PNG.
	QR *checkin.QRGenerator
}

// StatusResponse is the body of the status endpoints.
type StatusResponse struct {
	Enabled        bool `json:"enabled"`
	ActiveSessions int  `json:"activeSessions"`
}

// SetStatusRequest is the body of PUT /api/attendance/status.
type SetStatusRequest struct {
	Enabled *bool `json:"enabled"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// LogResponse is the body of GET /api/attendance/log.
type LogResponse struct {
	Entries []auditlog.Entry `json:"entries"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

type api struct {
	handler *Handler
	roles   RoleChecker
	audit   LogReader
}

// NewRouter mounts the channel handler and the REST API.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	basePath := strings.TrimSuffix(opts.BasePath, "/")
	if basePath == "" {
		basePath = DefaultBasePath
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(DefaultToggleLimit, DefaultToggleWindow)
	}

	a := &api{handler: h, roles: opts.Roles, audit: opts.AuditLog}

	router := mux.NewRouter()
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	base := router.PathPrefix(basePath).Subrouter()
	base.Handle(ChannelPath, handshakeLogger(opts.Roles, h)).Methods(http.MethodGet)

	apiRouter := base.PathPrefix("/api/attendance").Subrouter()
	apiRouter.HandleFunc("/status", a.handleGetStatus).Methods(http.MethodGet)
	apiRouter.Handle("/status", limiter.Middleware(http.HandlerFunc(a.handleSetStatus))).Methods(http.MethodPut)
	apiRouter.HandleFunc("/log", a.handleLog).Methods(http.MethodGet)
	if opts.QR != nil {
		apiRouter.HandleFunc("/qr", qrHandler(opts.QR)).Methods(http.MethodGet)
	}

	// Swagger UI (REST API docs)
	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	))

	return router
}

// handshakeLogger logs who is opening a channel. Tokens never reach the log;
// only the role they resolve to.
func handshakeLogger(roles RoleChecker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev := log.Debug().Str("remote_addr", r.RemoteAddr).Str("origin", r.Header.Get("Origin"))

		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != "" && roles != nil {
			if role, err := roles.Role(token); err == nil {
				ev = ev.Str("role", role)
			} else {
				ev = ev.Str("role", "invalid")
			}
		}
		ev.Msg("channel handshake")

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports liveness.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGetStatus returns the switch position.
// @Summary Get attendance status
// @Description Returns whether attendance is open and how many channel sessions are connected
// @Tags attendance
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /assemblyservice/api/attendance/status [get]
func (a *api) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.statusResponse())
}

// handleSetStatus sets the switch and broadcasts the change to every session.
// @Summary Set attendance status
// @Description Opens or closes attendance. Requires an ADMIN bearer token.
// @Tags attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SetStatusRequest true "Desired switch position"
// @Success 200 {object} StatusResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /assemblyservice/api/attendance/status [put]
func (a *api) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSONError(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	if a.roles == nil {
		writeJSONError(w, "token verification unavailable", http.StatusUnauthorized)
		return
	}

	role, err := a.roles.Role(token)
	if err != nil {
		writeJSONError(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if role != security.RoleAdmin {
		writeJSONError(w, "Admin access required", http.StatusForbidden)
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSONError(w, "body must be {\"enabled\": true|false}", http.StatusBadRequest)
		return
	}

	a.handler.SetEnabled(r.Context(), *req.Enabled, clientIP(r))
	writeJSON(w, http.StatusOK, a.statusResponse())
}

// handleLog lists recorded switch changes, newest first.
// @Summary List attendance changes
// @Tags attendance
// @Produce json
// @Param limit query int false "Maximum entries to return" default(100)
// @Success 200 {object} LogResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /assemblyservice/api/attendance/log [get]
func (a *api) handleLog(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil {
		writeJSONError(w, "audit log is unavailable", http.StatusServiceUnavailable)
		return
	}

	limit := auditlog.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := a.audit.List(r.Context(), limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Msg("failed to list attendance log")
		writeJSONError(w, "failed to read attendance log", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []auditlog.Entry{}
	}
	writeJSON(w, http.StatusOK, LogResponse{Entries: entries})
}

// qrHandler serves the check-in QR code.
// @Summary Check-in QR code
// @Description Renders the attendance page URL as a PNG QR code
// @Tags attendance
// @Produce png
// @Param size query int false "Image size in pixels (64-1024)" default(256)
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse
// @Router /assemblyservice/api/attendance/qr [get]
func qrHandler(g *checkin.QRGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		size := checkin.DefaultPNGSize
		if raw := r.URL.Query().Get("size"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 64 || n > 1024 {
				writeJSONError(w, "size must be between 64 and 1024", http.StatusBadRequest)
				return
			}
			size = n
		}

		png, err := g.GeneratePNG(size)
		if err != nil {
			log.Error().Err(err).Msg("failed to render check-in QR code")
			writeJSONError(w, "failed to render QR code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(png)
	}
}

func (a *api) statusResponse() StatusResponse {
	return StatusResponse{
		Enabled:        a.handler.Enabled(),
		ActiveSessions: a.handler.ActiveSessions(),
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
