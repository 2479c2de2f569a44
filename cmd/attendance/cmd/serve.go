package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/abyssinia-assembly/attendance/internal/attendance"
	"github.com/abyssinia-assembly/attendance/internal/attendance/auditlog"
	"github.com/abyssinia-assembly/attendance/internal/checkin"
	"github.com/abyssinia-assembly/attendance/internal/config"
	"github.com/abyssinia-assembly/attendance/internal/security"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort int
	serveHost string
	serveQR   bool
)

// serveCmd runs the channel server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the attendance channel server",
	Long: `Run the attendance channel server.

Serves the WebSocket channel at <base_path>/ws/attendance and a small REST
API next to it:

  GET  <base_path>/api/attendance/status   current switch and session count
  PUT  <base_path>/api/attendance/status   set the switch (admin bearer token)
  GET  <base_path>/api/attendance/log      recent switch changes
  GET  <base_path>/api/attendance/qr       check-in QR code (PNG)
  GET  /health

Example:
  attendance serve
  attendance serve --port 9000 --qr`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: 8082)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default: 0.0.0.0)")
	serveCmd.Flags().BoolVar(&serveQR, "qr", false, "print a check-in QR code on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.RequireSecret(); err != nil {
		return err
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("base_path", cfg.Server.BasePath).
		Msg("starting attendance server")

	verifier := security.NewRoleVerifier(cfg.Auth.JWTSecret)

	var (
		recorder attendance.Recorder
		logs     attendance.LogReader
	)
	if cfg.Audit.Enabled {
		store, err := auditlog.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer store.Close()
		recorder, logs = store, store
	}

	origins := security.NewOriginChecker(cfg.Server.AllowedOrigins)
	handler := attendance.NewHandler(verifier, recorder,
		attendance.WithCheckOrigin(origins.CheckOrigin),
		attendance.WithInitialState(cfg.Server.InitialEnabled),
	)

	limiter := attendance.NewRateLimiter(cfg.Server.ToggleRateLimit, attendance.DefaultToggleWindow)
	defer limiter.Stop()

	qr := checkin.NewQRGenerator(cfg.Server.PublicURL, cfg.Server.Host, cfg.Server.Port)
	router := attendance.NewRouter(handler, attendance.RouterOptions{
		BasePath: cfg.Server.BasePath,
		Roles:    verifier,
		AuditLog: logs,
		Limiter:  limiter,
		QR:       qr,
	})

	server := attendance.NewServer(cfg.Server.Host, cfg.Server.Port, handler, router)
	if err := server.Start(); err != nil {
		return err
	}

	if serveQR {
		if err := qr.Print(os.Stdout); err != nil {
			log.Warn().Err(err).Msg("failed to print QR code")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	log.Info().Msg("attendance server stopped")
	return nil
}
