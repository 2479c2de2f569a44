package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/abyssinia-assembly/attendance/internal/credentials"
	"github.com/abyssinia-assembly/attendance/internal/monitor"
)

// watchCmd follows the channel and logs every change.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the attendance switch in real time",
	Long: `Connect to the attendance channel and log every switch change,
error and connection state transition until interrupted.

The connection is re-established after network drops. Send SIGHUP, or sign
in again with 'attendance session set', to force a fresh connection.`,
	RunE: runWatch,
}

func init() {
	addClientFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	store := credentials.NewStore(cfg.Client.SessionFile)
	client := newChannelClient(cfg, store)

	// Notices go to a pretty console logger, diagnostics stay on zerolog.
	notices := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	m := monitor.New(client, store, noticeLogger(notices))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// New credentials need a new AUTHENTICATE, which only happens on open.
	if err := store.Watch(ctx, func(c credentials.Credentials) {
		log.Info().Str("role", c.UserRole).Msg("credentials changed")
		m.Reconnect()
	}); err != nil {
		log.Warn().Err(err).Msg("credentials will not be watched")
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				m.Reconnect()
			}
		}
	}()

	log.Info().
		Str("endpoint", client.Endpoint()).
		Bool("can_toggle", m.CanToggle()).
		Msg("watching attendance")

	m.Run(ctx)

	snap := m.Snapshot()
	log.Info().Str("attendance", enabledLabel(snap.Enabled)).Msg("stopped watching")
	return nil
}

func noticeLogger(logger *slog.Logger) func(monitor.Notice) {
	return func(n monitor.Notice) {
		level := slog.LevelInfo
		switch n.Level {
		case monitor.LevelError:
			level = slog.LevelError
		case monitor.LevelWarn:
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, n.Title, "detail", n.Message)
	}
}
