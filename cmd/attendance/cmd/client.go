package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abyssinia-assembly/attendance/internal/config"
	"github.com/abyssinia-assembly/attendance/internal/credentials"
	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/domain/envelope"
	"github.com/abyssinia-assembly/attendance/internal/realtime"
)

const defaultReplyTimeout = 10 * time.Second

// Shared by the commands that talk to a running server.
var (
	clientEndpoint string
	clientPageURL  string
	clientTimeout  time.Duration
)

func addClientFlags(c *cobra.Command) {
	c.Flags().StringVar(&clientEndpoint, "endpoint", "", "channel URL (ws:// or wss://), overrides client.endpoint")
	c.Flags().StringVar(&clientPageURL, "page-url", "", "page URL the endpoint is derived from, overrides client.page_url")
	c.Flags().DurationVar(&clientTimeout, "timeout", defaultReplyTimeout, "how long to wait for the server")
}

// loadClientConfig loads config, applies the client flags and validates.
func loadClientConfig() (*config.Config, error) {
	cfg, err := loadConfigWithLogging()
	if err != nil {
		return nil, err
	}
	if clientPageURL != "" {
		cfg.Client.PageURL = clientPageURL
	}
	if clientEndpoint != "" {
		cfg.Client.Endpoint = clientEndpoint
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newChannelClient builds a realtime client that authenticates with the
// stored session token.
func newChannelClient(cfg *config.Config, store *credentials.Store) *realtime.Client {
	dialer := realtime.NewWebSocketDialer()
	dialer.HandshakeTimeout = cfg.Client.HandshakeTimeout

	return realtime.New(cfg.Client.RealtimeConfig(),
		realtime.WithDialer(dialer),
		realtime.WithTokenProvider(store),
	)
}

// envelopeQueue buffers envelopes from a subscription for synchronous use.
type envelopeQueue struct {
	ch          chan envelope.Envelope
	unsubscribe func()
}

func subscribeQueue(c *realtime.Client) *envelopeQueue {
	q := &envelopeQueue{ch: make(chan envelope.Envelope, 32)}
	q.unsubscribe = c.Subscribe(func(env envelope.Envelope) {
		select {
		case q.ch <- env:
		default:
		}
	})
	return q
}

func (q *envelopeQueue) close() {
	q.unsubscribe()
}

// await returns the first envelope whose type is in types. A lost connection
// while waiting is an error.
func (q *envelopeQueue) await(ctx context.Context, types ...envelope.Type) (envelope.Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no reply from server: %w", ctx.Err())
		case env := <-q.ch:
			if env.Type() == envelope.TypeConnectionStatus {
				if connected, _ := env.Bool(envelope.FieldConnected); !connected {
					return nil, fmt.Errorf("%s: %w", env.Message(), domain.ErrNotConnected)
				}
			}
			for _, t := range types {
				if env.Type() == t {
					return env, nil
				}
			}
		}
	}
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
