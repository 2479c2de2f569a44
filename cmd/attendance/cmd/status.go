package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abyssinia-assembly/attendance/internal/credentials"
	"github.com/abyssinia-assembly/attendance/internal/domain/envelope"
	"github.com/abyssinia-assembly/attendance/internal/monitor"
)

// statusCmd asks the server for the current switch.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether attendance is enabled",
	Long: `Connect to the attendance channel, wait for the server's status and
print it.

Example:
  attendance status
  attendance status --page-url https://assembly.example.org/checkin`,
	RunE: runStatus,
}

// toggleCmd flips the switch.
var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Flip the attendance switch (administrators only)",
	Long: `Connect to the attendance channel and ask the server to flip the
switch. Requires a stored ADMIN session, see 'attendance session set'.`,
	RunE: runToggle,
}

func init() {
	addClientFlags(statusCmd)
	addClientFlags(toggleCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	store := credentials.NewStore(cfg.Client.SessionFile)
	client := newChannelClient(cfg, store)

	q := subscribeQueue(client)
	defer q.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
	defer cancel()

	client.Connect()
	defer client.Disconnect()

	env, err := q.await(ctx, envelope.TypeStatus)
	if err != nil {
		return err
	}

	enabled, ok := env.Bool(envelope.FieldEnabled)
	if !ok {
		return fmt.Errorf("server status did not include the switch")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Attendance is %s\n", enabledLabel(enabled))
	return nil
}

func runToggle(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	store := credentials.NewStore(cfg.Client.SessionFile)
	client := newChannelClient(cfg, store)
	m := monitor.New(client, store, nil)

	if !m.CanToggle() {
		return fmt.Errorf("only administrators can toggle attendance")
	}

	// The monitor must see CONNECTION_STATUS before the queue hands it out.
	unsubscribe := client.Subscribe(m.Handle)
	defer unsubscribe()
	q := subscribeQueue(client)
	defer q.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
	defer cancel()

	client.Connect()
	defer client.Disconnect()

	if _, err := q.await(ctx, envelope.TypeConnectionStatus); err != nil {
		return err
	}
	if err := m.Toggle(); err != nil {
		return err
	}

	env, err := q.await(ctx, envelope.TypeToggle, envelope.TypeError)
	if err != nil {
		return err
	}
	if env.Type() == envelope.TypeError {
		return fmt.Errorf("server refused toggle: %s", env.Message())
	}

	enabled, _ := env.Bool(envelope.FieldEnabled)
	fmt.Fprintf(cmd.OutOrStdout(), "Attendance is now %s\n", enabledLabel(enabled))
	return nil
}
