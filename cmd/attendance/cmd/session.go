package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abyssinia-assembly/attendance/internal/credentials"
	"github.com/abyssinia-assembly/attendance/internal/domain"
)

var (
	sessionToken string
	sessionRole  string
)

// sessionCmd manages the stored sign-in.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the stored session token and role",
	Long: `Manage the session token and role the client commands authenticate
with. They are kept in client.session_file (~/.attendance/session.yaml).

A running 'attendance watch' reconnects whenever the session changes.`,
}

var sessionSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a session token and role",
	Long: `Store a session token and role.

Examples:
  attendance session set --token "$(attendance token --role ADMIN)" --role ADMIN
  attendance session set --token eyJhbGciOi... --role USER`,
	RunE: runSessionSet,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored session",
	RunE:  runSessionShow,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored session",
	RunE:  runSessionClear,
}

func init() {
	sessionCmd.AddCommand(sessionSetCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)

	sessionSetCmd.Flags().StringVar(&sessionToken, "token", "", "session token (required)")
	sessionSetCmd.Flags().StringVar(&sessionRole, "role", "", "user role, e.g. ADMIN or USER")
	_ = sessionSetCmd.MarkFlagRequired("token")
}

func sessionStore() (*credentials.Store, error) {
	cfg, err := loadConfigWithLogging()
	if err != nil {
		return nil, err
	}
	return credentials.NewStore(cfg.Client.SessionFile), nil
}

func runSessionSet(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}

	c := credentials.Credentials{
		Token:    strings.TrimSpace(sessionToken),
		UserRole: strings.ToUpper(strings.TrimSpace(sessionRole)),
	}
	if c.Token == "" {
		return fmt.Errorf("token must not be empty")
	}
	if err := store.Save(c); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session saved to %s\n", store.Path())
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}

	c, err := store.Load()
	if errors.Is(err, domain.ErrNoCredentials) {
		fmt.Fprintln(cmd.OutOrStdout(), "No session stored")
		return nil
	}
	if err != nil {
		return err
	}

	role := c.UserRole
	if role == "" {
		role = "(none)"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:  %s\n", store.Path())
	fmt.Fprintf(out, "Role:  %s\n", role)
	fmt.Fprintf(out, "Token: %s\n", maskToken(c.Token))
	return nil
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Session cleared")
	return nil
}

// maskToken keeps only the ends of token visible.
func maskToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + "..." + token[len(token)-4:]
}
