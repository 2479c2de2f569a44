package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abyssinia-assembly/attendance/internal/security"
)

var (
	tokenRole    string
	tokenSubject string
	tokenTTL     time.Duration
)

// tokenCmd mints a signed role token with the server's secret.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed role token",
	Long: `Issue an HS256 token carrying a roleName claim, signed with
auth.jwt_secret. The server accepts it for AUTHENTICATE, TOGGLE_ATTENDANCE
and the REST API.

Examples:
  attendance token --role ADMIN --subject usher-1
  attendance token --role USER --ttl 1h`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", security.RoleAdmin, "role claim")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "attendance-cli", "subject claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: auth.token_ttl)")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithLogging()
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		return err
	}

	role := strings.ToUpper(strings.TrimSpace(tokenRole))
	if role == "" {
		return fmt.Errorf("role must not be empty")
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := security.NewRoleVerifier(cfg.Auth.JWTSecret).Issue(tokenSubject, role, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
