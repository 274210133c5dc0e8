package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/louissader/homelab-infrastructure-monitor/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Authentication helpers",
	Long:  `Generate credentials for operator accounts and agents`,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash [password]",
	Short: "Hash an operator password for the config file",
	Long: `Hash a password with bcrypt for use in the security.users list.

Operator accounts live in the configuration file; only the bcrypt hash is
stored there. Agents do not use passwords: their per-entity API keys are
minted through POST /api/v1/entities/:id/apikey on a running server.

Examples:
  # Hash a password and print a config snippet for user "louis"
  monitord token hash 's3cret' --username louis

  # Grant roles other than the default
  monitord token hash 's3cret' --username ops --roles operator,viewer`,
	Args: cobra.ExactArgs(1),
	RunE: runHashPassword,
}

var (
	hashUsername string
	hashRoles    []string
)

func init() {
	hashPasswordCmd.Flags().StringVar(&hashUsername, "username", "admin", "username for the printed config snippet")
	hashPasswordCmd.Flags().StringSliceVar(&hashRoles, "roles", []string{"operator"}, "roles for the printed config snippet (admin, operator, viewer)")

	tokenCmd.AddCommand(hashPasswordCmd)
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	password := args[0]
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	fmt.Printf("Password Hash Generated\n")
	fmt.Printf("=======================\n\n")
	fmt.Printf("Username: %s\n", hashUsername)
	fmt.Printf("Hash:     %s\n\n", hash)
	fmt.Printf("Add this to your config.yaml:\n")
	fmt.Printf("  security:\n")
	fmt.Printf("    auth_enabled: true\n")
	fmt.Printf("    users:\n")
	fmt.Printf("      - username: %s\n", hashUsername)
	fmt.Printf("        password_hash: %q\n", hash)
	fmt.Printf("        roles: [%s]\n", strings.Join(hashRoles, ", "))

	return nil
}
