package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"ai-qa-sync/internal/bootstrap"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "sign in and store the credential pair locally",
	Long: `Sign in to the Q&A service. The access and refresh tokens are kept in the
configured credential store (CREDENTIAL_STORE) and refreshed automatically.`,
	Example: `  $ qa login -e student@example.com
  $ qa login -e student@example.com -p student123`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(runLogin)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (prompted when empty)")
	_ = loginCmd.MarkFlagRequired("email")
}

func runLogin(ctx context.Context, c *bootstrap.Container) error {
	password := loginPassword
	if password == "" {
		fmt.Print("Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			PrintError("failed to read password: %v", err)
			return fmt.Errorf("input failed")
		}
		password = strings.TrimSpace(line)
	}

	PrintInfo("Connecting to %s...", c.Config.App.APIBaseURL)
	cred, err := c.AuthAPI.Login(ctx, loginEmail, password)
	if err != nil {
		PrintError("login failed: %v", err)
		return fmt.Errorf("authentication failed")
	}
	if err := c.AuthGate.SignIn(ctx, cred); err != nil {
		PrintError("failed to store credential: %v", err)
		return err
	}

	PrintSuccess("Signed in as %s", loginEmail)
	if !cred.ExpiresHint.IsZero() {
		PrintDim("  access token expires %s", cred.ExpiresHint.Local().Format("15:04:05"))
	}
	return nil
}
