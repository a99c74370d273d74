package cmd

import (
	"context"

	"ai-qa-sync/internal/bootstrap"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "revoke the refresh token and forget the stored credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(runLogout)
	},
}

func runLogout(ctx context.Context, c *bootstrap.Container) error {
	cred, ok := c.AuthGate.Credential()
	if !ok {
		PrintInfo("Not signed in")
		return nil
	}
	if err := c.AuthAPI.Logout(ctx, cred); err != nil {
		// The local credential goes regardless.
		PrintWarning("server logout failed: %v", err)
	}
	c.AuthGate.Logout(ctx)
	PrintSuccess("Signed out")
	return nil
}
