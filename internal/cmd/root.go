package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ai-qa-sync/internal/bootstrap"
	"ai-qa-sync/internal/config"
	"ai-qa-sync/pkg/events"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var showEvents bool

var rootCmd = &cobra.Command{
	Use:     "qa",
	Short:   "Ask questions about your study documents",
	Version: version,
	Long: `qa talks to the education Q&A service: it signs you in, streams answers
to your questions, uploads documents and follows their ingestion jobs.`,
	Example: `  # Sign in
  $ qa login -e student@example.com

  # Ask about a target's documents
  $ qa ask demo "What is stoichiometry?"

  # Upload a document and follow its ingestion
  $ qa upload demo notes.txt --track`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVar(&showEvents, "events", false, "print lifecycle events as they happen")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(logsCmd)
}

// withContainer wires the client for one command run. The context ends on
// SIGINT/SIGTERM.
func withContainer(fn func(ctx context.Context, c *bootstrap.Container) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	c, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer c.Close()

	if showEvents {
		if err := c.Feed.Subscribe(ctx, printEvent); err != nil {
			return err
		}
	}
	return fn(ctx, c)
}

func printEvent(ev events.Event) {
	PrintDim("  [%s] %s %v", ev.Timestamp().Format("15:04:05.000"), ev.EventType(), ev.Payload())
}
