package cmd

import (
	"encoding/json"
	"fmt"

	"ai-qa-sync/internal/config"
	"ai-qa-sync/internal/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	logsLevel  string
	logsLimit  int
	logsOffset int
	logsId     string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "show entries from the client log file",
	Example: `  $ qa logs --level warn --limit 20
  $ qa logs --id 3f1c...`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().StringVarP(&logsLevel, "level", "l", "", "only this level (debug, info, warn, error)")
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "maximum entries")
	logsCmd.Flags().IntVar(&logsOffset, "offset", 0, "skip this many newest entries")
	logsCmd.Flags().StringVar(&logsId, "id", "", "show one entry in full")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := logger.NewIsolatedLogger(cfg.App.LogFilePath)

	if logsId != "" {
		entry, err := log.GetLogById(logsId)
		if err != nil {
			PrintError("%v", err)
			return err
		}
		raw, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Println(string(raw))
		return nil
	}

	entries, err := log.GetLogs(logsLevel, logsLimit, logsOffset)
	if err != nil {
		PrintError("failed to read logs: %v", err)
		return err
	}
	if len(entries) == 0 {
		PrintInfo("No log entries")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s %-5s %-14s %s", e.Timestamp, e.Level, e.Module, e.Message)
		switch e.Level {
		case "error":
			errorColor.Println(line)
		case "warn":
			warningColor.Println(line)
		default:
			fmt.Println(line)
		}
		PrintDim("  id=%s", e.Id)
	}
	return nil
}
