package main

import (
	"os"

	"ai-qa-sync/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
