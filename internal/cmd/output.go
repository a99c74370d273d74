package cmd

import (
	"fmt"
	"strings"

	"ai-qa-sync/internal/entity"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
	boldColor    = color.New(color.Bold)
)

func PrintSuccess(format string, args ...interface{}) {
	successColor.Printf("✓ %s\n", fmt.Sprintf(format, args...))
}

func PrintError(format string, args ...interface{}) {
	errorColor.Printf("✗ %s\n", fmt.Sprintf(format, args...))
}

func PrintWarning(format string, args ...interface{}) {
	warningColor.Printf("⚠ %s\n", fmt.Sprintf(format, args...))
}

func PrintInfo(format string, args ...interface{}) {
	infoColor.Printf("ℹ %s\n", fmt.Sprintf(format, args...))
}

func PrintDim(format string, args ...interface{}) {
	dimColor.Println(fmt.Sprintf(format, args...))
}

func PrintBold(format string, args ...interface{}) {
	boldColor.Println(fmt.Sprintf(format, args...))
}

const barWidth = 30

// progressLine renders one job status, e.g. "embedding  [=====     ] 55%".
func progressLine(st entity.JobStatus) string {
	filled := st.Progress * barWidth / 100
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)
	line := fmt.Sprintf("%-11s [%s] %3d%%", strings.ToLower(string(st.Phase)), bar, st.Progress)
	if st.Message != "" {
		line += "  " + st.Message
	}
	return line
}
