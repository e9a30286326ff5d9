package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "2", Dark: "2"}
	colorError   = lipgloss.AdaptiveColor{Light: "1", Dark: "1"}
	colorPrimary = lipgloss.AdaptiveColor{Light: "5", Dark: "5"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "8", Dark: "8"}

	StyleTitle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Underline(true)
	StyleSuccess = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	StyleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	StyleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	StyleHeader  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Padding(0, 1)
	StyleCell    = lipgloss.NewStyle().Padding(0, 1)
)

func formatSuccess(msg string) string {
	return StyleSuccess.Render("✔") + " " + msg
}

func formatError(msg string) string {
	return StyleError.Render("✘") + " " + msg
}

func formatMuted(msg string) string {
	return StyleMuted.Render(msg)
}

// renderTable draws rows under headers with a rounded border
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(StyleMuted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleHeader
			}
			return StyleCell
		})
	return t.String()
}

// humanBytes renders n with a binary unit
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
