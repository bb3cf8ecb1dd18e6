package tui

import "github.com/charmbracelet/lipgloss"

// Color palette for the lanna CLI
var (
	ColorPrimary   = lipgloss.Color("#B45309") // Lacquer gold
	ColorSecondary = lipgloss.Color("#0E7490") // Indigo dye

	ColorSuccess = lipgloss.Color("#22C55E")
	ColorError   = lipgloss.Color("#EF4444")
	ColorWarning = lipgloss.Color("#F59E0B")

	ColorText   = lipgloss.Color("#F8FAFC")
	ColorMuted  = lipgloss.Color("#94A3B8")
	ColorSubtle = lipgloss.Color("#64748B")
)
