package main

import "github.com/charmbracelet/lipgloss"

// The handful of stdout accents the CLI needs, on an IBM Carbon palette.
const (
	colorBlue   = "#4589ff"
	colorTeal   = "#3ddbd9"
	colorRed    = "#da1e28"
	colorGray   = "#8d8d8d"
	colorOrange = "#ff832b"
)

var (
	styleSubject = lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue)).Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color(colorTeal))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)).Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
	stylePrompt  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorOrange)).Bold(true)
)
