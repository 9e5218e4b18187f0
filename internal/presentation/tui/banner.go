package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the ASCII art banner with the version underneath.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	// Leaf greens, darkening towards the soil line.
	lines := []struct{ text, color string }{
		{"  ____                        ", "#bef264"},
		{" / ___|  __ _ ___ _   _  __ _ ", "#a3e635"},
		{" \\___ \\ / _` / __| | | |/ _` |", "#84cc16"},
		{"  ___) | (_| \\__ \\ |_| | (_| |", "#65a30d"},
		{" |____/ \\__,_|___/\\__, |\\__,_|", "#4d7c0f"},
		{"                  |___/       ", "#3f6212"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
