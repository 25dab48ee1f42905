package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Terminal renders code as a fenced markdown block for a terminal. When
// color is false the output carries no ANSI escapes.
func Terminal(code, language string, width int, color bool) (string, error) {
	if width <= 0 {
		width = 100
	}
	style := "notty"
	if color {
		style = "dark"
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating terminal renderer: %w", err)
	}

	out, err := r.Render(Fenced(code, language))
	if err != nil {
		return "", fmt.Errorf("rendering code: %w", err)
	}
	return out, nil
}

// Fenced wraps code in a markdown fence long enough not to collide with any
// backtick run inside the code.
func Fenced(code, language string) string {
	fence := "```"
	for strings.Contains(code, fence) {
		fence += "`"
	}
	return fence + language + "\n" + strings.TrimRight(code, "\n") + "\n" + fence + "\n"
}
