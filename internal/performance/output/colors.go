package output

import (
	"os"

	"github.com/fatih/color"
)

// Palette defines the colors used for the console display.
type Palette struct {
	Title  *color.Color
	Label  *color.Color
	Value  *color.Color
	Good   *color.Color
	Warn   *color.Color
	Bad    *color.Color
	Dim    *color.Color
	Accent *color.Color
}

// NewPalette returns the default palette. When enabled is false every color
// renders as plain text regardless of the terminal.
func NewPalette(enabled bool) *Palette {
	p := &Palette{
		Title:  color.New(color.FgCyan, color.Bold),
		Label:  color.New(color.Bold),
		Value:  color.New(color.FgCyan),
		Good:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Bad:    color.New(color.FgRed, color.Bold),
		Dim:    color.New(color.Faint),
		Accent: color.New(color.FgMagenta),
	}

	for _, c := range p.all() {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Palette) all() []*color.Color {
	return []*color.Color{p.Title, p.Label, p.Value, p.Good, p.Warn, p.Bad, p.Dim, p.Accent}
}

// rate picks a color for an error rate: green under 1%, yellow under 5%.
func (p *Palette) rate(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return p.Bad
	case errorRate > 0.01:
		return p.Warn
	default:
		return p.Good
	}
}

// colorsSupported reports whether the environment allows colored output.
func colorsSupported() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
