package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
)

// Terminal palette.
const (
	colorSky       = "#38BDF8"
	colorGreen     = "#22C55E"
	colorAmber     = "#F59E0B"
	colorRed       = "#EF4444"
	colorGray      = "#6B7280"
	colorLightGray = "#D1D5DB"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorSky))
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorGreen))
	agentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorSky))
	noteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAmber))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorRed))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLightGray))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorGray)).
			Padding(0, 1)
)

// describe renders an error for the terminal. Categorized errors use their
// user-facing wording; anything else (flags, config) keeps its own text.
func describe(err error) string {
	if pkgerrors.CategoryOf(err) == pkgerrors.CategoryUnknown {
		return "Error: " + err.Error()
	}
	return pkgerrors.Describe(err).String()
}

// printer writes conversation lines with a relative timestamp. Callbacks
// arrive on several goroutines, so writes are serialized.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, start: time.Now()}
}

func (p *printer) line(style lipgloss.Style, label, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.start).Truncate(time.Second)
	fmt.Fprintf(p.w, "%s %s %s\n",
		noteStyle.Render(fmt.Sprintf("[%5s]", elapsed)),
		style.Render(label),
		text,
	)
}

func (p *printer) note(format string, args ...any) {
	p.line(noteStyle, "·", noteStyle.Render(fmt.Sprintf(format, args...)))
}

// keyValues renders aligned key/value rows inside a panel.
func keyValues(title string, rows [][2]string) string {
	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}
	out := titleStyle.Render(title)
	for _, r := range rows {
		out += "\n" + noteStyle.Render(fmt.Sprintf("%-*s", width, r[0])) + "  " + valueStyle.Render(r[1])
	}
	return panelStyle.Render(out)
}

func (p *printer) block(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}
