package progress

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/poiesic/ragcore/core"
)

const barWidth = 40

// ConsoleReporter renders progress messages as a single updating line.
// Colors follow the capabilities of the writer, so piped output is plain.
type ConsoleReporter struct {
	w   io.Writer
	bar progress.Model

	labelStyle lipgloss.Style
	okStyle    lipgloss.Style
	errStyle   lipgloss.Style
	dimStyle   lipgloss.Style
}

// NewConsoleReporter creates a reporter writing to w.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	r := lipgloss.NewRenderer(w)
	return &ConsoleReporter{
		w: w,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(barWidth),
			progress.WithColorProfile(r.ColorProfile()),
		),
		labelStyle: r.NewStyle().Bold(true),
		okStyle:    r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		errStyle:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		dimStyle:   r.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// Render writes one progress line. Terminal statuses end the line.
func (c *ConsoleReporter) Render(msg core.ProgressMessage) {
	d := msg.Data

	var b strings.Builder
	b.WriteString("\r")
	b.WriteString(c.labelStyle.Render(shortID(msg.SessionID)))
	b.WriteString(" ")
	b.WriteString(c.bar.ViewAs(d.PercentComplete / 100))
	fmt.Fprintf(&b, " %d/%d chunks", d.CurrentChunk, d.TotalChunks)
	if p := d.PerformanceMetrics; p != nil && p.ChunksPerSecond > 0 {
		b.WriteString(c.dimStyle.Render(fmt.Sprintf(" %.1f chunks/s", p.ChunksPerSecond)))
	}

	switch d.Status {
	case core.StatusCompleted:
		b.WriteString(" " + c.okStyle.Render("completed"))
	case core.StatusError:
		b.WriteString(" " + c.errStyle.Render("error"))
	}
	if d.Message != "" {
		b.WriteString(" " + c.dimStyle.Render(d.Message))
	}
	if d.Status.Terminal() {
		b.WriteString("\n")
	}

	io.WriteString(c.w, b.String())
}

// Follow renders sessionID's messages from sub until the session reaches a
// terminal status, the subscription ends, or ctx is done. It returns the
// last message seen and whether it was terminal.
func (c *ConsoleReporter) Follow(ctx context.Context, sub *Subscription, sessionID string) (core.ProgressMessage, bool) {
	var last core.ProgressMessage
	for {
		select {
		case <-ctx.Done():
			return last, false
		case msg, ok := <-sub.C():
			if !ok {
				return last, false
			}
			if msg.SessionID != sessionID {
				continue
			}
			last = msg
			c.Render(msg)
			if msg.Data.Status.Terminal() {
				return last, true
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
