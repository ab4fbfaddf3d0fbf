// Package ui renders the session in a terminal: the avatar badge, the
// connection line, and the tables/waitlist dashboard.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/session"
)

const (
	connectedText    = "Connected"
	reconnectingText = "Reconnecting…"
)

type theme struct {
	title       lipgloss.Style
	panel       lipgloss.Style
	muted       lipgloss.Style
	connOK      lipgloss.Style
	connWarn    lipgloss.Style
	tableFree   lipgloss.Style
	tableTaken  lipgloss.Style
	modeBadges  map[session.Mode]lipgloss.Style
	startHint   lipgloss.Style
	startLocked lipgloss.Style
}

func newTheme(r *lipgloss.Renderer) theme {
	green := lipgloss.Color("#16c782")
	amber := lipgloss.Color("#ffb300")
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	muted := lipgloss.Color("#9ca3d8")

	badge := func(bg lipgloss.Color) lipgloss.Style {
		return r.NewStyle().
			Background(bg).
			Foreground(lipgloss.Color("#120924")).
			Bold(true).
			Padding(0, 1)
	}

	return theme{
		title: r.NewStyle().Foreground(blue).Bold(true),
		panel: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		muted:      r.NewStyle().Foreground(muted),
		connOK:     r.NewStyle().Foreground(green).Bold(true),
		connWarn:   r.NewStyle().Foreground(amber).Bold(true),
		tableFree:  r.NewStyle().Foreground(green),
		tableTaken: r.NewStyle().Foreground(pink),
		modeBadges: map[session.Mode]lipgloss.Style{
			session.ModeIdle:      badge(muted),
			session.ModeListening: badge(green),
			session.ModeSpeaking:  badge(pink),
		},
		startHint:   r.NewStyle().Foreground(green),
		startLocked: r.NewStyle().Foreground(muted).Faint(true),
	}
}

// Console implements session.Presenter and status.Renderer on one writer.
// Output is line oriented: every change prints only the part that changed.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	theme theme

	mode          session.Mode
	connected     bool
	startEnabled  bool
	status        protocol.Status
	lastDashboard string
}

func NewConsole(out io.Writer) *Console {
	rw := out
	if rw == nil {
		rw = io.Discard
	}
	return &Console{
		out:          out,
		theme:        newTheme(lipgloss.NewRenderer(rw)),
		mode:         session.ModeIdle,
		startEnabled: true,
	}
}

func (c *Console) SetMode(mode session.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == mode {
		return
	}
	c.mode = mode
	c.println(c.avatarLine())
}

func (c *Console) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected == connected {
		return
	}
	c.connected = connected
	c.println(c.connectionLine())
}

func (c *Console) SetStartEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startEnabled == enabled {
		return
	}
	c.startEnabled = enabled
	c.println(c.startLine())
}

// StartEnabled reports whether a new session may be started from the console.
func (c *Console) StartEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startEnabled
}

// RenderStatus prints the dashboard when its contents changed since the last
// render.
func (c *Console) RenderStatus(st protocol.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = st
	dash := c.dashboard()
	if dash == c.lastDashboard {
		return
	}
	c.lastDashboard = dash
	c.println(dash)
}

// View renders the whole screen.
func (c *Console) View() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lipgloss.JoinVertical(lipgloss.Left,
		c.avatarLine(),
		c.connectionLine(),
		c.dashboard(),
		c.startLine(),
	)
}

// Notice prints a one-off message, such as a checkout result.
func (c *Console) Notice(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.theme.muted.Render(fmt.Sprintf(format, args...)))
}

func (c *Console) println(s string) {
	if c.out == nil {
		return
	}
	_, _ = fmt.Fprintln(c.out, s)
}

func (c *Console) avatarLine() string {
	style, ok := c.theme.modeBadges[c.mode]
	if !ok {
		style = c.theme.modeBadges[session.ModeIdle]
	}
	return "avatar " + style.Render(string(c.mode))
}

func (c *Console) connectionLine() string {
	if c.connected {
		return c.theme.connOK.Render("● " + connectedText)
	}
	return c.theme.connWarn.Render("● " + reconnectingText)
}

func (c *Console) startLine() string {
	if c.startEnabled {
		return c.theme.startHint.Render("press Enter to talk")
	}
	return c.theme.startLocked.Render("session in progress")
}

func (c *Console) dashboard() string {
	var b strings.Builder
	b.WriteString(c.theme.title.Render("Tables"))
	b.WriteString("\n")
	b.WriteString(c.renderTables(c.status.Tables))
	b.WriteString("\n\n")
	b.WriteString(c.theme.title.Render("Waitlist"))
	b.WriteString("\n")
	b.WriteString(renderWaitlist(c.status.Waitlist, c.theme.muted))
	return c.theme.panel.Render(b.String())
}

func (c *Console) renderTables(tables []protocol.Table) string {
	if len(tables) == 0 {
		return c.theme.muted.Render("No tables")
	}
	lines := make([]string, 0, len(tables))
	for _, t := range tables {
		style := c.theme.tableFree
		if t.Occupied() {
			style = c.theme.tableTaken
		}
		guest := "Free"
		if t.GuestName != nil && strings.TrimSpace(*t.GuestName) != "" {
			guest = *t.GuestName
		}
		lines = append(lines, fmt.Sprintf("%-4s %2d seats  %s  %s", t.ID, t.Seats, style.Render(t.Status), guest))
	}
	return strings.Join(lines, "\n")
}

func renderWaitlist(entries []protocol.WaitlistEntry, muted lipgloss.Style) string {
	if len(entries) == 0 {
		return muted.Render("Empty")
	}
	lines := make([]string, 0, len(entries))
	for i, e := range entries {
		line := fmt.Sprintf("#%d • %s (%d)", i+1, e.Name, e.PartySize)
		if e.ETAMinutes != nil {
			line += fmt.Sprintf("  ETA %dm", *e.ETAMinutes)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
