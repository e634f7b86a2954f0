// Package ui provides terminal rendering helpers for fieldsync commands.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/sitesense/fieldsync/internal/reconcile"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// colorEnabled reports whether the terminal supports color output.
func colorEnabled() bool {
	return termenv.EnvColorProfile() != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass renders s in the success color.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders s in the failure color.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderDim renders s dimmed.
func RenderDim(s string) string { return render(dimStyle, s) }

// PhaseBadge returns the colored indicator for a sync phase.
//
// This is the terminal rendition of the in-app sync indicator: green when
// everything is on the server, yellow while records wait for connectivity,
// blue during a drain, and red when a drain halted and needs a retry.
func PhaseBadge(phase reconcile.Phase) string {
	switch phase {
	case reconcile.PhaseOnlineEmpty:
		return RenderPass("● synced")
	case reconcile.PhaseOfflinePending:
		return RenderWarn("● offline, changes pending")
	case reconcile.PhaseSyncing:
		return RenderAccent("● syncing")
	case reconcile.PhaseOnlinePending:
		return RenderFail("● sync needed")
	default:
		return RenderDim("● unknown")
	}
}

// StatusCard renders the full status block shown by `fieldsync status`.
func StatusCard(phase reconcile.Phase, depth int, byKind map[string]int, online bool, lastSync time.Time) string {
	var b strings.Builder

	b.WriteString(PhaseBadge(phase))
	b.WriteString("\n\n")

	conn := RenderPass("online")
	if !online {
		conn = RenderWarn("offline")
	}
	fmt.Fprintf(&b, "Connectivity:  %s\n", conn)
	fmt.Fprintf(&b, "Pending:       %d\n", depth)

	if depth > 0 {
		for _, kind := range []string{"survey", "observation", "photo"} {
			if n := byKind[kind]; n > 0 {
				fmt.Fprintf(&b, "  %-12s %d\n", kind+"s:", n)
			}
		}
	}

	if lastSync.IsZero() {
		fmt.Fprintf(&b, "Last sync:     %s\n", RenderDim("never"))
	} else {
		fmt.Fprintf(&b, "Last sync:     %s\n", humanSince(lastSync))
	}

	return cardStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// humanSince formats how long ago t was.
func humanSince(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}
