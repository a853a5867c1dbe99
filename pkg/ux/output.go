// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the swiftvector CLI.
//
// Output is styled only when the destination is a terminal. Pipes and
// files get plain "OK:" / "WARN:" / "ERROR:" prefixes that are stable
// enough to grep.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Styles holds the printer's lipgloss styles, bound to its renderer.
type Styles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Key     lipgloss.Style
	Box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Muted:   r.NewStyle().Foreground(ColorSlate),
		Success: r.NewStyle().Foreground(ColorSuccess),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Error:   r.NewStyle().Foreground(ColorError),
		Key:     r.NewStyle().Foreground(ColorTealPrimary),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealDeep).
			Padding(0, 1),
	}
}

// Printer writes styled or plain lines to one destination.
//
// Thread Safety: Not safe for concurrent use; callers serialize writes.
type Printer struct {
	w      io.Writer
	plain  bool
	styles Styles
}

// NewPrinter returns a Printer for w. Styling is enabled only when w is a
// terminal file descriptor.
func NewPrinter(w io.Writer) *Printer {
	return newPrinter(w, !IsTerminal(w))
}

// NewPlainPrinter returns a Printer that never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return newPrinter(w, true)
}

func newPrinter(w io.Writer, plain bool) *Printer {
	return &Printer{w: w, plain: plain, styles: newStyles(lipgloss.NewRenderer(w))}
}

// IsTerminal reports whether w is an *os.File attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Plain reports whether styling is disabled.
func (p *Printer) Plain() bool { return p.plain }

// Title prints a heading. Plain output drops it.
func (p *Printer) Title(text string) {
	if p.plain {
		return
	}
	fmt.Fprintln(p.w, p.styles.Title.Render(text))
}

func (p *Printer) Success(text string) { p.status("OK", IconSuccess, p.styles.Success, text) }
func (p *Printer) Warning(text string) { p.status("WARN", IconWarning, p.styles.Warning, text) }
func (p *Printer) Error(text string)   { p.status("ERROR", IconError, p.styles.Error, text) }

func (p *Printer) status(prefix string, icon Icon, style lipgloss.Style, text string) {
	if p.plain {
		fmt.Fprintf(p.w, "%s: %s\n", prefix, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), style.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.plain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.styles.Muted.Render("│"), text)
}

// KeyValues prints aligned "key: value" pairs in the given order.
func (p *Printer) KeyValues(pairs ...[2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	var b strings.Builder
	for i, kv := range pairs {
		key := fmt.Sprintf("%-*s", width+1, kv[0]+":")
		if !p.plain {
			key = p.styles.Key.Render(key)
		}
		fmt.Fprintf(&b, "%s %s", key, kv[1])
		if i < len(pairs)-1 {
			b.WriteByte('\n')
		}
	}
	if p.plain {
		fmt.Fprintln(p.w, b.String())
		return
	}
	fmt.Fprintln(p.w, p.styles.Box.Render(b.String()))
}

// ---- Audit rows ----

// Outcome classifies an audit row.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeSystem   Outcome = "system"
)

// Row is one audit entry flattened for display.
type Row struct {
	Seq       uint64
	Kind      string
	AgentID   string
	Action    string
	Outcome   Outcome
	Rationale string
	Hash      string
}

// Entry prints one audit row.
func (p *Printer) Entry(r Row) {
	hash := shortHash(r.Hash)
	if p.plain {
		fmt.Fprintf(p.w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Kind, r.Outcome, dash(r.AgentID), dash(r.Action), hash, r.Rationale)
		return
	}

	var icon string
	switch r.Outcome {
	case OutcomeApplied:
		icon = p.styles.Success.Render(string(IconSuccess))
	case OutcomeRejected:
		icon = p.styles.Error.Render(string(IconError))
	default:
		icon = p.styles.Muted.Render(string(IconPending))
	}
	subject := r.Kind
	if r.Action != "" {
		subject = fmt.Sprintf("%s %s %s", dash(r.AgentID), IconArrow, r.Action)
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		p.styles.Muted.Render(fmt.Sprintf("#%03d", r.Seq)),
		icon,
		subject,
		p.styles.Muted.Render(hash+"  "+r.Rationale),
	)
}

// Entries prints rows in order.
func (p *Printer) Entries(rows []Row) {
	for _, r := range rows {
		p.Entry(r)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
