// Package report renders run statistics for humans: snapshots, before/after
// deltas, per-file outcomes and the memory-vs-store comparison.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vvka-141/pgtally/internal/pipeline"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// MeanTolerance is the largest mean difference accepted as a match; the
// store rounds its average to two decimals.
const MeanTolerance = 0.005

var printer = message.NewPrinter(language.English)

// NewRunID returns a fresh identifier for one invocation.
func NewRunID() string {
	return uuid.NewString()
}

// Renderer writes reports to one output.
type Renderer struct {
	w      io.Writer
	styled bool
}

// New creates a Renderer, styling output only when w is a terminal.
func New(w io.Writer) *Renderer {
	return &Renderer{w: w, styled: IsStyled(w)}
}

// NewPlain creates a Renderer that never styles output.
func NewPlain(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Header prints the run banner.
func (r *Renderer) Header(runID, title string) {
	line := fmt.Sprintf("%s (run %s)", title, runID)
	if r.styled {
		line = titleStyle.Render(line)
	}
	fmt.Fprintln(r.w, line)
}

// Snapshot prints one statistics block.
func (r *Renderer) Snapshot(title string, s pgtally.Snapshot) {
	r.block(title, [][2]string{
		{"Count", printer.Sprintf("%d", s.Count)},
		{"Mean price", money(s.Mean, s.Count)},
		{"Min price", money(s.Min, s.Count)},
		{"Max price", money(s.Max, s.Count)},
	})
}

// Delta prints how statistics moved between two checkpoints.
func (r *Renderer) Delta(title string, before, after pgtally.Snapshot) {
	r.block(title, [][2]string{
		{"Rows", signedCount(int64(after.Count) - int64(before.Count))},
		{"Mean", signedMoney(after.Mean - before.Mean)},
		{"Min", signedMoney(after.Min - before.Min)},
		{"Max", signedMoney(after.Max - before.Max)},
	})
}

// Files prints one line per processed file.
func (r *Renderer) Files(summary pipeline.Summary) {
	rows := make([][2]string, 0, len(summary.Files))
	for _, f := range summary.Files {
		status := printer.Sprintf("%d rows, %s, %v", f.Rows, f.Policy, f.Duration.Round(time.Millisecond))
		if f.Err != nil {
			status = r.fail("FAILED") + " " + f.Err.Error()
		}
		rows = append(rows, [2]string{f.File, status})
	}
	r.block("Files", rows)
}

// Matches reports whether the in-memory and store statistics agree.
func Matches(mem, db pgtally.Snapshot) bool {
	return mem.Count == db.Count &&
		mem.Min == db.Min &&
		mem.Max == db.Max &&
		math.Abs(mem.Mean-db.Mean) <= MeanTolerance
}

// Comparison prints in-memory and store statistics side by side and returns
// whether they match.
func (r *Renderer) Comparison(mem, db pgtally.Snapshot) bool {
	ok := Matches(mem, db)

	verdict := r.ok("MATCH")
	if !ok {
		verdict = r.fail("MISMATCH")
	}

	r.block("Memory vs store", [][2]string{
		{"Count", printer.Sprintf("%d / %d", mem.Count, db.Count)},
		{"Mean price", money(mem.Mean, mem.Count) + " / " + money(db.Mean, db.Count)},
		{"Min price", money(mem.Min, mem.Count) + " / " + money(db.Min, db.Count)},
		{"Max price", money(mem.Max, mem.Count) + " / " + money(db.Max, db.Count)},
		{"Result", verdict},
	})
	return ok
}

func (r *Renderer) block(title string, rows [][2]string) {
	if !r.styled {
		var b strings.Builder
		fmt.Fprintf(&b, "== %s ==\n", title)
		for _, row := range rows {
			fmt.Fprintf(&b, "%-16s%s\n", row[0]+":", row[1])
		}
		fmt.Fprint(r.w, b.String())
		return
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, titleStyle.Render(title))
	for _, row := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(row[0]), row[1]))
	}
	fmt.Fprintln(r.w, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}

func (r *Renderer) ok(s string) string {
	if r.styled {
		return okStyle.Render(s)
	}
	return s
}

func (r *Renderer) fail(s string) string {
	if r.styled {
		return failStyle.Render(s)
	}
	return s
}

// money formats a price, or N/A when nothing has been counted.
func money(v float64, count uint64) string {
	if count == 0 {
		return "N/A"
	}
	return printer.Sprintf("$%.2f", v)
}

func signedCount(n int64) string {
	if n < 0 {
		return "-" + printer.Sprintf("%d", -n)
	}
	return "+" + printer.Sprintf("%d", n)
}

func signedMoney(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("+$%.2f", v)
}
