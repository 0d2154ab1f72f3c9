// Package output formats retrieval results and status lines for the CLI.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/regsearch/internal/retrieval"
)

// Writer writes human-readable CLI output. Write errors are ignored.
type Writer struct {
	out io.Writer
}

// New creates a Writer over out.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints msg behind icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress redraws a progress bar in place and ends the line at completion.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", renderProgressBar(current, total, 30), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := int(float64(current) / float64(total) * float64(width))
	filled = max(0, min(filled, width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Response renders a retrieval response: a header line, one block per hit
// with its provenance, and the trace when present.
func (w *Writer) Response(query string, resp *retrieval.RetrievalResponse) {
	if resp == nil {
		return
	}
	header := fmt.Sprintf("%d results for %q in %dms via %s", len(resp.Hits), query,
		resp.LatencyMs, strings.Join(resp.TiersUsed, " → "))
	if resp.CacheHit {
		header += " (cached)"
	}
	w.Status("🔍", header)

	if len(resp.Hits) == 0 {
		switch resp.Reason {
		case retrieval.ReasonServiceDegraded:
			w.Warning("No results: retrieval tiers were unavailable")
		default:
			w.Status("", "No passages matched")
		}
	} else if resp.Degraded {
		w.Warning("Results are degraded: the primary tier was insufficient")
	}

	for i, h := range resp.Hits {
		w.Newline()
		title := h.Metadata.Citation
		if h.Metadata.Title != "" {
			title = strings.TrimSpace(title + " " + h.Metadata.Title)
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s  %.4f\n", i+1, h.DocumentID, h.FinalScore)
		if title != "" {
			w.Status("", title)
		}
		if meta := metadataLine(h); meta != "" {
			w.Status("", meta)
		}
		if h.Snippet != "" {
			w.Status("", h.Snippet)
		}
		for _, c := range h.Provenance {
			w.Statusf("", "  %s/%s rank %d native %.3f norm %.3f weight %.2f",
				c.Tier, c.Modality, c.Rank, c.NativeScore, c.NormalizedScore, c.Weight)
		}
	}

	if resp.Trace != nil {
		w.Newline()
		w.Trace(resp.Trace)
	}
}

func metadataLine(h retrieval.RankedHit) string {
	var parts []string
	for _, v := range []string{h.Metadata.Jurisdiction, h.Metadata.DocType, h.Metadata.Program} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	if !h.Metadata.EffectiveDate.IsZero() {
		parts = append(parts, "effective "+h.Metadata.EffectiveDate.Format("2006-01-02"))
	}
	return strings.Join(parts, " · ")
}

// Trace renders the query rewrite and every tier attempt.
func (w *Writer) Trace(tr *retrieval.Trace) {
	w.Status("🧭", "Trace")
	w.Statusf("", "lexical:  %s", tr.Lexical)
	w.Statusf("", "semantic: %s", tr.Semantic)
	for _, from := range sortedKeys(tr.Corrections) {
		w.Statusf("", "corrected %s → %s", from, tr.Corrections[from])
	}
	for _, phrase := range sortedKeys(tr.Expansions) {
		w.Statusf("", "expanded %s → %s", phrase, strings.Join(tr.Expansions[phrase], ", "))
	}
	for _, a := range tr.Attempts {
		line := fmt.Sprintf("%-12s %-12s hits=%d latency=%s timeout=%s",
			a.Tier, a.State, a.Hits, a.Latency.Round(100*time.Microsecond), a.Timeout)
		switch {
		case a.CircuitOpen:
			line += " circuit=open"
		case a.Error != "":
			line += fmt.Sprintf(" %s: %s", a.ErrorKind, a.Error)
		}
		if a.Retried {
			line += " retried"
		}
		w.Status("", line)
		for _, field := range a.Filters.Ignored() {
			w.Statusf("", "  filter %s ignored", field)
		}
	}
	final := "final: " + string(tr.Final)
	if tr.BudgetExceeded {
		final += " (budget exceeded)"
	}
	w.Status("", final)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
