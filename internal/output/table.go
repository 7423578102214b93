// Package output renders audits and findings for terminals.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// ANSI color codes for severity output (used when Colored=true).
const (
	ansiReset   = "\033[0m"
	ansiBoldRed = "\033[1;31m"
	ansiRed     = "\033[0;31m"
	ansiYellow  = "\033[0;33m"
	ansiBlue    = "\033[0;34m"
)

// TableOptions controls which columns RenderFindings renders and how
// severity is coloured.
type TableOptions struct {
	// Colored wraps severity labels with ANSI codes. Default false (CI-safe).
	Colored bool

	// IncludePhase adds a PHASE column.
	IncludePhase bool

	// IncludeStatus adds a STATUS column with the triage state.
	IncludeStatus bool
}

func severityCode(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return ansiBoldRed
	case models.SeverityHigh:
		return ansiRed
	case models.SeverityMedium:
		return ansiYellow
	case models.SeverityLow:
		return ansiBlue
	}
	return ""
}

// ColorSeverity wraps a severity string with ANSI codes when colored is true.
// When colored is false the string is returned unchanged (CI-safe default).
func ColorSeverity(sev models.Severity, colored bool) string {
	code := severityCode(sev)
	if !colored || code == "" {
		return string(sev)
	}
	return code + string(sev) + ansiReset
}

// ShortenMessage truncates msg to at most max runes, appending "..." when truncated.
// max is treated as at least 4 to guarantee space for the ellipsis.
func ShortenMessage(msg string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	return string(runes[:max-3]) + "..."
}

// severityCell returns the severity padded to width characters.
// Only the text is coloured; the padding stays plain so later columns line up.
func severityCell(sev models.Severity, width int, colored bool) string {
	text := string(sev)
	code := severityCode(sev)
	if !colored || code == "" {
		return fmt.Sprintf("%-*s", width, text)
	}
	return code + text + ansiReset + strings.Repeat(" ", max(width-len(text), 0))
}

// truncateField shortens s to at most max runes for ID/label columns.
func truncateField(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

var severityRank = map[models.Severity]int{
	models.SeverityCritical: 0,
	models.SeverityHigh:     1,
	models.SeverityMedium:   2,
	models.SeverityLow:      3,
}

// SortFindings orders findings by severity (CRITICAL first), then phase,
// then finding ID, then resource ID.
func SortFindings(fs []models.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if ra, rb := severityRank[a.Severity], severityRank[b.Severity]; ra != rb {
			return ra < rb
		}
		if a.PhaseNumber != b.PhaseNumber {
			return a.PhaseNumber < b.PhaseNumber
		}
		if a.FindingID != b.FindingID {
			return a.FindingID < b.FindingID
		}
		return a.ResourceID < b.ResourceID
	})
}

// RenderFindings writes a formatted findings table to w. The separator
// line width is derived from the header row.
//
// Column order:
//
//	FINDING  [PHASE]  RESOURCE ID  REGION  SEVERITY  [STATUS]  TITLE
func RenderFindings(w io.Writer, findings []models.Finding, opts TableOptions) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return
	}

	const (
		wFinding  = 14
		wPhase    = 5
		wResource = 30
		wRegion   = 15
		wSeverity = 10
		wStatus   = 14
		wTitle    = 55
	)

	var hb strings.Builder
	hb.WriteString(fmt.Sprintf("%-*s", wFinding, "FINDING"))
	if opts.IncludePhase {
		hb.WriteString(fmt.Sprintf("  %-*s", wPhase, "PHASE"))
	}
	hb.WriteString(fmt.Sprintf("  %-*s", wResource, "RESOURCE ID"))
	hb.WriteString(fmt.Sprintf("  %-*s", wRegion, "REGION"))
	hb.WriteString(fmt.Sprintf("  %-*s", wSeverity, "SEVERITY"))
	if opts.IncludeStatus {
		hb.WriteString(fmt.Sprintf("  %-*s", wStatus, "STATUS"))
	}
	hb.WriteString(fmt.Sprintf("  %-*s", wTitle, "TITLE"))
	header := hb.String()

	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))

	for _, f := range findings {
		var rb strings.Builder
		rb.WriteString(fmt.Sprintf("%-*s", wFinding, truncateField(f.FindingID, wFinding)))
		if opts.IncludePhase {
			rb.WriteString(fmt.Sprintf("  %-*d", wPhase, f.PhaseNumber))
		}
		rb.WriteString(fmt.Sprintf("  %-*s", wResource, truncateField(f.ResourceID, wResource)))
		region := f.Region
		if region == "" {
			region = "global"
		}
		rb.WriteString(fmt.Sprintf("  %-*s", wRegion, truncateField(region, wRegion)))
		rb.WriteString("  " + severityCell(f.Severity, wSeverity, opts.Colored))
		if opts.IncludeStatus {
			rb.WriteString(fmt.Sprintf("  %-*s", wStatus, f.Status))
		}
		rb.WriteString(fmt.Sprintf("  %-*s", wTitle, ShortenMessage(f.Title, wTitle)))
		fmt.Fprintln(w, strings.TrimRight(rb.String(), " "))
	}
}

// RenderAudit writes the audit header, its severity summary and one line
// per phase.
func RenderAudit(w io.Writer, a models.Audit, phases []models.Phase) {
	fmt.Fprintf(w, "Audit %s  %s/%s  %s (%s)\n", a.ID, a.Provider, a.AccountID, a.Status, a.Trigger)
	if a.CompletedAt != nil {
		fmt.Fprintf(w, "Duration: %s\n", a.CompletedAt.Sub(a.StartedAt).Round(time.Second))
	}
	if a.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", a.Error)
	}
	s := a.Summary
	fmt.Fprintf(w, "Risk score: %.1f  Findings: %d (critical %d, high %d, medium %d, low %d)\n",
		s.RiskScore, s.TotalFindings, s.CriticalFindings, s.HighFindings, s.MediumFindings, s.LowFindings)
	if len(phases) == 0 {
		return
	}

	fmt.Fprintln(w)
	header := fmt.Sprintf("%-3s  %-40s  %-10s  %8s  %6s", "#", "PHASE", "STATUS", "FINDINGS", "ERRORS")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))
	for _, p := range phases {
		fmt.Fprintf(w, "%-3d  %-40s  %-10s  %8d  %6d\n",
			p.Number, truncateField(p.Name, 40), p.Status, p.Summary.TotalFindings, len(p.Errors))
	}
}
