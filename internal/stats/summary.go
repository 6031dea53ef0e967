package stats

import (
	"fmt"
	"strings"
	"time"
)

const (
	bannerRule  = "═══════════════════════════════════════════════════════════════════════════════\n"
	sectionRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Command is the rendered command line that was run
	Command string

	// Duration is the total run duration
	Duration time.Duration

	// Repeat is the number of runs that were requested
	Repeat int

	// Retries is the total number of retries across all runs
	Retries int64

	// DroppedLines is the number of lines the TUI could not keep up with
	DroppedLines int64

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// MetricsFile is the textfile the final metrics were written to
	MetricsFile string
}

// FormatExitSummary formats run statistics for display at program exit.
// A nil snapshot renders only the run information.
func FormatExitSummary(snap *Snapshot, cfg SummaryConfig) string {
	if snap == nil {
		return formatBasicSummary(cfg)
	}

	var b strings.Builder

	writeBanner(&b)

	fmt.Fprintf(&b, "Command:                %s\n", cfg.Command)
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Runs:                   %d of %d\n", snap.Runs, cfg.Repeat)
	if cfg.Retries > 0 {
		fmt.Fprintf(&b, "Retries:                %d\n", cfg.Retries)
	}
	b.WriteString("\n")

	// Outcomes
	writeSection(&b, "Outcomes")
	fmt.Fprintf(&b, "  %-20s %12s %12s\n", "Outcome", "Runs", "Share")
	b.WriteString("  " + strings.Repeat("─", 46) + "\n")
	for _, outcome := range outcomeOrder {
		n := snap.Outcomes[outcome]
		if n == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %-20s %12d %11.1f%%\n", outcome, n, share(n, snap.Runs))
	}
	b.WriteString("\n")

	// Exit codes
	if len(snap.ExitCodes) > 0 {
		writeSection(&b, "Exit Codes")
		for _, code := range snap.SortedExitCodes() {
			fmt.Fprintf(&b, "  %4d %-12s %8d\n", code, exitCodeLabel(code), snap.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	// Durations
	if snap.Runs > 0 {
		writeSection(&b, "Run Durations")
		fmt.Fprintf(&b, "  %-10s %12s\n", "Min", FormatMs(snap.MinDuration))
		fmt.Fprintf(&b, "  %-10s %12s\n", "Mean", FormatMs(snap.MeanDuration))
		fmt.Fprintf(&b, "  %-10s %12s\n", "P50", FormatMs(snap.DurationP50))
		fmt.Fprintf(&b, "  %-10s %12s\n", "P95", FormatMs(snap.DurationP95))
		fmt.Fprintf(&b, "  %-10s %12s\n", "P99", FormatMs(snap.DurationP99))
		fmt.Fprintf(&b, "  %-10s %12s\n\n", "Max", FormatMs(snap.MaxDuration))
	}

	// Output
	writeSection(&b, "Output")
	fmt.Fprintf(&b, "  %-10s %12s %14s\n", "Stream", "Lines", "Bytes")
	b.WriteString("  " + strings.Repeat("─", 38) + "\n")
	fmt.Fprintf(&b, "  %-10s %12s %14s\n", "stdout", FormatNumber(snap.StdoutLines), FormatBytes(snap.StdoutBytes))
	fmt.Fprintf(&b, "  %-10s %12s %14s\n", "stderr", FormatNumber(snap.StderrLines), FormatBytes(snap.StderrBytes))
	if cfg.Duration > 0 {
		total := snap.StdoutBytes + snap.StderrBytes
		fmt.Fprintf(&b, "\n  Throughput:          %s/s\n", FormatBytes(int64(float64(total)/cfg.Duration.Seconds())))
	}
	b.WriteString("\n")

	b.WriteString(renderFootnotes(snap, cfg))
	writeMetricsLocations(&b, cfg)
	b.WriteString(bannerRule)

	return b.String()
}

// outcomeOrder fixes the order outcomes are listed in.
var outcomeOrder = []string{"ok", "nonzero", "timeout", "aborted", "launch_failed", "error"}

func share(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func writeBanner(b *strings.Builder) {
	b.WriteString("\n")
	b.WriteString(bannerRule)
	b.WriteString("                            procrun Exit Summary\n")
	b.WriteString(bannerRule + "\n")
}

func writeSection(b *strings.Builder, title string) {
	pad := (len([]rune(sectionRule)) - 1 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(sectionRule)
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(sectionRule + "\n")
}

func writeMetricsLocations(b *strings.Builder, cfg SummaryConfig) {
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	if cfg.MetricsFile != "" {
		fmt.Fprintf(b, "Metrics written to:   %s\n", cfg.MetricsFile)
	}
}

// formatBasicSummary formats a basic summary when stats are not available.
func formatBasicSummary(cfg SummaryConfig) string {
	var b strings.Builder

	writeBanner(&b)

	fmt.Fprintf(&b, "Command:                %s\n", cfg.Command)
	fmt.Fprintf(&b, "Run Duration:           %s\n\n", FormatDuration(cfg.Duration))

	b.WriteString("(No runs completed)\n\n")

	writeMetricsLocations(&b, cfg)
	b.WriteString(bannerRule)

	return b.String()
}

// renderFootnotes adds diagnostic info that doesn't belong in main metrics.
func renderFootnotes(snap *Snapshot, cfg SummaryConfig) string {
	var footnotes []string

	if cfg.DroppedLines > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[1] Lines not shown in the TUI: %s (all lines were still logged and captured)",
			FormatNumber(cfg.DroppedLines)))
	}

	if n := snap.Outcomes["launch_failed"]; n > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[2] Launch failures: %d (check the executable path and working directory)", n))
	}

	if len(footnotes) == 0 {
		return ""
	}

	var b strings.Builder
	writeSection(&b, "Footnotes")
	for _, fn := range footnotes {
		fmt.Fprintf(&b, "  %s\n", fn)
	}
	b.WriteString("\n")
	return b.String()
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 124:
		return "(timeout)"
	case 126:
		return "(not executable)"
	case 127:
		return "(not found)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
