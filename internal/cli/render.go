package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/betterme-app/betterme/internal/app/engagement"
	"github.com/betterme-app/betterme/internal/domain"
)

// ─── Entry kinds ────────────────────────────────────────────────────────────

// kindLabel renders an entry kind with its display color.
func kindLabel(k domain.EntryKind) string {
	switch k {
	case domain.KindRegular:
		return color.New(color.FgHiGreen).Sprint("ON TIME")
	case domain.KindRecovery:
		return color.New(color.FgYellow).Sprint("RECOVERED")
	case domain.KindReset:
		return color.New(color.FgRed, color.Bold).Sprint("RESET")
	case domain.KindUnknown:
		return color.New(color.Faint).Sprint("UNREADABLE")
	default:
		return color.New(color.FgWhite).Sprint(strings.ToUpper(k.String()))
	}
}

// ─── Time ───────────────────────────────────────────────────────────────────

const timeLayout = "2006-01-02 15:04"

// relative renders t relative to now ("3 hours ago", "20 minutes from now").
func relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// ─── Status ─────────────────────────────────────────────────────────────────

// levelColor brightens the level as it climbs.
func levelColor(level int) *color.Color {
	switch {
	case level > 20:
		return color.New(color.FgHiMagenta, color.Bold)
	case level > 10:
		return color.New(color.FgHiGreen, color.Bold)
	default:
		return color.New(color.FgHiCyan, color.Bold)
	}
}

func printStatus(w io.Writer, st engagement.Status, now time.Time) {
	levelText := levelColor(st.Level).Sprintf("Level %d", st.Level)

	switch st.Phase {
	case engagement.PhaseCurrent:
		fmt.Fprintf(w, "%s · on track\n", levelText)
		fmt.Fprintf(w, "Next report due %s (%s, in %s)\n",
			relative(st.NextDue, now),
			st.NextDue.Local().Format(timeLayout),
			engagement.FormatRemaining(st.Remaining))
	case engagement.PhaseBacklog:
		owed := color.New(color.FgRed, color.Bold).Sprintf("%d %s owed", st.Pending, plural(st.Pending, "report", "reports"))
		fmt.Fprintf(w, "%s · %s\n", levelText, owed)
		fmt.Fprintf(w, "Oldest missed window: %s (%s)\n",
			st.Slot.Local().Format(timeLayout), relative(st.Slot, now))
		fmt.Fprintln(w, "Run 'betterme backlog' to catch up.")
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// ─── Log table ──────────────────────────────────────────────────────────────

func printLogTable(w io.Writer, entries []domain.ReportEntry, cats domain.CategorySet, now time.Time) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No reports yet.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"TIME", "AGE", "KIND"}
	for _, c := range cats {
		header = append(header, strings.ToUpper(c))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, e := range entries {
		row := []string{
			e.Timestamp.Local().Format(timeLayout),
			relative(e.Timestamp, now),
			kindLabel(e.Kind),
		}
		for _, c := range cats {
			v := e.Data[c]
			if v == "" {
				v = "-"
			}
			row = append(row, v)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
