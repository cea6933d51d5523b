package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/betterme-app/betterme/internal/app/engagement"
	"github.com/betterme-app/betterme/internal/domain"
)

// ─── report ─────────────────────────────────────────────────────────────────

func reportCmd(opts *rootOptions) *cobra.Command {
	var pairs []string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Submit this window's report",
		Long: `Answer every category for the current window. Without --answer flags
each category is asked interactively. Submitting early restarts the timer.`,
		Example: `  betterme report
  betterme report -a health=si -a focus=si -a income=no -a control=si`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			given, err := parseAnswers(pairs)
			if err != nil {
				return err
			}

			d, err := opts.open(false, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			out := cmd.OutOrStdout()
			if st := d.Engine.Status(); st.Phase == engagement.PhaseBacklog {
				return fmt.Errorf("%w: %d %s owed; run 'betterme backlog' first",
					domain.ErrBacklogOutstanding, st.Pending, plural(st.Pending, "report", "reports"))
			}

			answers := given
			if answers == nil {
				p := NewPrompter(cmd.InOrStdin(), out)
				var ok bool
				if answers, ok = p.Answers(d.Engine.Categories()); !ok {
					return errors.New("report abandoned")
				}
			}

			st, err := d.Engine.SubmitOnTime(answers)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, color.New(color.FgHiGreen).Sprint("Report saved."))
			printStatus(out, st, clock.Now())
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&pairs, "answer", "a", nil, "category=value (repeatable)")
	return cmd
}

// ─── backlog ────────────────────────────────────────────────────────────────

func backlogCmd(opts *rootOptions) *cobra.Command {
	var pairs []string

	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Backfill missed windows, oldest first",
		Long: `Walk through every missed window in order, oldest first, until the
backlog is cleared. With --answer flags the same answers are used for every
window. Each backfilled window raises the level by one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			given, err := parseAnswers(pairs)
			if err != nil {
				return err
			}

			d, err := opts.open(false, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			out := cmd.OutOrStdout()
			st := d.Engine.Status()
			if st.Phase != engagement.PhaseBacklog {
				fmt.Fprintln(out, "Nothing owed.")
				printStatus(out, st, clock.Now())
				return nil
			}

			prompter := NewPrompter(cmd.InOrStdin(), out)
			heading := color.New(color.FgYellow, color.Bold)
			done := 0

			for st.Phase == engagement.PhaseBacklog {
				heading.Fprintf(out, "Window %s (%d left)\n", st.Slot.Local().Format(timeLayout), st.Pending)

				answers := given
				if answers == nil {
					var ok bool
					if answers, ok = prompter.Answers(d.Engine.Categories()); !ok {
						fmt.Fprintf(out, "Stopped with %d %s still owed.\n", st.Pending, plural(st.Pending, "report", "reports"))
						return nil
					}
				}

				next, err := d.Engine.SubmitBacklogItem(answers)
				if err != nil {
					return err
				}
				prompter.Clear()
				done++
				st = next
			}

			fmt.Fprintln(out, color.New(color.FgHiGreen).Sprintf("Backlog cleared: %d %s recovered.", done, plural(done, "window", "windows")))
			printStatus(out, st, clock.Now())
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&pairs, "answer", "a", nil, "category=value used for every window (repeatable)")
	return cmd
}
