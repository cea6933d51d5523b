package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/betterme-app/betterme/internal/app/engagement"
	"github.com/betterme-app/betterme/internal/domain"
)

// bell is the terminal alarm.
const bell = "\a"

// terminalNotifier rings the terminal bell and prints a banner when reports
// fall due.
type terminalNotifier struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

var _ domain.Notifier = (*terminalNotifier)(nil)

func (n *terminalNotifier) Alert(count int, next time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.quiet {
		fmt.Fprint(n.out, bell)
	}
	msg := fmt.Sprintf("%d %s owed, oldest window %s. Run 'betterme backlog'.",
		count, plural(count, "report", "reports"), next.Local().Format(timeLayout))
	fmt.Fprintf(n.out, "\r\033[K%s\n", color.New(color.FgRed, color.Bold).Sprint(msg))
}

func (n *terminalNotifier) Dismiss() {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, "\r\033[K%s\n", color.New(color.FgHiGreen).Sprint("All caught up."))
}

// tickLine renders one countdown line.
func tickLine(t engagement.Tick) string {
	text := t.Text
	if t.Alerting {
		text = color.New(color.FgRed, color.Bold).Sprint(text)
	} else {
		text = color.New(color.FgHiCyan).Sprint(text)
	}
	level := levelColor(t.Status.Level).Sprintf("level %d", t.Status.Level)
	return fmt.Sprintf("\r\033[KNext report: %s  ·  %s", text, level)
}

func watchCmd(opts *rootOptions) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show a live countdown and ring when a report is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			d, err := opts.open(true, &terminalNotifier{out: out, quiet: quiet})
			if err != nil {
				return err
			}
			defer d.Close()

			var mu sync.Mutex
			d.Ticker.OnTick(func(t engagement.Tick) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprint(out, tickLine(t))
			})

			err = d.Watch(ctx)
			fmt.Fprintln(out)
			return err
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not ring the terminal bell")
	return cmd
}
