package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/betterme-app/betterme/internal/domain"
)

// ─── serve ──────────────────────────────────────────────────────────────────

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and report timer",
		Long: `Start the HTTP API, the report timer and the change follower. Reports
made from other terminals are picked up automatically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := opts.open(true, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "BetterMe API listening on http://%s\n", d.Config().Addr())
			return d.Serve(ctx)
		},
	}
}

// ─── status ─────────────────────────────────────────────────────────────────

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show level, backlog and time to the next report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.open(false, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			out := cmd.OutOrStdout()
			now := clock.Now()
			printStatus(out, d.Engine.Status(), now)
			if last, ok := d.Repo.Current().Logs.Last(); ok {
				fmt.Fprintf(out, "Last entry: %s (%s)\n", kindLabel(last.Kind), relative(last.Timestamp, now))
			}
			return nil
		},
	}
}

// ─── reset ──────────────────────────────────────────────────────────────────

func resetCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop the level to the floor and clear the backlog",
		Long: `Reset records a reset entry in the history, drops the level to the
configured floor and restarts the timer. Missed windows are forgiven.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.open(false, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			out := cmd.OutOrStdout()
			if !yes {
				st := d.Engine.Status()
				q := fmt.Sprintf("Reset level %d to %d?", st.Level, d.Engine.Config().LevelFloor)
				if !confirm(bufio.NewReader(cmd.InOrStdin()), out, q) {
					return domain.ErrResetNotConfirmed
				}
			}

			st, err := d.Engine.Reset()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, color.New(color.FgRed, color.Bold).Sprintf("Level reset to %d.", st.Level))
			printStatus(out, st, clock.Now())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// ─── log ────────────────────────────────────────────────────────────────────

type yamlEntry struct {
	Type      string            `yaml:"type"`
	Timestamp time.Time         `yaml:"timestamp"`
	Data      map[string]string `yaml:"data"`
}

func logCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		order  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show report history",
		Long:  `Show the report history, newest first by default.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.open(false, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			logs := d.Repo.Current().Logs
			var entries []domain.ReportEntry
			switch order {
			case "desc":
				entries = logs.Descending()
			case "insert":
				entries = logs.Entries()
			default:
				return fmt.Errorf("invalid --order %q (want desc or insert)", order)
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			out := cmd.OutOrStdout()
			switch format {
			case "table":
				return printLogTable(out, entries, d.Engine.Categories(), clock.Now())
			case "json":
				if entries == nil {
					entries = []domain.ReportEntry{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			case "yaml":
				docs := make([]yamlEntry, len(entries))
				for i, e := range entries {
					docs[i] = yamlEntry{Type: e.Kind.String(), Timestamp: e.Timestamp.UTC(), Data: e.Data}
				}
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(docs); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("invalid --format %q (want table, json or yaml)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json or yaml")
	cmd.Flags().StringVar(&order, "order", "desc", "desc (newest first) or insert (recorded order)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n entries")
	return cmd
}

// ─── config ─────────────────────────────────────────────────────────────────

func configCmd(opts *rootOptions) *cobra.Command {
	var showPath bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showPath {
				fmt.Fprintln(cmd.OutOrStdout(), opts.configPath())
				return nil
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return cfg.WriteTOML(cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&showPath, "path", false, "print the config file path instead")
	return cmd
}
