// Package cli implements the betterme command line.
package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/betterme-app/betterme/internal/daemon"
	"github.com/betterme-app/betterme/internal/domain"
)

// clock drives every command; tests replace it.
var clock domain.Clock = domain.SystemClock{}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	home    string
	config  string
	verbose bool
}

func (o *rootOptions) homeDir() string {
	if o.home != "" {
		return o.home
	}
	return daemon.Home()
}

func (o *rootOptions) configPath() string {
	if o.config != "" {
		return o.config
	}
	return filepath.Join(o.homeDir(), daemon.ConfigFileName)
}

func (o *rootOptions) loadConfig() (daemon.Config, error) {
	return daemon.LoadConfig(o.configPath())
}

// open loads config and wires a daemon. Long-running commands log at the
// configured level; one-shot commands only surface warnings unless verbose.
func (o *rootOptions) open(longRunning bool, notifier domain.Notifier) (*daemon.Daemon, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if !longRunning {
		level = "warn"
	}
	logger, err := daemon.NewLogger(level, o.verbose)
	if err != nil {
		return nil, err
	}
	return daemon.New(cfg, o.homeDir(), daemon.Options{
		Clock:    clock,
		Logger:   logger,
		Notifier: notifier,
	})
}

// NewRootCmd assembles the betterme command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "betterme",
		Short: "BetterMe - interval habit tracker",
		Long: `BetterMe asks for a short self-report once every interval (one hour by
default). Every answered window raises your level. Windows you miss pile up
as a backlog that must be backfilled, oldest first, before you can report
on time again. A reset drops the level back to the floor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.home, "home", "", "data directory (default $BETTERME_HOME or ~/.betterme)")
	rootCmd.PersistentFlags().StringVar(&opts.config, "config", "", "config file (default <home>/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(reportCmd(opts))
	rootCmd.AddCommand(backlogCmd(opts))
	rootCmd.AddCommand(resetCmd(opts))
	rootCmd.AddCommand(logCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))
	rootCmd.AddCommand(configCmd(opts))

	return rootCmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// parseAnswers turns repeated --answer category=value flags into Answers.
func parseAnswers(pairs []string) (domain.Answers, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	answers := make(domain.Answers, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --answer %q (want category=value)", p)
		}
		answers[strings.TrimSpace(k)] = v
	}
	return answers, nil
}
