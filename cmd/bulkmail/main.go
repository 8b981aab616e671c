package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/app"
	"github.com/kursadbilgin/bulkmail-engine/internal/config"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	"github.com/kursadbilgin/bulkmail-engine/internal/observability"
	"github.com/kursadbilgin/bulkmail-engine/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type rangeFlags struct {
	start    uint64
	end      uint64
	interval int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	var flags rangeFlags

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Send the welcome message to every identifier in the configured range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, flags)
		},
	}
	bindRangeFlags(runCmd.Flags(), &flags)

	root := &cobra.Command{
		Use:           "bulkmail",
		Short:         "Resumable bulk welcome mail sender",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, flags)
		},
	}
	bindRangeFlags(root.Flags(), &flags)

	root.AddCommand(
		runCmd,
		&cobra.Command{
			Use:   "init-db",
			Short: "Create the record store schema",
			RunE:  initDB,
		},
		&cobra.Command{
			Use:   "check-db",
			Short: "Check the record store and print the resume position",
			RunE:  checkDB,
		},
		&cobra.Command{
			Use:   "check-smtp",
			Short: "Open one authenticated relay session without sending",
			RunE:  checkSMTP,
		},
		&cobra.Command{
			Use:   "watch-events",
			Short: "Follow the delivery event queue and log each event",
			RunE:  watchEvents,
		},
	)

	return root
}

func bindRangeFlags(fs *pflag.FlagSet, flags *rangeFlags) {
	fs.Uint64Var(&flags.start, "start", 0, "first identifier (overrides START_ID)")
	fs.Uint64Var(&flags.end, "end", 0, "last identifier (overrides END_ID)")
	fs.IntVar(&flags.interval, "interval", 0, "seconds between sends (overrides SEND_INTERVAL_SEC)")
}

// applyRangeFlags overrides the environment only for flags set on the
// command line.
func applyRangeFlags(fs *pflag.FlagSet, cfg *config.Config, flags rangeFlags) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "start":
			cfg.StartID = flags.start
		case "end":
			cfg.EndID = flags.end
		case "interval":
			cfg.SendIntervalSec = flags.interval
		}
	})
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger, nil
}

func runSend(cmd *cobra.Command, flags rangeFlags) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	applyRangeFlags(cmd.Flags(), cfg, flags)

	summary, err := app.Run(cmd.Context(), cfg, logger)
	if summary.RunID != "" {
		printSummary(cmd, summary)
	}
	if service.IsInterrupted(err) {
		logger.Warn("run interrupted, rerun to resume", zap.String("runId", summary.RunID))
		return nil
	}
	return err
}

func initDB(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		return err
	}

	status, err := app.CheckStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("record store initialized", zap.String("backend", status.Backend))
	return nil
}

func checkDB(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		return err
	}

	status, err := app.CheckStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend: %s\n", status.Backend)
	if status.HasLast {
		fmt.Fprintf(out, "last identifier: %s\n", status.LastID)
		fmt.Fprintf(out, "next identifier: %s\n", cfg.Range().EffectiveStart(status.LastID, true))
	} else {
		fmt.Fprintln(out, "last identifier: none")
		fmt.Fprintf(out, "next identifier: %d\n", cfg.StartID)
	}
	return nil
}

func checkSMTP(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := app.CheckSMTP(cmd.Context(), cfg, logger); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "smtp ok: %s:%d as %s\n", cfg.SMTPHost, cfg.SMTPPort, cfg.SenderEmail)
	return nil
}

func watchEvents(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	err = app.WatchEvents(cmd.Context(), cfg, logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printSummary(cmd *cobra.Command, summary domain.RunSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s..%s\n", summary.RunID, summary.EffectiveStart, summary.End)
	fmt.Fprintf(out, "总计=%d 成功=%d 失败=%d 跳过=%d\n",
		summary.Stats.Attempted,
		summary.Stats.Succeeded,
		summary.Stats.Failed,
		summary.Stats.Skipped,
	)
	if summary.Aborted != "" {
		fmt.Fprintf(out, "stopped early: %s\n", summary.Aborted)
	}
	if !summary.FinishedAt.IsZero() && !summary.StartedAt.IsZero() {
		fmt.Fprintf(out, "elapsed: %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidRange):
		return 2
	case errors.Is(err, domain.ErrAuthentication):
		return 3
	default:
		return 1
	}
}
