package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kehao95/atlterm/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every subcommand shares once PersistentPreRunE has run.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "atlterm",
		Short: "Interruptible interpreter behind a line terminal",
		Long: `atlterm runs a Forth (or Go script) interpreter behind a line-oriented
terminal. Each input line is queued and executed in order; output is
streamed back with a "> command" echo and a "< ok" acknowledgement.

Two words are reserved on input: the break word (default TESTBREAK)
interrupts the running command and drops the queue, and the kill word
(default TESTKILL) tears down the execution context and starts a fresh one.

Configuration comes from ATL_* environment variables and an optional
YAML file named by ATL_CONFIG.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.AddCommand(
		newConsoleCmd(a),
		newDeviceCmd(a),
		newServeCmd(a),
		newTranscriptCmd(a),
		newWordsCmd(a),
	)
	return root
}

// newLogger writes JSON logs to the session log file. Errors are also
// reported on stderr.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	zc.OutputPaths = []string{cfg.LogPath()}
	zc.ErrorOutputPaths = []string{"stderr"}
	log, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("session", cfg.SessionID)), nil
}
