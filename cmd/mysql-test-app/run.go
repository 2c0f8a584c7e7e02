package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shayancanonical/mysql-test-app/internal/agent"
)

func newRunCommand() *cobra.Command {
	var (
		listen         string
		relationFile   string
		legacyDatabase string
		writeInterval  time.Duration
		debugLog       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent: watch relation data, drive continuous writes, serve actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agent.ConfigFromEnv()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.ListenAddress = listen
			}
			if flags.Changed("relation-file") {
				cfg.RelationFile = relationFile
			}
			if flags.Changed("legacy-database") {
				cfg.LegacyDatabase = legacyDatabase
			}
			if flags.Changed("write-interval") {
				cfg.WriteInterval = writeInterval
			}

			logger, closeLogger, err := newLogger(debugLog)
			if err != nil {
				return err
			}
			defer closeLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return agent.New(logger, cfg).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8474", "address to serve the action API on")
	cmd.Flags().StringVar(&relationFile, "relation-file", "/var/lib/mysql-test-app/relation.yaml",
		"file the platform writes relation data to")
	cmd.Flags().StringVar(&legacyDatabase, "legacy-database", "",
		"database name to use with the legacy mysql interface")
	cmd.Flags().DurationVar(&writeInterval, "write-interval", time.Second,
		"default cadence of the continuous writes")
	cmd.Flags().StringVar(&debugLog, "debug-log", "", "file to write debug log to")
	return cmd
}

// newLogger logs INFO and higher as console log to stderr and, when debugLog
// is set, everything as JSON to that file.
func newLogger(debugLog string) (*zap.Logger, func(), error) {
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	}

	closeLogs := func() {}
	if debugLog != "" {
		w, closeFn, err := zap.Open(debugLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open debug log %q: %w", debugLog, err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()),
			w, zapcore.DebugLevel))
		closeLogs = closeFn
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger, func() {
		_ = logger.Sync()
		closeLogs()
	}, nil
}
