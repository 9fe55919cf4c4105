package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	alwaysorigin "github.com/always-cache/always-origin"
)

// this is set by goreleaser
var version string

func init() {
	if version == "" {
		version = "DEV"
	}
}

func main() {
	if err := newRootCommand().ExecuteContext(withSignalCancel(context.Background())); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile      string
		envFile         string
		logFile         string
		verbosity       int
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:           "always-origin [port]",
		Short:         "Static file origin server with conditional GET and bounded concurrency",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := setupLogging(verbosity, logFile); err != nil {
				return err
			}
			config, err := loadConfig(configFile, envFile, cmd.Flags())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				port, err := strconv.Atoi(args[0])
				if err != nil || port < 0 || port > 65535 {
					return fmt.Errorf("invalid port %q", args[0])
				}
				config.Addr = ":" + args[0]
			}

			server, err := alwaysorigin.New(config)
			if err != nil {
				return err
			}
			go func() {
				<-cmd.Context().Done()
				log.Info().Msg("Server is shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("Shutdown failed")
				}
			}()
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, alwaysorigin.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to YAML config file")
	flags.StringVar(&envFile, "env-file", ".env", "Dotenv file with ALWAYS_ORIGIN_* variables")
	flags.StringVar(&logFile, "log-file", "", "Log file to use (in addition to stdout)")
	flags.CountVarP(&verbosity, "verbose", "v", "Verbosity: -v debug, -vv trace")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Time to wait for connections in flight on shutdown")
	addServerFlags(flags)
	return cmd
}

func setupLogging(verbosity int, logFile string) error {
	logLevel := zerolog.InfoLevel
	switch {
	case verbosity >= 2:
		logLevel = zerolog.TraceLevel
	case verbosity == 1:
		logLevel = zerolog.DebugLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if logFile != "" {
		logFileOutput, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", version).Logger()
	return nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
