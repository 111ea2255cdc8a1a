package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
)

var (
	listenAddr string
	httpAddr   string
	framing    string
	workers    int
	logLevel   string
	logFormat  string
	envFile    string
)

// rootCmd runs the chat server until interrupted.
var rootCmd = &cobra.Command{
	Use:           "roomchat",
	Short:         "Run the multi-room chat server",
	Long:          "Start a multi-room text chat server on TCP, optionally with a WebSocket gateway. Settings come from CHAT_* environment variables, an optional .env file, and flags, in increasing precedence.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}

		cfg := server.NewConfigFromEnv()
		applyFlags(cmd, cfg)

		logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})

		if workers > 0 {
			runtime.GOMAXPROCS(workers)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Int("workers", runtime.GOMAXPROCS(0)).Msg("starting roomchat")

		if err := server.New(*cfg).Run(ctx); err != nil {
			log.Error().Err(err).Msg("server stopped with error")
			return err
		}
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&listenAddr, "addr", "", "TCP listen address (default :8989)")
	flags.StringVar(&httpAddr, "http-addr", "", "HTTP gateway address; empty disables WebSocket access")
	flags.StringVar(&framing, "framing", "", "TCP framing mode: line or raw")
	flags.IntVar(&workers, "workers", 0, "GOMAXPROCS override; 0 keeps the runtime default")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error or disabled")
	flags.StringVar(&logFormat, "log-format", "", "log format: console or json")
	flags.StringVar(&envFile, "env-file", "", "load environment variables from this file instead of .env")
}

// loadEnvFile loads path, or .env when path is empty. A missing default file
// is not an error; a missing explicit file is.
func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msg("error loading .env file")
		}
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg *server.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = httpAddr
	}
	if flags.Changed("framing") {
		cfg.Framing = framing
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
}
