package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"kioskpay/backend/libs/logging"
	"kioskpay/backend/services/terminal-service/internal/app"
	"kioskpay/backend/services/terminal-service/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("terminal-service", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to the service YAML config (default: $CONFIG_FILE)")
	logLevel := flags.String("log-level", "", "log level (default: config, then $LOG_LEVEL, then info)")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "terminal-service: %v\n", err)
		os.Exit(1)
	}

	level := *logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	logger, err := logging.NewLogger(level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init application", zap.Error(err))
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application stopped with error", zap.Error(err))
	}
}
