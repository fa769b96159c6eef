package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/msgsock"
)

// echo sends every received message back until the peer closes.
func echo(_ context.Context, conn *msgsock.Conn) error {
	for {
		msg, err := conn.Receive()
		if err != nil {
			return err
		}
		if err = conn.Send(msg); err != nil {
			return err
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	address := flag.String("addr", "", "listen address, overrides the config file")
	flag.Parse()

	cfg := msgsock.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = msgsock.LoadConfig(*configPath); err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}
	if *address != "" {
		cfg.Address = *address
	}

	logger, err := msgsock.NewTextLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}

	server, err := cfg.Listen(logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Serve(ctx, msgsock.HandlerFunc(echo)); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
	}
}
