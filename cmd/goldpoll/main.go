package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/initializer"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to JSON config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goldpoll: %v\n", err)
		os.Exit(1)
	}

	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := initializer.Start(mainCtx, cfg); err != nil && mainCtx.Err() == nil {
		fmt.Fprintf(os.Stderr, "goldpoll: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("GOLDPOLL_CONFIG"); v != "" {
		return v
	}
	return "./config.json"
}
