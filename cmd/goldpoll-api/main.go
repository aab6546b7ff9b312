package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goldpoll/goldpoll/internal/api"
	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/initializer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to JSON config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goldpoll-api: %v\n", err)
		os.Exit(1)
	}

	logFile, err := initializer.SetupLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goldpoll-api: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	if cfg.API.Key == "" {
		log.Warn().Msg("GOLDPOLL_API_KEY not set, every price request will be rejected")
	}

	store, err := initializer.NewStore(cfg)
	if err != nil {
		os.Exit(1)
	}

	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.New(store, &cfg.API)
	if err := srv.Run(mainCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("API server failed")
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("GOLDPOLL_CONFIG"); v != "" {
		return v
	}
	return "./config.json"
}
