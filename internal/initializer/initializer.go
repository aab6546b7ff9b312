package initializer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/connector"
	"github.com/goldpoll/goldpoll/internal/poller"
	"github.com/goldpoll/goldpoll/internal/source"
	"github.com/goldpoll/goldpoll/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/sync/errgroup"
)

// SetupLogger configures the global logger from config values.
// If the path given in the config for logging ends with .log then create a log file with the same name and
// write log messages to it. Otherwise, create a new log file with a timestamp attached to it's name in the given path.
// An empty path logs to stderr.
func SetupLogger(cfg *config.Log) (io.Closer, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	switch cfg.Level {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var (
		out     io.Writer = os.Stderr
		logFile *os.File
		err     error
	)
	if cfg.FilePath != "" {
		if strings.HasSuffix(cfg.FilePath, ".log") {
			logFile, err = os.OpenFile(cfg.FilePath, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0666)
			if err != nil {
				return nil, fmt.Errorf("not able to open or create log file: %v", cfg.FilePath)
			}
		} else {
			logFile, err = os.Create(cfg.FilePath + "_" + strconv.Itoa(int(time.Now().Unix())) + ".log")
			if err != nil {
				return nil, fmt.Errorf("not able to create log file: %v", cfg.FilePath)
			}
		}
		out = logFile
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	log.Info().Msg("logger setup is done")
	if logFile == nil {
		return io.NopCloser(nil), nil
	}
	return logFile, nil
}

// NewStore prepares the configured quote store backend.
func NewStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.Backend {
	case "file":
		return storage.NewFile(cfg.Store.FilePath), nil
	case "mysql":
		mysql, err := storage.InitMySQL(&cfg.Connection.MySQL)
		if err != nil {
			err = errors.Wrap(err, "mysql connection")
			log.Error().Stack().Err(errors.WithStack(err)).Msg("")
			return nil, err
		}
		log.Info().Msg("mysql connected")
		return mysql, nil
	default:
		return nil, errors.Errorf("unknown store backend: %v", cfg.Store.Backend)
	}
}

// Start will initialize various required systems and then execute the poller.
func Start(mainCtx context.Context, cfg *config.Config) error {
	logFile, err := SetupLogger(&cfg.Log)
	if err != nil {
		return err
	}
	defer logFile.Close()

	store, err := NewStore(cfg)
	if err != nil {
		return err
	}

	var terminal *storage.Terminal
	if cfg.Connection.Terminal.Echo {
		terminal = storage.InitTerminal(os.Stdout)
		log.Info().Msg("terminal echo enabled")
	}

	_ = connector.InitREST(&cfg.Connection.REST)

	sources := make([]source.Source, 0, len(cfg.Sources))
	for i := range cfg.Sources {
		src, err := source.New(&cfg.Sources[i], &cfg.Connection)
		if err != nil {
			log.Error().Stack().Err(errors.WithStack(err)).Msg("")
			return err
		}
		sources = append(sources, src)
		log.Info().Str("source", src.Name()).Strs("assets", src.Assets()).Msg("source configured")
	}

	p := poller.New(
		sources,
		store,
		terminal,
		cfg.Assets,
		time.Duration(cfg.Poll.IntervalSec)*time.Second,
		time.Duration(cfg.Poll.SourceTimeoutSec)*time.Second,
	)

	appErrGroup, appCtx := errgroup.WithContext(mainCtx)
	appErrGroup.Go(func() error {
		return p.Run(appCtx)
	})

	err = appErrGroup.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Msg("exiting the app")
		return err
	}
	return nil
}
