package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server is the authenticated read surface over the quote store. It never
// writes, the poller process is the only writer.
type Server struct {
	store  storage.Store
	cfg    *config.API
	engine *gin.Engine
}

// New creates the API server and registers its routes.
func New(store storage.Store, cfg *config.API) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		store:  store,
		cfg:    cfg,
		engine: engine,
	}

	// Health is exempt from authorization, it is used for liveness probing.
	engine.GET("/health", s.health)

	authorized := engine.Group("/", s.authorize)
	authorized.GET("/price/:asset", s.price)

	// Route aliases kept for clients of the first generation of this
	// service, which had one hardcoded endpoint per asset.
	authorized.GET("/price", s.priceFor("xau"))
	authorized.GET("/btc-price", s.priceFor("btc"))
	authorized.GET("/xag-price", s.priceFor("xag"))

	return s
}

// Handler exposes the underlying handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves the API until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", s.cfg.Port).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// authorize gates every price route on the shared secret header before
// any store access happens.
func (s *Server) authorize(c *gin.Context) {
	key := c.GetHeader("X-API-Key")
	if s.cfg.Key == "" || key != s.cfg.Key {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid API Key"})
		return
	}
	c.Next()
}

func (s *Server) price(c *gin.Context) {
	s.servePrice(c, c.Param("asset"))
}

func (s *Server) priceFor(asset string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.servePrice(c, asset)
	}
}

// servePrice returns the most recently persisted value for the asset.
// Never-observed assets are a distinct not-found outcome, internal
// failures map to one stable minimal message.
func (s *Server) servePrice(c *gin.Context, asset string) {
	asset = strings.ToLower(strings.TrimSpace(asset))

	prices, err := s.store.Load(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("asset", asset).Msg("store read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal error."})
		return
	}

	price, ok := prices[asset]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Price not available yet."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price})
}

type healthResponse struct {
	Status    string             `json:"status"`
	LastPrice map[string]float64 `json:"last_price"`
}

// health reports store availability. It always answers 200, an empty or
// unreadable store degrades the status instead of erroring.
func (s *Server) health(c *gin.Context) {
	prices, err := s.store.Load(c.Request.Context())
	if err != nil || len(prices) == 0 {
		c.JSON(http.StatusOK, healthResponse{Status: "error", LastPrice: nil})
		return
	}
	c.JSON(http.StatusOK, healthResponse{Status: "ok", LastPrice: prices})
}
