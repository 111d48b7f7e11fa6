package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"spreadflow/aggregator"
	appconfig "spreadflow/config"
	"spreadflow/logger"
	"spreadflow/models"
)

// StatusProvider reports the health of one venue connector.
type StatusProvider interface {
	Status() models.ConnectorStatus
}

// Server hosts the read-only monitoring API: current spreads straight from
// the aggregate cache and connector health. It never touches the quote path.
type Server struct {
	cfg        appconfig.APIConfig
	log        *logger.Log
	cache      *aggregator.Cache
	connectors []StatusProvider
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer constructs the API server when the api feature is enabled. When
// disabled the returned server is nil and Run becomes a no-op.
func NewServer(cfg appconfig.APIConfig, cache *aggregator.Cache, connectors []StatusProvider) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)

	return &Server{
		cfg:        cfg,
		log:        logger.GetLogger(),
		cache:      cache,
		connectors: connectors,
		startedAt:  time.Now(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address}).Info("api server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/api/spreads", s.handleSpreads)
	router.GET("/api/spreads/:symbol", s.handleSpread)
	router.GET("/api/health", s.handleHealth)

	return router, nil
}

func (s *Server) handleSpreads(c *gin.Context) {
	snap := s.cache.Snapshot(time.Now())

	symbols := make([]string, 0, len(snap))
	for sym := range snap {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	views := make([]models.SymbolView, 0, len(symbols))
	for _, sym := range symbols {
		views = append(views, snap[sym])
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().UnixMilli(),
		"spreads":   views,
	})
}

func (s *Server) handleSpread(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	view, ok := s.cache.View(symbol, time.Now())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleHealth(c *gin.Context) {
	statuses := make([]models.ConnectorStatus, 0, len(s.connectors))
	healthy := true
	for _, conn := range s.connectors {
		st := conn.Status()
		statuses = append(statuses, st)
		if !st.Connected && !st.PollingActive {
			healthy = false
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy":        healthy,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"connectors":     statuses,
	})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
