package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/host"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/sequence"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/transport"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

const shutdownTimeout = 5 * time.Second

// Server hosts the browser-side router behind an HTTP endpoint. Content
// processes connect to /ws and exchange router messages over it.
type Server struct {
	engine   *gin.Engine
	config   *config.Config
	logger   *logging.Logger
	loop     *sequence.Loop
	router   *host.Router
	codec    *transport.Codec
	metrics  *monitoring.Metrics
	registry *prometheus.Registry

	mu    sync.Mutex
	conns map[id.ConnID]*session
}

// NewServer creates a server and registers handlers with its router in
// order. The router's loop does not run until Run.
func NewServer(cfg *config.Config, logger *logging.Logger, handlers ...host.Handler) (*Server, error) {
	if err := cfg.Router.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Initializing query router daemon",
		zap.String("query_function", cfg.Router.QueryFunction),
		zap.String("cancel_function", cfg.Router.CancelFunction),
		zap.Int("message_size_threshold", cfg.Router.MessageSizeThreshold),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	codec, err := transport.NewCodec(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}

	loop := sequence.NewLoop("host")
	router := host.New(cfg.Router, loop).
		WithLogger(logger.Component("router")).
		WithMetrics(monitoring.NewRouterMetrics(registry, "host"))

	// The loop is idle, so its context may be used directly.
	for _, h := range handlers {
		if _, err := router.AddHandler(loop.Context(), h, false); err != nil {
			_ = codec.Close()
			return nil, fmt.Errorf("failed to add handler: %w", err)
		}
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(monitoring.Middleware(metrics))
	engine.Use(CORS(DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		engine.Use(RateLimit(cfg.RateLimit))
	}

	s := &Server{
		engine:   engine,
		config:   cfg,
		logger:   logger,
		loop:     loop,
		router:   router,
		codec:    codec,
		metrics:  metrics,
		registry: registry,
		conns:    make(map[id.ConnID]*session),
	}

	engine.GET("/health", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	engine.GET("/ws", s.stream)
	engine.GET("/browsers/:id/pending", s.pending)
	engine.DELETE("/browsers/:id/pending", s.cancelPending)
	engine.DELETE("/browsers/:id", s.closeBrowser)

	logger.Info("Server initialized successfully")
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.engine }

// Router returns the host router. Its owning-context methods must be called
// from tasks posted to the server's loop.
func (s *Server) Router() *host.Router { return s.router }

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
}

// Run serves HTTP on ln, or on Addr when ln is nil, and runs the router loop
// until ctx is done.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.Addr()); err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Upgraded connections outlive Shutdown; their requests derive
		// from gctx so they end with it.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error { return s.loop.Run(gctx) })
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the server's resources once Run has returned.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.loop.Stop()
	_ = s.codec.Close()
	_ = s.logger.Sync()
	return nil
}

// onLoop runs fn as a task on the router loop and waits for it.
func (s *Server) onLoop(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	posted := s.loop.PostTask(func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	})
	if !posted {
		return sequence.ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) health(c *gin.Context) {
	s.mu.Lock()
	conns := len(s.conns)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"router_id":   s.router.ID(),
		"connections": conns,
	})
}

func browserParam(c *gin.Context) (transport.Browser, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid browser id"})
		return 0, false
	}
	return transport.Browser(n), true
}

func (s *Server) pending(c *gin.Context) {
	browser, ok := browserParam(c)
	if !ok {
		return
	}
	count := make(chan int, 1)
	err := s.onLoop(c.Request.Context(), func(ctx context.Context) {
		count <- s.router.PendingCount(ctx, host.Scope{Browser: browser})
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"browser_id": browser.Identifier(), "pending": <-count})
}

func (s *Server) cancelPending(c *gin.Context) {
	browser, ok := browserParam(c)
	if !ok {
		return
	}
	err := s.onLoop(c.Request.Context(), func(ctx context.Context) {
		s.router.CancelPending(ctx, host.Scope{Browser: browser})
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) closeBrowser(c *gin.Context) {
	browser, ok := browserParam(c)
	if !ok {
		return
	}
	err := s.onLoop(c.Request.Context(), func(ctx context.Context) {
		s.router.OnBeforeClose(ctx, browser)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// stream upgrades a content process connection and feeds its messages to
// the router until it disconnects.
func (s *Server) stream(c *gin.Context) {
	conn, err := transport.Upgrade(c.Writer, c.Request, s.codec)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		server:   s,
		conn:     &meteredConn{Conn: conn, metrics: s.metrics},
		browsers: make(map[int32]struct{}),
	}
	s.mu.Lock()
	s.conns[conn.ID()] = sess
	s.mu.Unlock()
	s.metrics.IncWSConnections()

	logger := s.logger.With(zap.String("conn_id", string(conn.ID())))
	logger.Info("Content process connected", zap.String("remote", c.ClientIP()))

	err = transport.Serve(c.Request.Context(), sess.conn, s.loop, sess.dispatch, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Connection failed", zap.Error(err))
	}
	_ = conn.Close()

	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()
	s.metrics.DecWSConnections()

	sess.terminate()
	logger.Info("Content process disconnected")
}

// session is one connected content process.
type session struct {
	server *Server
	conn   transport.Conn

	// browsers seen on this connection. Only touched on the loop.
	browsers map[int32]struct{}
}

func (s *session) dispatch(ctx context.Context, browser transport.Browser, msg *wire.Message) {
	s.server.metrics.RecordWSMessage("in", msg.Name)
	s.browsers[browser.Identifier()] = struct{}{}

	frame := transport.NewFrame(s.conn, browser.Identifier(), true)
	if !s.server.router.OnProcessMessageReceived(ctx, browser, frame, msg) {
		s.server.logger.Debug("Ignoring unknown message", zap.String("name", msg.Name), logging.Browser(browser.Identifier()))
		_ = msg.Release()
	}
}

// terminate cancels the queries of every browser the connection served.
func (s *session) terminate() {
	s.server.loop.PostTask(func(ctx context.Context) {
		for browserID := range s.browsers {
			s.server.router.OnRenderProcessTerminated(ctx, transport.Browser(browserID))
		}
	})
}

// meteredConn counts outbound messages.
type meteredConn struct {
	transport.Conn
	metrics *monitoring.Metrics
}

func (c *meteredConn) Send(browserID int32, msg *wire.Message) error {
	c.metrics.RecordWSMessage("out", msg.Name)
	return c.Conn.Send(browserID, msg)
}
