// ABOUTME: Gateway orchestrator that wires the relay, fan-out bus and HTTP server together
// ABOUTME: Manages listeners (TCP or Tailscale), the optional gRPC health server and shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/auth"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/config"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/dedupe"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/fanout"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/metrics"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/ratelimit"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/relay"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/render"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/store"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/webui"
)

// Gateway orchestrates the chat relay server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	bus         *fanout.Bus
	relay       *relay.Service
	dedupe      *dedupe.Cache
	limiter     *ratelimit.Pool
	metrics     *metrics.Recorder
	renderer    *render.Renderer // nil unless render.markdown
	operator    *auth.OperatorChecker
	sessions    *auth.Sessions
	grpcServer  *grpc.Server   // nil unless server.grpc_addr
	health      *health.Server // nil unless server.grpc_addr
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// streamCtx is the base context of every request; canceling it ends
	// open SSE streams so http.Server.Shutdown can finish.
	streamCtx     context.Context
	cancelStreams context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// conversationCounter is implemented by stores that can report their size cheaply
type conversationCounter interface {
	Count() int
}

// pinger is implemented by stores backed by an external resource
type pinger interface {
	Ping(ctx context.Context) error
}

// initStore creates the store: SQLite when database.path is set, memory otherwise.
func initStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Path == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// sessionSecret returns the configured secret or a random per-process one.
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.Session.Secret != "" {
		return []byte(cfg.Session.Secret), nil
	}
	logger.Warn("session.secret not set, sessions will not survive a restart")
	return auth.RandomSecret()
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		var conversations func() float64
		if counter, ok := s.(conversationCounter); ok {
			conversations = func() float64 { return float64(counter.Count()) }
		}
		recorder = metrics.New(conversations)
	}

	bus := fanout.New(logger, recorder)
	dedupeCache := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)

	relaySvc := relay.New(relay.Config{
		Store:    s,
		Bus:      bus,
		Dedupe:   dedupeCache,
		Recorder: recorder,
		Logger:   logger,
	})

	var renderer *render.Renderer
	if cfg.Render.Markdown {
		renderer = render.New()
	}

	streamCtx, cancelStreams := context.WithCancel(context.Background())

	gw := &Gateway{
		config:        cfg,
		store:         s,
		bus:           bus,
		relay:         relaySvc,
		dedupe:        dedupeCache,
		limiter:       ratelimit.New(cfg.Limits.MessagesPerSecond, cfg.Limits.Burst, 0),
		metrics:       recorder,
		renderer:      renderer,
		operator:      auth.NewOperatorChecker(cfg.Operator.Token, cfg.Operator.TokenHash),
		sessions:      auth.NewSessions(auth.NewJWTVerifier(secret), cfg.Session.CookieName, cfg.Session.TTL),
		logger:        logger.With("component", "gateway"),
		streamCtx:     streamCtx,
		cancelStreams: cancelStreams,
	}

	if !gw.operator.Enabled() {
		gw.logger.Warn("no operator credential configured, operator routes are disabled")
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer(logger)
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, recorder.Handler())
		gw.logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	gw.registerAPIRoutes(mux)

	ui := webui.New(webui.Config{Title: "Chat", Attachments: true}, logger)
	ui.RegisterRoutes(mux, auth.RequireOperator(gw.operator))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}

	return gw, nil
}

// Handler returns the HTTP handler serving every route
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// registerAPIRoutes registers the JSON and SSE routes with their auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	requireOperator := auth.RequireOperator(g.operator)

	// End-user routes
	mux.HandleFunc("POST /api/session", g.handleStartSession)
	mux.Handle("POST /api/message", g.sessions.RequireSession(http.HandlerFunc(g.handleUserMessage)))
	mux.Handle("GET /api/history", g.sessions.OptionalSession(http.HandlerFunc(g.handleUserHistory)))
	mux.Handle("GET /events", g.sessions.RequireSession(http.HandlerFunc(g.handleUserEvents)))

	// Operator routes
	mux.Handle("GET /operator/events", requireOperator(http.HandlerFunc(g.handleOperatorEvents)))
	mux.Handle("POST /operator/reply", requireOperator(http.HandlerFunc(g.handleOperatorReply)))
	mux.Handle("GET /operator/history", requireOperator(http.HandlerFunc(g.handleOperatorHistory)))
	mux.Handle("GET /operator/conversations", requireOperator(http.HandlerFunc(g.handleListConversations)))
}

// setupTCPListeners creates standard TCP listeners for HTTP and, if configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "relay-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	if g.grpcServer != nil {
		grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
		}
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		_ = g.tsnetServer.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Open event streams are ended first. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		g.cancelStreams()

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.shutdownGRPCServer(ctx)

		if g.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		}

		g.bus.Close()
		g.limiter.Close()
		g.dedupe.Close()

		errs = appendCloseError(errs, "store close", g.store.Close())

		if len(errs) > 0 {
			g.shutdownErr = errors.Join(errs...)
		}
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := g.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
			return
		}
	}

	var conversations int
	if counter, ok := g.store.(conversationCounter); ok {
		conversations = counter.Count()
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d conversations, %d operator views)",
		conversations, g.bus.Subscribers(fanout.OperatorChannel))
}
