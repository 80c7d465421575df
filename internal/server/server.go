package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/go-canvas/internal/room"
	"github.com/a-essam23/go-canvas/internal/server/middleware"
	"github.com/a-essam23/go-canvas/internal/session"
	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/config"
	"github.com/a-essam23/go-canvas/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type App struct {
	logger     *slog.Logger
	registry   *room.Registry
	issuer     *auth.TokenIssuer
	identities auth.IdentitySource
	gauge      *middleware.ConnectionGauge
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	connMu sync.Mutex
	conns  map[uuid.UUID]*transport.Connection

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, identities auth.IdentitySource) *App {
	verifier := auth.NewVerifier(cfg.Server.Auth.JWTSecret)
	registry := room.NewRegistry(logger, verifier, cfg.Room)
	issuer := auth.NewTokenIssuer(logger, cfg.Server.Auth.JWTSecret, cfg.Server.Auth.GrantTTL, auth.OpenPolicy{})

	app := &App{
		logger:     logger,
		registry:   registry,
		issuer:     issuer,
		identities: identities,
		gauge:      &middleware.ConnectionGauge{},
		config:     cfg,
		conns:      make(map[uuid.UUID]*transport.Connection),
		ctx:        rootCtx,
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(room.Collectors()...)
	promReg.MustRegister(grantRequests)
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/auth/token",
		middleware.Chain(http.HandlerFunc(app.tokenHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
		),
	)
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(logger, app.gauge, cfg.Server.ConnectionLimit),
		),
	)
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// Registry exposes the room table, primarily for tests.
func (a *App) Registry() *room.Registry { return a.registry }

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	sess := session.New(a.logger, a.registry, conn)

	a.gauge.Inc()
	a.trackConn(conn)
	conn.SetOnMessageHandler(sess.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		sess.HandleClose(id, err)
		a.untrackConn(id)
		a.gauge.Dec()
		connLogger.Info("Connection cleaned up", slog.String("connID", id.String()))
	})

	connLogger.Info("Connection upgraded, awaiting attach handshake", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

func (a *App) trackConn(conn *transport.Connection) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	a.conns[conn.ID()] = conn
}

func (a *App) untrackConn(id uuid.UUID) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	delete(a.conns, id)
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	a.connMu.Lock()
	open := make([]*transport.Connection, 0, len(a.conns))
	for _, conn := range a.conns {
		open = append(open, conn)
	}
	a.connMu.Unlock()
	for _, conn := range open {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
