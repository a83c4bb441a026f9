// Package web serves the dashboard page and its JSON, SSE and WebSocket API.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/metrics"
	"github.com/vadiminshakov/coinverse/internal/services/market/indicators"
	"github.com/vadiminshakov/coinverse/internal/services/market/loader"
	"github.com/vadiminshakov/coinverse/internal/services/market/refresher"
)

const (
	heartbeatInterval = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxBodyBytes      = 64 << 10
)

// Table is the live coin table.
type Table interface {
	Snapshot() refresher.TableUpdate
	Search(query string) []domain.Coin
	Subscribe() chan refresher.TableUpdate
	Unsubscribe(ch chan refresher.TableUpdate)
}

// Details serves per-coin data and chart settings.
type Details interface {
	Coin(ctx context.Context, coinID string) (domain.Coin, loader.Source, error)
	History(ctx context.Context, coinID string) ([]domain.HistoricalBar, loader.Source, error)
	IndicatorSummary(ctx context.Context, coinID string) ([]indicators.Latest, error)
	IndicatorSettings() []domain.IndicatorSpec
	SaveIndicatorSettings(specs []domain.IndicatorSpec) error
}

// Chat is the per-coin message service.
type Chat interface {
	Subscribe(ctx context.Context, roomID string, onUpdate func([]domain.ChatMessage), onError func(error)) (unsubscribe func())
	Send(ctx context.Context, roomID, text string, author domain.Author) (domain.ChatMessage, error)
	Recent(roomID string) ([]domain.ChatMessage, error)
}

// Auth issues and resolves sessions.
type Auth interface {
	Register(ctx context.Context, username, email, password string) (domain.Session, error)
	SignIn(ctx context.Context, email, password string) (domain.Session, error)
	SignOut(token string)
	Resolve(token string) (domain.User, error)
}

// Server exposes the dashboard over HTTP.
type Server struct {
	addr    string
	table   Table
	details Details
	chat    Chat
	auth    Auth
	logger  *zap.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, table Table, details Details, chat Chat, auth Auth, logger *zap.Logger) (*Server, error) {
	if table == nil || details == nil || chat == nil || auth == nil {
		return nil, errors.New("table, details, chat and auth are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		addr:    addr,
		table:   table,
		details: details,
		chat:    chat,
		auth:    auth,
		logger:  logger.With(zap.String("component", "web")),
	}, nil
}

// Handler returns the full route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", gzipHandler(http.HandlerFunc(s.handleIndex)))

	mux.HandleFunc("GET /api/coins", s.handleCoins)
	mux.HandleFunc("GET /api/coins/stream", s.handleCoinStream)
	mux.HandleFunc("GET /api/coins/{id}", s.handleCoin)
	mux.HandleFunc("GET /api/coins/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/coins/{id}/indicators", s.handleCoinIndicators)

	mux.HandleFunc("GET /api/indicators", s.handleGetIndicators)
	mux.HandleFunc("PUT /api/indicators", s.requireUser(s.handlePutIndicators))

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/session", s.handleSession)

	mux.HandleFunc("GET /api/chat/{room}/ws", s.handleChatSocket)
	mux.HandleFunc("GET /api/chat/{room}/messages", s.handleChatRecent)
	mux.HandleFunc("POST /api/chat/{room}/messages", s.requireUser(s.handleChatSend))

	mux.Handle("GET /metrics", promhttp.Handler())

	return metrics.PrometheusMiddleware(mux)
}

func (s *Server) httpServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
// It returns once in-flight requests have finished or the shutdown timed out.
func (s *Server) Start(ctx context.Context) error {
	server := s.httpServer(s.addr, s.Handler())

	s.logger.Info("listening", zap.String("addr", s.addr))
	if err := s.serveUntilDone(ctx, server, server.ListenAndServe); err != nil {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// serveUntilDone runs serve and, once ctx is cancelled, waits for the
// graceful shutdown of server before returning.
func (s *Server) serveUntilDone(ctx context.Context, server *http.Server, serve func() error) error {
	// requests observe the server context so streams end on shutdown
	server.BaseContext = func(net.Listener) context.Context { return ctx }

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown", zap.String("addr", server.Addr), zap.Error(err))
		}
	}()

	err := serve()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := s.httpServer(":80", manager.HTTPHandler(nil))

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	httpsSrv := s.httpServer(s.addr, s.Handler())
	httpsSrv.TLSConfig = tlsConfig

	go func() {
		if err := s.serveUntilDone(ctx, httpSrv, httpSrv.ListenAndServe); err != nil {
			s.logger.Error("acme server", zap.Error(err))
		}
	}()

	s.logger.Info("listening with automatic tls", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := s.serveUntilDone(ctx, httpsSrv, func() error { return httpsSrv.ListenAndServeTLS("", "") }); err != nil {
		return errors.Wrap(err, "serve https")
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
