package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabsync-backend/pkg/auth"
	appErrors "collabsync-backend/pkg/errors"
)

// Server exposes the WebSocket upgrade endpoint and the out-of-band
// operational endpoints
type Server struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	jwtService *auth.JWTService
	logger     *zap.Logger
	metrics    http.Handler
}

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// NewServer creates a new WebSocket server
func NewServer(hub *Hub, jwtService *auth.JWTService, config *ServerConfig, metricsHandler http.Handler, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
		jwtService: jwtService,
		logger:     logger,
		metrics:    metricsHandler,
	}
}

// originChecker builds the upgrade origin policy. An empty allowlist admits
// every origin (development); otherwise the Origin header must match exactly.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients; the credential check still applies.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWebSocket handles WebSocket upgrade requests. Authentication happens
// before the upgrade and before any presence state is touched; a rejected
// connection leaves the store unchanged.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticateRequest(r)
	if err != nil {
		s.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	displayName := r.URL.Query().Get("displayName")
	if displayName == "" {
		displayName = claims.DisplayName
	}
	if displayName == "" {
		displayName = claims.UserID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}

	client := NewClient(claims.UserID, displayName, s.hub, conn, s.logger)
	client.Start()

	s.logger.Info("New WebSocket connection established",
		zap.String("userID", claims.UserID),
		zap.String("connectionID", client.GetID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}

// authenticateRequest validates the handshake credential: signature, expiry
// and an exact match between the token subject and the claimed identity.
func (s *Server) authenticateRequest(r *http.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			token = authHeader
		}
	}
	if token == "" {
		return nil, appErrors.NewAuthenticationFailed("no credential presented", auth.ErrMissingToken)
	}

	claimedUserID := r.URL.Query().Get("userId")
	if claimedUserID == "" {
		return nil, appErrors.NewAuthenticationFailed("no claimed user identity provided", nil)
	}

	claims, err := s.jwtService.Authenticate(token, claimedUserID)
	if err != nil {
		return nil, appErrors.NewAuthenticationFailed("credential rejected", err)
	}
	return claims, nil
}

// Router builds the HTTP surface: the upgrade endpoint plus the liveness and
// stats endpoints. The operational endpoints read in-process state only.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}))
	}

	r.Get("/ws", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	return r
}

// StartWithContext serves until ctx is cancelled, then drains gracefully
func (s *Server) StartWithContext(ctx context.Context, address string, allowedOrigins []string) error {
	go s.hub.Run()

	server := &http.Server{
		Addr:         address,
		Handler:      s.Router(allowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting WebSocket server", zap.String("address", address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down WebSocket server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}

		s.hub.Stop()
		s.logger.Info("WebSocket server stopped gracefully")
		return nil

	case err := <-serverErr:
		return err
	}
}

// handleHealth answers the liveness query with aggregate presence counters
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.hub.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"onlineUsers": stats.OnlineUsers,
		"roomCount":   stats.RoomCount,
	})
}

// handleStats answers the stats query with per-room member counts and the
// total connection count
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.hub.Stats())
}

// GetHub returns the WebSocket hub
func (s *Server) GetHub() *Hub {
	return s.hub
}
