package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-labs/parley-node/internal/api/middleware"
	"github.com/parley-labs/parley-node/internal/database"
	"github.com/parley-labs/parley-node/internal/relay"
	"github.com/parley-labs/parley-node/internal/utils"
)

// APIServer provides the HTTP REST and WebSocket surface of the node
type APIServer struct {
	ctx      context.Context
	cancel   context.CancelFunc
	server   *http.Server
	listener net.Listener
	port     string

	logger *utils.LogsManager
	config *utils.ConfigManager

	dbManager   *database.SQLiteManager
	blobStore   relay.BlobStore
	coordinator *relay.Coordinator

	jwtManager *middleware.JWTManager
	jwtTTL     time.Duration

	wsUpgrader websocket.Upgrader

	startTime time.Time
	mutex     sync.RWMutex
}

// NewAPIServer creates a new API server instance
func NewAPIServer(
	config *utils.ConfigManager,
	logger *utils.LogsManager,
	dbManager *database.SQLiteManager,
	blobStore relay.BlobStore,
	coordinator *relay.Coordinator,
) *APIServer {
	ctx, cancel := context.WithCancel(context.Background())

	jwtSecret := config.GetConfigWithDefault("jwt_secret", "change-this-secret-key-in-production")
	jwtManager := middleware.NewJWTManager(jwtSecret, "parley-node")

	return &APIServer{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		config:      config,
		dbManager:   dbManager,
		blobStore:   blobStore,
		coordinator: coordinator,
		jwtManager:  jwtManager,
		jwtTTL:      config.GetConfigDuration("jwt_token_ttl", 24*time.Hour),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is not restricted; browser clients authenticate
			// with a token, not ambient credentials
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
}

// Start initializes and starts the API server
func (s *APIServer) Start() error {
	apiPort := s.config.GetConfigWithDefault("api_port", "8090")
	s.port = apiPort

	s.logger.Info(fmt.Sprintf("Starting API server on port %s", apiPort), "api")

	// Get fallback ports from config
	fallbackPortsStr := s.config.GetConfigWithDefault("api_fallback_ports", "8091,8092")
	fallbackPorts := parsePortList(fallbackPortsStr)

	// Build ports list: primary port + fallbacks
	ports := append([]string{apiPort}, fallbackPorts...)
	var err error

	for _, port := range ports {
		addr := fmt.Sprintf(":%s", port)
		s.listener, err = net.Listen("tcp", addr)
		if err == nil {
			s.port = port
			s.logger.Info(fmt.Sprintf("API server bound to port %s", port), "api")
			break
		}
	}

	if s.listener == nil {
		return fmt.Errorf("failed to bind API server to any port: %v", err)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	// Wrap mux with CORS middleware
	handler := middleware.CORSMiddleware(mux)

	s.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error(fmt.Sprintf("API server error: %v", err), "api")
		}
	}()

	s.logger.Info("API server started successfully", "api")
	return nil
}

// registerRoutes sets up all HTTP routes
func (s *APIServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)

	// Auth routes
	mux.HandleFunc("/api/auth/register", s.handleRegister) // POST - Create account
	mux.HandleFunc("/api/auth/login", s.handleLogin)       // POST - Credentials -> JWT

	// Attachment blobs
	mux.HandleFunc("/api/blobs/", s.handleGetBlob)

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.logger.Debug("API routes registered", "api")
}

// handleHealth returns API health status
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%d}`, int64(time.Since(s.startTime).Seconds()))
}

// Stop gracefully shuts down the API server
func (s *APIServer) Stop() error {
	s.logger.Info("Stopping API server", "api")
	s.cancel()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}

	return nil
}

// GetPort returns the port the server is listening on
func (s *APIServer) GetPort() string {
	return s.port
}

// parsePortList parses a comma-separated list of ports
func parsePortList(portList string) []string {
	if portList == "" {
		return []string{}
	}
	ports := strings.Split(portList, ",")
	result := make([]string, 0, len(ports))
	for _, port := range ports {
		port = strings.TrimSpace(port)
		if port != "" {
			result = append(result, port)
		}
	}
	return result
}
