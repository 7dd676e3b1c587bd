package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/pkg/config"
)

// Server represents the HTTP server
type Server struct {
	engine             *gin.Engine
	httpServer         *http.Server
	rateLimits         config.RateLimitConfig
	rateLimiters       *sync.Map
	cleanupInitialized sync.Once
	cleanupStop        chan struct{}
	stopOnce           sync.Once

	// Dependencies for handlers
	dependencies *types.Dependencies
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithTimeouts overrides the HTTP server timeouts
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		if read > 0 {
			s.httpServer.ReadTimeout = read
		}
		if write > 0 {
			s.httpServer.WriteTimeout = write
		}
	}
}

// WithMaxHeaderBytes overrides the header size limit
func WithMaxHeaderBytes(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.httpServer.MaxHeaderBytes = n
		}
	}
}

// WithRateLimits sets the per-group request limits
func WithRateLimits(cfg config.RateLimitConfig) ServerOption {
	return func(s *Server) {
		s.rateLimits = cfg
	}
}

// NewServer creates a new HTTP server
func NewServer(address string, opts ...ServerOption) *Server {
	// Create Gin engine with recovery middleware only
	engine := gin.New()
	engine.Use(gin.Recovery())

	server := &Server{
		engine:       engine,
		rateLimiters: &sync.Map{},
		cleanupStop:  make(chan struct{}),
		httpServer: &http.Server{
			Addr:    address,
			Handler: engine,
			// Misses run the full fetch chain before the first byte is written.
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   2 * time.Minute,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
	}

	for _, opt := range opts {
		opt(server)
	}

	return server
}

// SetDependencies sets all handler dependencies
func (s *Server) SetDependencies(deps *types.Dependencies) {
	s.dependencies = deps
}

// Engine returns the Gin engine for testing
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Initialize sets up middleware and routes
func (s *Server) Initialize() error {
	s.setupMiddleware()
	return s.setupRoutes()
}

// setupMiddleware configures global middleware
func (s *Server) setupMiddleware() {
	s.engine.Use(RequestLogger())
	s.engine.Use(CORS())
	s.engine.Use(RequestSizeLimit())
}

// setupRoutes delegates to the main route registration
func (s *Server) setupRoutes() error {
	if s.dependencies == nil {
		s.dependencies = &types.Dependencies{}
	}
	return RegisterRoutes(s.engine, s.dependencies, s.limiter)
}

// limiter builds the rate limit middleware for a route group
func (s *Server) limiter(group string) gin.HandlerFunc {
	if !s.rateLimits.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	rps, ok := s.rateLimits.Endpoints[group]
	if !ok {
		rps = s.rateLimits.Endpoints["default"]
	}
	return PerClientRateLimit(s.rateLimiters, s.cleanupStop, &s.cleanupInitialized, group, rps, rps*2)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.cleanupStop)
	})
	return s.httpServer.Shutdown(ctx)
}
