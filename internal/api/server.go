// Package api exposes the orchestrator, health monitor and adapters over a
// local HTTP API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"aihub/internal/chat"
	"aihub/internal/domain"
	"aihub/internal/export"
	"aihub/internal/metrics"
	"aihub/internal/provider"
)

const maxUploadSize = 32 << 20 // 32MB

// HealthService is the part of the health monitor the API uses.
type HealthService interface {
	Snapshot() domain.HealthSnapshot
	Check(ctx context.Context, backendID string) (domain.AdapterHealth, error)
	CheckAll(ctx context.Context) domain.HealthSnapshot
	Subscribe() (<-chan domain.AdapterHealth, func())
}

// ServiceRegistry reads and edits persisted service entries.
type ServiceRegistry interface {
	ListServices(ctx context.Context) ([]domain.ServiceRecord, error)
	GetService(ctx context.Context, id string) (*domain.ServiceRecord, error)
	UpsertService(ctx context.Context, svc domain.ServiceRecord) error
}

// ConversationStore lists and forgets persisted conversations.
type ConversationStore interface {
	ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

type ModelLister interface {
	ListModels(ctx context.Context) domain.Outcome[[]provider.OllamaModel]
}

// NotificationSource streams user-facing notifications.
type NotificationSource interface {
	Subscribe() (<-chan domain.Notification, func())
}

type Config struct {
	Host   string
	Port   int
	APIKey string // "" disables bearer auth

	Sessions      *chat.Sessions
	Health        HealthService
	Services      ServiceRegistry   // optional
	Conversations ConversationStore // optional
	Models        ModelLister       // optional
	Images        domain.SynthesisAdapter
	Transcriber   domain.TranscriptionAdapter
	Exporter      *export.FileExporter // optional
	Events        NotificationSource   // optional

	Metrics     *metrics.MetricsCollector // nil disables the metrics endpoint
	MetricsPath string
	Logger      *slog.Logger
}

// Server is the gin-based HTTP surface.
type Server struct {
	cfg    Config
	engine *gin.Engine
	logger *slog.Logger
	server *http.Server
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.engine = s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port) }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.MaxMultipartMemory = maxUploadSize

	if s.cfg.Metrics != nil {
		r.GET(s.cfg.MetricsPath, gin.WrapF(s.cfg.Metrics.Handler()))
	}

	api := r.Group("/api", s.auth())
	api.GET("/health", s.handleHealth)
	api.POST("/health/check", s.handleHealthCheck)
	api.GET("/services", s.handleListServices)
	api.PUT("/services/:id", s.handlePutService)
	api.GET("/models", s.handleModels)

	conv := api.Group("/conversations")
	conv.GET("", s.handleListConversations)
	conv.POST("/:id/attachments", s.handleAddAttachment)
	conv.DELETE("/:id/attachments/:index", s.handleRemoveAttachment)
	conv.POST("/:id/turns", s.handleSubmit)
	conv.GET("/:id/messages", s.handleMessages)
	conv.GET("/:id/export", s.handleExport)
	conv.DELETE("/:id", s.handleDeleteConversation)

	api.POST("/images", s.handleImages)
	api.POST("/transcriptions", s.handleTranscription)
	api.GET("/events", s.handleEvents)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      15 * time.Minute, // image synthesis can take minutes
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api server started", "addr", s.server.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		s.logger.Info("api server stopped")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	}
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		// Browsers cannot set headers on WebSocket upgrades.
		if token == "" || token == c.GetHeader("Authorization") {
			token = c.Query("token")
		}
		if token != s.cfg.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
