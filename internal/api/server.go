// Package api exposes the reconciliation operations as JSON endpoints.
// Every operation is a POST under /rpc/ carrying the caller's user id in
// the X-User-ID header. Authentication happens in front of this server.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Veraticus/receipt-reconciler/internal/automation"
	"github.com/Veraticus/receipt-reconciler/internal/engine"
	"github.com/Veraticus/receipt-reconciler/internal/model"
)

// UserHeader carries the authenticated caller.
const UserHeader = "X-User-ID"

// Reconciler is the engine surface served over RPC. Implemented by
// engine.Engine.
type Reconciler interface {
	Connect(ctx context.Context, userID string, req engine.ConnectRequest) (engine.ConnectResult, error)
	Disconnect(ctx context.Context, userID, fileID, txID string) error
	DismissSuggestion(ctx context.Context, userID, fileID, txID string) error
	AssignPartnerToTransaction(ctx context.Context, userID, txID string, req engine.AssignPartnerRequest) error
	RemovePartnerFromTransaction(ctx context.Context, userID, txID string) error
	AssignPartnerToFile(ctx context.Context, userID, fileID string, req engine.AssignPartnerRequest) error
	RemovePartnerFromFile(ctx context.Context, userID, fileID string) error
	MarkFileAsNotInvoice(ctx context.Context, userID, fileID, reason string) error
	AssignCategory(ctx context.Context, userID, txID string, req engine.AssignCategoryRequest) error
	RemoveCategory(ctx context.Context, userID, txID string) error
	AssignReceiptLostCategory(ctx context.Context, userID, txID string, req engine.ReceiptLostRequest) error
	BulkUpdateTransactions(ctx context.Context, userID string, patches []engine.TransactionPatch) engine.BulkResult
	BulkDeleteFiles(ctx context.Context, userID string, fileIDs []string, hard bool) engine.BulkResult
	ImportTransactions(ctx context.Context, userID string, txns []model.Transaction) (engine.ImportResult, error)
}

// Automation is the supervisor surface served over RPC. Implemented by
// automation.Supervisor.
type Automation interface {
	CancelWorkersForEntity(ctx context.Context, userID string, target model.TriggerContext, workerTypes ...string) (int, error)
	RequestSearch(ctx context.Context, userID string, req automation.SearchRequest) (automation.SearchResult, error)
	ListQueue(ctx context.Context, userID string, kind model.QueueKind, statuses ...model.QueueStatus) ([]model.QueueItem, error)
	Retry(ctx context.Context, userID, id string) (*model.QueueItem, error)
	Pause(ctx context.Context, userID, id string) (*model.QueueItem, error)
	Resume(ctx context.Context, userID, id string) (*model.QueueItem, error)
	FinishRun(ctx context.Context, userID, runID string, status model.WorkerStatus, errMsg string) (*model.WorkerRecord, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config configures the HTTP surface.
type Config struct {
	AllowOrigins []string
	// ShutdownTimeout bounds the drain of in-flight requests.
	ShutdownTimeout time.Duration
}

// Server serves the RPC endpoints.
type Server struct {
	reconciler Reconciler
	automation Automation
	pinger     Pinger
	router     *gin.Engine
	config     Config
}

// New builds the router. pinger may be nil.
func New(reconciler Reconciler, auto Automation, pinger Pinger, config Config) *Server {
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		reconciler: reconciler,
		automation: auto,
		pinger:     pinger,
		config:     config,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  config.AllowOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", UserHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/health", s.health)

	rpc := r.Group("/rpc", requireUser())
	s.routes(rpc)

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("Server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "receipt-reconciler",
	})
}

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(c.Request.Context(), level, "Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"user_id", c.GetHeader(UserHeader),
			"duration", time.Since(start))
	}
}
