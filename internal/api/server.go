// Package api exposes the sessions HTTP surface: CRUD, channel response
// processing, dry-run validation, and the manual expiry trigger.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelworks/parley/internal/session"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Service   *session.Service
	Scheduler *session.Scheduler
	Port      int
	Out       io.Writer
}

// Start launches the sessions HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Service == nil {
		return fmt.Errorf("api: service is required")
	}
	if opts.Scheduler == nil {
		return fmt.Errorf("api: scheduler is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8000
	}

	router := NewRouter(opts.Service, opts.Scheduler)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Sessions API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the Gin engine with all session routes registered.
func NewRouter(svc *session.Service, sched *session.Scheduler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, svc, sched)
	return router
}
