// Package server exposes the pipeline over HTTP: job submission, job
// status, paged stage output and a server-sent event stream of pages.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/valpere/peredoc/internal/pagination"
	"github.com/valpere/peredoc/internal/pipeline"
	"github.com/valpere/peredoc/internal/store"
)

type Server struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	tracker  *pagination.Tracker
	log      *logrus.Entry
	// heartbeat is the interval of keep-alive comments on event streams.
	heartbeat time.Duration
}

func New(p *pipeline.Pipeline, st *store.Store, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		pipeline:  p,
		store:     st,
		tracker:   pagination.NewTracker(pagination.DefaultTrackerSize),
		log:       log,
		heartbeat: 15 * time.Second,
	}
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logging(s.log))

	r.GET("/health", s.health)

	v1 := r.Group("/v1")
	v1.POST("/jobs", s.createJob)
	v1.GET("/jobs", s.listJobs)
	v1.GET("/jobs/:id", s.getJob)
	v1.GET("/jobs/:id/output", s.output)
	v1.GET("/jobs/:id/pages/:stage", s.page)
	v1.GET("/jobs/:id/pages/:stage/stream", s.stream)
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func abort(c *gin.Context, status int, typ, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"type":    typ,
			"message": message,
		},
	})
}
