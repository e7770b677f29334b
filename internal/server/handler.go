package server

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/pagination"
	"github.com/valpere/peredoc/internal/pipeline"
	"github.com/valpere/peredoc/internal/store"
)

// stageSummary is the per-stage part of a job view.
type stageSummary struct {
	Stage           string `json:"stage"`
	Attempts        int    `json:"attempts"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	Truncated       bool   `json:"truncated"`
	Downshifts      int    `json:"downshifts"`
	FallbackUsed    bool   `json:"fallback_used"`
	SegmentRetry    bool   `json:"segment_retry_used"`
	TotalTokens     int    `json:"total_tokens"`
}

type jobView struct {
	*internal.Job
	Stages []stageSummary `json:"stages"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) createJob(c *gin.Context) {
	var req internal.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "Failed to parse request body: "+err.Error())
		return
	}

	job, existing, err := s.pipeline.Submit(c.Request.Context(), req)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"event":      "submit_failed",
		}).WithError(err).Warn("job submission failed")
		abort(c, http.StatusUnprocessableEntity, "submit_failed", err.Error())
		return
	}

	status := http.StatusAccepted
	if existing {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"job": job, "existing": existing})
}

func (s *Server) listJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := s.store.ListJobs(c.Request.Context(), limit)
	if err != nil {
		abort(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if jobs == nil {
		jobs = []internal.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) getJob(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	view := jobView{Job: job, Stages: []stageSummary{}}
	for _, name := range s.pipeline.Stages() {
		res, err := s.store.GetStageResult(c.Request.Context(), job.ID, name)
		if err != nil {
			continue
		}
		view.Stages = append(view.Stages, stageSummary{
			Stage:           name,
			Attempts:        res.Attempts,
			MaxOutputTokens: res.MaxOutputTokens,
			Truncated:       res.Truncated,
			Downshifts:      res.Metrics.Downshifts,
			FallbackUsed:    res.Metrics.FallbackUsed,
			SegmentRetry:    res.Metrics.SegmentRetryUsed,
			TotalTokens:     res.Usage.TotalTokens,
		})
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) output(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	text, err := s.pipeline.Output(c.Request.Context(), job.ID)
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusConflict, "not_ready", "job "+job.ID+" has no translation yet ("+string(job.Status)+")")
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "text": text})
}

// page serves one page of a stage. A missing or malformed cursor starts at
// the first page.
func (s *Server) page(c *gin.Context) {
	job, ok := s.lookupJob(c)
	if !ok {
		return
	}
	stage, ok := s.lookupStage(c)
	if !ok {
		return
	}

	pages, err := s.store.Pages(c.Request.Context(), job.ID, stage)
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusConflict, "not_ready", "stage "+stage+" has no output yet ("+string(job.Status)+")")
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	raw := c.Query("cursor")
	page, err := pagination.Resume(pages, pagination.ParseFor(stage, raw))
	if err != nil {
		abort(c, http.StatusNotFound, "invalid_cursor", err.Error())
		return
	}
	page.Metrics.CursorRetryCount = s.tracker.Observe(job.ID+"/"+stage, raw)
	c.JSON(http.StatusOK, page)
}

// stream sends every page of a stage as a server-sent event once the stage
// has output, waiting for it when needed.
func (s *Server) stream(c *gin.Context) {
	stage, ok := s.lookupStage(c)
	if !ok {
		return
	}

	// Subscribe before reading the job and its pages so that a stage
	// finishing or the job failing in between arrives as an event.
	events, cancel := s.pipeline.Events().Subscribe(c.Param("id"))
	defer cancel()

	job, ok := s.lookupJob(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	pages, err := s.store.Pages(ctx, job.ID, stage)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if errors.Is(err, store.ErrNotFound) && job.Status != internal.JobQueued && job.Status != internal.JobRunning {
		abort(c, http.StatusConflict, "not_ready", "stage "+stage+" has no output ("+string(job.Status)+")")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	sent := 0
	c.Stream(func(w io.Writer) bool {
		if pages != nil {
			if sent < len(pages) {
				c.SSEvent("page", pages[sent])
				sent++
				return true
			}
			c.SSEvent("done", gin.H{"job_id": job.ID, "stage": stage, "pages": len(pages)})
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().UTC().Format(time.RFC3339)})
			return true
		case e := <-events:
			switch {
			case e.Type == pipeline.EventStageCompleted && e.Stage == stage:
				loaded, err := s.store.Pages(ctx, job.ID, stage)
				if err != nil {
					c.SSEvent("error", gin.H{"type": "internal_error", "message": err.Error()})
					return false
				}
				pages = loaded
				return true
			case e.Type == pipeline.EventJobFailed:
				c.SSEvent("error", gin.H{"type": "job_failed", "message": e.Error})
				return false
			case e.Terminal():
				c.SSEvent("error", gin.H{"type": "not_ready", "message": "stage " + stage + " did not run"})
				return false
			}
			return true
		}
	})
}

func (s *Server) lookupJob(c *gin.Context) (*internal.Job, bool) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusNotFound, "not_found", "job "+c.Param("id")+" not found")
		return nil, false
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "internal_error", err.Error())
		return nil, false
	}
	return job, true
}

func (s *Server) lookupStage(c *gin.Context) (string, bool) {
	stage := c.Param("stage")
	if !slices.Contains(s.pipeline.Stages(), stage) {
		abort(c, http.StatusNotFound, "not_found", "unknown stage "+stage)
		return "", false
	}
	return stage, true
}
