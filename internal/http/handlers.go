/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/lgomeza/jira-slack-pm/internal/services"
	"github.com/rs/zerolog"
)

type service interface {
	RunReport(ctx context.Context, kind string, week int) (services.RunResult, error)
	Ingest(ctx context.Context, target string) (services.RunResult, error)
	LastRun(ctx context.Context) (*domain.ReportRun, error)
}

type Handlers struct {
	cfg     config.Config
	log     zerolog.Logger
	svc     service
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service) *Handlers {
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Handlers{cfg: cfg, log: log, svc: svc, timeout: timeout}
}

// Wait blocks until every detached run has finished.
func (h *Handlers) Wait() { h.wg.Wait() }

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.svc.LastRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if lr == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs yet"})
		return
	}
	c.JSON(http.StatusOK, lr)
}

// RunReport validates the request and runs the report detached from it.
func (h *Handlers) RunReport(c *gin.Context) {
	kind := c.Param("kind")
	week := 1
	if w := c.Query("week"); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "week must be a number"})
			return
		}
		week = n
	}
	if err := services.ValidateReport(kind, week); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.detach(kind, func(ctx context.Context) (services.RunResult, error) {
		return h.svc.RunReport(ctx, kind, week)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "kind": kind})
}

func (h *Handlers) Ingest(c *gin.Context) {
	target := c.Param("target")
	if !slices.Contains(services.IngestTargets, target) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown ingest target " + strconv.Quote(target)})
		return
	}
	h.detach("ingest-"+target, func(ctx context.Context) (services.RunResult, error) {
		return h.svc.Ingest(ctx, target)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "target": target})
}

// detach runs fn in the background, bounded by the run timeout rather than
// the request lifetime.
func (h *Handlers) detach(kind string, fn func(ctx context.Context) (services.RunResult, error)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		res, err := fn(ctx)
		switch {
		case errors.Is(err, services.ErrRunInProgress):
			h.log.Warn().Str("kind", kind).Msg("http: run skipped, already in progress")
		case err != nil:
			h.log.Error().Err(err).Str("kind", kind).Str("run_id", res.RunID).Msg("http: run failed")
		}
	}()
}
