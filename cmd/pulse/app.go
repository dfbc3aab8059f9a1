/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/adapters/jira"
	"github.com/lgomeza/jira-slack-pm/internal/adapters/openai"
	"github.com/lgomeza/jira-slack-pm/internal/adapters/slack"
	"github.com/lgomeza/jira-slack-pm/internal/adapters/telegram"
	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/lgomeza/jira-slack-pm/internal/logger"
	"github.com/lgomeza/jira-slack-pm/internal/notify"
	"github.com/lgomeza/jira-slack-pm/internal/repo"
	"github.com/lgomeza/jira-slack-pm/internal/services"
	"github.com/lgomeza/jira-slack-pm/internal/telemetry"
	"github.com/rs/zerolog"
)

var version = "dev"

// app holds what every command needs once configuration is valid.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	db       *repo.DB
	repo     *repo.Repository
	svc      *services.Service
	shutdown telemetry.Shutdown
}

// bootstrap loads config and opens the warehouse. Any failure is a setup
// failure. needTracker makes missing Jira settings fatal.
func bootstrap(ctx context.Context, needTracker bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrSetup, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrSetup, err)
	}
	log := logger.NewWithWriter(cfg, os.Stderr)

	var tracker services.Tracker
	if err := cfg.ValidateTracker(); err == nil {
		tracker = jira.NewClient(cfg, log)
	} else if needTracker {
		return nil, fmt.Errorf("%w: %v", services.ErrSetup, err)
	}

	shutdown, err := telemetry.Init(ctx, cfg, version, log)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry: disabled")
	}

	db, err := repo.Open(ctx, cfg, log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("%w: %v", services.ErrSetup, err)
	}
	r := repo.NewRepository(db, cfg.Location(), log)

	var llm services.Summarizer
	if oc := openai.NewClient(cfg, log); oc.Enabled() {
		llm = oc
	}
	svc, err := services.New(cfg, log, r, tracker, messenger(cfg, log), llm)
	if err != nil {
		db.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	return &app{cfg: cfg, log: log, db: db, repo: r, svc: svc, shutdown: shutdown}, nil
}

func messenger(cfg config.Config, log zerolog.Logger) notify.Messenger {
	if cfg.Messenger == "telegram" {
		return telegram.NewClient(cfg, log)
	}
	return slack.NewClient(cfg, log)
}

func (a *app) close() {
	a.db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("telemetry: shutdown failed")
	}
}
