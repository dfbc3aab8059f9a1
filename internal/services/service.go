/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lgomeza/jira-slack-pm/internal/adapters/jira"
	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/lgomeza/jira-slack-pm/internal/metrics"
	"github.com/lgomeza/jira-slack-pm/internal/notify"
	"github.com/lgomeza/jira-slack-pm/internal/staleness"
	"github.com/rs/zerolog"
)

var (
	// ErrSetup marks failures that prevent a run from starting or reading its data.
	ErrSetup         = errors.New("services: setup failure")
	ErrUnknownKind   = errors.New("services: unknown kind")
	ErrRunInProgress = errors.New("services: run already in progress")
)

// Warehouse is the storage the services read reports from and ingest into.
type Warehouse interface {
	DevPerformance(ctx context.Context, date time.Time) ([]domain.DevPerformance, error)
	SquadPerformance(ctx context.Context, date time.Time) ([]domain.SquadPerformance, error)
	OrgPerformance(ctx context.Context, date time.Time) ([]domain.OrgPerformance, error)
	BugHistory(ctx context.Context, scope metrics.Scope, limit int) ([]domain.BugCount, error)
	SquadBugDetail(ctx context.Context, squad string, since time.Time) ([]domain.BugDetail, error)
	ActiveSprintSnapshots(ctx context.Context, now time.Time) ([]domain.Snapshot, error)
	CurrentIssues(ctx context.Context, q domain.IssueQuery, now time.Time) ([]domain.Snapshot, error)
	Users(ctx context.Context) ([]domain.User, error)
	KnownSprints(ctx context.Context) (map[domain.SprintKey]bool, error)

	AppendIssues(ctx context.Context, issues []domain.Issue) []error
	AppendUsers(ctx context.Context, users []domain.User) []error
	AppendSprints(ctx context.Context, sprints []domain.Sprint) []error

	TryLock(ctx context.Context, key int64) (func(), bool, error)
	StartRun(ctx context.Context, runID, kind string, at time.Time) error
	FinishRun(ctx context.Context, run domain.ReportRun) error
	LastRun(ctx context.Context) (*domain.ReportRun, error)
}

// Tracker is the issue tracker ingestion reads from.
type Tracker interface {
	Users(ctx context.Context) ([]jira.User, error)
	IssuesByUser(ctx context.Context, accountID string) ([]jira.RawIssue, error)
	Boards(ctx context.Context) ([]jira.Board, error)
	SprintsByBoard(ctx context.Context, boardID int64) ([]jira.Sprint, error)
}

// Summarizer writes the optional narrative of the org report.
type Summarizer interface {
	Enabled() bool
	Summarize(ctx context.Context, facts any) (string, error)
}

type Service struct {
	cfg       config.Config
	log       zerolog.Logger
	wh        Warehouse
	tracker   Tracker
	messenger notify.Messenger
	llm       Summarizer
	composer  *notify.Composer
	detector  *staleness.Detector
	norm      *jira.Normalizer
	loc       *time.Location
	now       func() time.Time
}

// New wires a Service. tracker and llm may be nil: reports then run without
// ingestion or the org summary.
func New(cfg config.Config, log zerolog.Logger, wh Warehouse, tracker Tracker, messenger notify.Messenger, llm Summarizer) (*Service, error) {
	composer, err := notify.NewComposer(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		wh:        wh,
		tracker:   tracker,
		messenger: messenger,
		llm:       llm,
		composer:  composer,
		detector:  staleness.NewDetector(log),
		norm:      jira.NewNormalizer(jira.FieldsFromConfig(cfg), log),
		loc:       cfg.Location(),
		now:       time.Now,
	}, nil
}

// LastRun returns the most recent audit row, nil when nothing ran yet.
func (s *Service) LastRun(ctx context.Context) (*domain.ReportRun, error) {
	return s.wh.LastRun(ctx)
}

// lockKey derives the advisory lock id of a run kind.
func lockKey(kind string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("jira-slack-pm:" + kind))
	return int64(h.Sum64())
}

// RunResult is what a finished run reports back to its caller.
type RunResult struct {
	RunID   string
	Kind    string
	Summary notify.Summary
	// Counts holds ingestion totals; empty for reports.
	Counts IngestCounts
}

// exclusive runs fn under the advisory lock named lock and records the run
// as kind.
func (s *Service) exclusive(ctx context.Context, kind, lock string, fn func(ctx context.Context, res *RunResult) error) (RunResult, error) {
	res := RunResult{RunID: uuid.NewString(), Kind: kind}
	release, ok, err := s.wh.TryLock(ctx, lockKey(lock))
	if err != nil {
		return res, fmt.Errorf("%w: lock %s: %v", ErrSetup, kind, err)
	}
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrRunInProgress, kind)
	}
	defer release()

	started := s.now()
	log := s.log.With().Str("run_id", res.RunID).Str("kind", kind).Logger()
	if err := s.wh.StartRun(ctx, res.RunID, kind, started); err != nil {
		log.Warn().Err(err).Msg("services: record run start failed")
	}
	log.Info().Msg("services: run started")

	runErr := fn(ctx, &res)

	finished := s.now()
	run := domain.ReportRun{
		RunID:      res.RunID,
		Kind:       kind,
		StartedAt:  started,
		FinishedAt: &finished,
		Success:    runErr == nil,
	}
	if strings.HasPrefix(kind, ingestPrefix) {
		run.Delivered, run.Skipped, run.Failed = res.Counts.Appended, res.Counts.Skipped, res.Counts.Rejected
	} else {
		run.Delivered, run.Skipped, run.Failed = res.Summary.Delivered(), res.Summary.Skipped(), res.Summary.Failed()
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// The run context may already be cancelled; the audit row still lands.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.wh.FinishRun(auditCtx, run); err != nil {
		log.Warn().Err(err).Msg("services: record run finish failed")
	}
	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Int("delivered", run.Delivered).Int("skipped", run.Skipped).Int("failed", run.Failed).
		Dur("took", finished.Sub(started)).Msg("services: run finished")
	return res, runErr
}

// emails maps every known account to its email, directory overrides first.
func (s *Service) emails(ctx context.Context) (map[string]string, error) {
	users, err := s.wh.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: users: %v", ErrSetup, err)
	}
	return domain.EmailsByAccount(users, s.cfg.Directory.Emails), nil
}
