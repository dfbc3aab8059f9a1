/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Open connects and pings the warehouse.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("repo: parse dsn: %w", err)
	}
	pcfg.MaxConns = 10
	pcfg.MinConns = 1
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.HealthCheckPeriod = time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("repo: connect: %w", err)
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repo: ping: %w", err)
	}
	return &DB{Pool: pool, log: log}, nil
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	loc *time.Location
	log zerolog.Logger
}

// NewRepository reads DATE columns as civil dates in loc.
func NewRepository(d *DB, loc *time.Location, log zerolog.Logger) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{db: d, loc: loc, log: log}
}

// TryLock takes a session advisory lock on a dedicated connection. The
// returned release unlocks and gives the connection back; it is nil when the
// lock was not taken.
func (r *Repository) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	conn, err := r.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		var unlocked bool
		err := conn.QueryRow(context.Background(), "SELECT pg_advisory_unlock($1)", key).Scan(&unlocked)
		if err == nil && !unlocked {
			err = errors.New("advisory unlock returned false")
		}
		if err != nil {
			r.log.Error().Err(err).Int64("key", key).Msg("repo: advisory unlock failed")
		}
		conn.Release()
	}
	return release, true, nil
}

func (r *Repository) StartRun(ctx context.Context, runID, kind string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO report_runs(run_id, kind, started_at, success) VALUES($1::uuid, $2, $3, false)`,
		runID, kind, at)
	return err
}

func (r *Repository) FinishRun(ctx context.Context, run domain.ReportRun) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE report_runs
		SET finished_at=$2, delivered=$3, skipped=$4, failed=$5, success=$6, error=NULLIF($7,'')
		WHERE run_id=$1::uuid`,
		run.RunID, run.FinishedAt, run.Delivered, run.Skipped, run.Failed, run.Success, run.Error)
	return err
}

// LastRun returns the most recently started run, or nil when none exists.
func (r *Repository) LastRun(ctx context.Context) (*domain.ReportRun, error) {
	var lr domain.ReportRun
	err := r.db.Pool.QueryRow(ctx, `
		SELECT run_id::text, kind, started_at, finished_at, delivered, skipped, failed, success, COALESCE(error,'')
		FROM report_runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&lr.RunID, &lr.Kind, &lr.StartedAt, &lr.FinishedAt, &lr.Delivered, &lr.Skipped, &lr.Failed, &lr.Success, &lr.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lr, nil
}
