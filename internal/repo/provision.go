package repo

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// resettable lists the fact tables dropped by a reset, children first.
var resettable = []string{"issues", "users", "sprints", "report_runs"}

// Provision creates missing tables. With reset the fact tables are dropped
// first; aggregate tables are owned by the batch job and never dropped.
func (r *Repository) Provision(ctx context.Context, reset bool) error {
	if reset {
		for _, t := range resettable {
			if _, err := r.db.Pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{t}.Sanitize()); err != nil {
				return fmt.Errorf("repo: drop %s: %w", t, err)
			}
			r.log.Warn().Str("table", t).Msg("repo: table dropped")
		}
	}
	if _, err := r.db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repo: apply schema: %w", err)
	}
	r.log.Info().Bool("reset", reset).Msg("repo: schema provisioned")
	return nil
}
