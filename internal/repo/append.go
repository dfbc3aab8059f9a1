/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lgomeza/jira-slack-pm/internal/domain"
)

// Record is one flat row handed to Append.
type Record map[string]any

// appendable is the allow-list of tables and columns Append may write.
var appendable = map[string]map[string]bool{
	"issues": set("issue_id", "issue_name", "project_name", "issue_summary", "stage", "status", "priority",
		"story_points", "creator", "reporter", "assignee", "tester", "issue_type",
		"sprint_name", "sprint_status", "sprint_board_id", "created_at", "updated_at", "index_date"),
	"users":   set("account_id", "account_type", "active", "display_name", "email", "index_date"),
	"sprints": set("board_id", "name", "state", "start_date", "end_date", "index_date"),
}

func set(cols ...string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// RowError ties an insert failure to the record index it came from.
type RowError struct {
	Index int
	Err   error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Index, e.Err) }
func (e *RowError) Unwrap() error { return e.Err }

// Append inserts records as new rows and never updates existing ones. It
// returns one error per rejected record; nil means every row landed. Good
// rows land even when others in the same call are rejected.
func (r *Repository) Append(ctx context.Context, table string, records []Record) []error {
	cols, ok := appendable[table]
	if !ok {
		return []error{fmt.Errorf("repo: table %q is not appendable", table)}
	}
	var errs []error
	var stmts []insert
	for idx, rec := range records {
		q, args, err := insertSQL(table, cols, rec)
		if err != nil {
			errs = append(errs, &RowError{Index: idx, Err: err})
			continue
		}
		stmts = append(stmts, insert{index: idx, sql: q, args: args})
	}
	if len(stmts) == 0 {
		return errs
	}
	err := r.appendBatch(ctx, stmts)
	switch {
	case err == nil:
		return errs
	case ctx.Err() != nil:
		for _, st := range stmts {
			errs = append(errs, &RowError{Index: st.index, Err: ctx.Err()})
		}
		return sortRowErrors(errs)
	}
	// The batch is one transaction and nothing from it persisted; replay
	// each row on its own so only the offending ones are rejected.
	r.log.Debug().Err(err).Str("table", table).Int("rows", len(stmts)).Msg("repo: batch rejected, appending row by row")
	for _, st := range stmts {
		if _, err := r.db.Pool.Exec(ctx, st.sql, st.args...); err != nil {
			errs = append(errs, &RowError{Index: st.index, Err: err})
		}
	}
	return sortRowErrors(errs)
}

type insert struct {
	index int
	sql   string
	args  []any
}

// appendBatch sends every insert in one transaction: all rows land or none.
func (r *Repository) appendBatch(ctx context.Context, stmts []insert) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, st := range stmts {
		batch.Queue(st.sql, st.args...)
	}
	br := tx.SendBatch(ctx, batch)
	for range stmts {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func sortRowErrors(errs []error) []error {
	sort.SliceStable(errs, func(i, j int) bool {
		var a, b *RowError
		if !errors.As(errs[i], &a) || !errors.As(errs[j], &b) {
			return false
		}
		return a.Index < b.Index
	})
	return errs
}

// insertSQL builds a single-row insert with columns in sorted order.
func insertSQL(table string, allowed map[string]bool, rec Record) (string, []any, error) {
	if len(rec) == 0 {
		return "", nil, fmt.Errorf("empty record")
	}
	names := make([]string, 0, len(rec))
	for k := range rec {
		if !allowed[k] {
			return "", nil, fmt.Errorf("unknown column %q for %s", k, table)
		}
		names = append(names, k)
	}
	sort.Strings(names)
	quoted := make([]string, len(names))
	holders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		quoted[i] = pgx.Identifier{n}.Sanitize()
		holders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = rec[n]
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "), strings.Join(holders, ", "))
	return q, args, nil
}

func IssueRecord(i domain.Issue) Record {
	return Record{
		"issue_id":        i.IssueID,
		"issue_name":      i.IssueName,
		"project_name":    i.ProjectName,
		"issue_summary":   i.Summary,
		"stage":           i.Stage,
		"status":          i.Status,
		"priority":        i.Priority,
		"story_points":    i.StoryPoints,
		"creator":         i.Creator,
		"reporter":        i.Reporter,
		"assignee":        i.Assignee,
		"tester":          i.Tester,
		"issue_type":      i.IssueType,
		"sprint_name":     i.SprintName,
		"sprint_status":   i.SprintStatus,
		"sprint_board_id": i.SprintBoardID,
		"created_at":      i.CreatedAt,
		"updated_at":      i.UpdatedAt,
		"index_date":      i.IndexDate,
	}
}

func UserRecord(u domain.User) Record {
	return Record{
		"account_id":   u.AccountID,
		"account_type": u.AccountType,
		"active":       u.Active,
		"display_name": u.DisplayName,
		"email":        u.Email,
		"index_date":   u.IndexDate,
	}
}

func SprintRecord(s domain.Sprint) Record {
	return Record{
		"board_id":   s.BoardID,
		"name":       s.Name,
		"state":      s.State,
		"start_date": s.StartDate,
		"end_date":   s.EndDate,
		"index_date": s.IndexDate,
	}
}

func (r *Repository) AppendIssues(ctx context.Context, issues []domain.Issue) []error {
	recs := make([]Record, len(issues))
	for i, is := range issues {
		recs[i] = IssueRecord(is)
	}
	return r.Append(ctx, "issues", recs)
}

func (r *Repository) AppendUsers(ctx context.Context, users []domain.User) []error {
	recs := make([]Record, len(users))
	for i, u := range users {
		recs[i] = UserRecord(u)
	}
	return r.Append(ctx, "users", recs)
}

func (r *Repository) AppendSprints(ctx context.Context, sprints []domain.Sprint) []error {
	recs := make([]Record, len(sprints))
	for i, s := range sprints {
		recs[i] = SprintRecord(s)
	}
	return r.Append(ctx, "sprints", recs)
}
