/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/lgomeza/jira-slack-pm/internal/metrics"
)

const dateLayout = "2006-01-02"

// civil turns a DATE scanned as UTC midnight into the same date in r.loc.
func (r *Repository) civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

func (r *Repository) DevPerformance(ctx context.Context, date time.Time) ([]domain.DevPerformance, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT index_date, account_id, display_name, email, avg_points, week_bugs
		FROM weekly_dev_performance
		WHERE index_date = $1::date
		ORDER BY avg_points DESC`, date.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DevPerformance
	for rows.Next() {
		var p domain.DevPerformance
		if err := rows.Scan(&p.IndexDate, &p.AccountID, &p.DisplayName, &p.Email, &p.AvgPoints, &p.WeekBugs); err != nil {
			return nil, err
		}
		p.IndexDate = r.civil(p.IndexDate)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) SquadPerformance(ctx context.Context, date time.Time) ([]domain.SquadPerformance, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT index_date, project_name, avg_points, week_bugs
		FROM weekly_squad_performance
		WHERE index_date = $1::date
		ORDER BY avg_points DESC`, date.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SquadPerformance
	for rows.Next() {
		var p domain.SquadPerformance
		if err := rows.Scan(&p.IndexDate, &p.Squad, &p.AvgPoints, &p.WeekBugs); err != nil {
			return nil, err
		}
		p.IndexDate = r.civil(p.IndexDate)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) OrgPerformance(ctx context.Context, date time.Time) ([]domain.OrgPerformance, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT index_date, avg_points, week_bugs
		FROM weekly_org_performance
		WHERE index_date = $1::date
		ORDER BY avg_points DESC`, date.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OrgPerformance
	for rows.Next() {
		var p domain.OrgPerformance
		if err := rows.Scan(&p.IndexDate, &p.AvgPoints, &p.WeekBugs); err != nil {
			return nil, err
		}
		p.IndexDate = r.civil(p.IndexDate)
		out = append(out, p)
	}
	return out, rows.Err()
}

// BugHistory returns up to limit aggregate rows of scope, newest first.
func (r *Repository) BugHistory(ctx context.Context, scope metrics.Scope, limit int) ([]domain.BugCount, error) {
	var (
		q    string
		args []any
	)
	switch scope.Kind {
	case metrics.ScopeOrg:
		q = `SELECT index_date, week_bugs FROM weekly_org_performance ORDER BY index_date DESC LIMIT $1`
		args = []any{limit}
	case metrics.ScopeSquad:
		q = `SELECT index_date, week_bugs FROM weekly_squad_performance WHERE project_name = $1 ORDER BY index_date DESC LIMIT $2`
		args = []any{scope.Name, limit}
	case metrics.ScopeIndividual:
		q = `SELECT index_date, week_bugs FROM weekly_dev_performance WHERE account_id = $1 ORDER BY index_date DESC LIMIT $2`
		args = []any{scope.Name, limit}
	default:
		return nil, fmt.Errorf("repo: unknown scope %q", scope.Kind)
	}
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BugCount
	for rows.Next() {
		var b domain.BugCount
		if err := rows.Scan(&b.IndexDate, &b.WeekBugs); err != nil {
			return nil, err
		}
		b.IndexDate = r.civil(b.IndexDate)
		out = append(out, b)
	}
	return out, rows.Err()
}

// currentCTE selects the current snapshot per (issue_id, issue_name).
const currentCTE = `cur AS (
	SELECT DISTINCT ON (issue_id, issue_name) *
	FROM issues
	ORDER BY issue_id, issue_name, updated_at DESC, index_date DESC
)`

// SquadBugDetail lists current production bugs of squad created since since.
func (r *Repository) SquadBugDetail(ctx context.Context, squad string, since time.Time) ([]domain.BugDetail, error) {
	rows, err := r.db.Pool.Query(ctx, `
		WITH `+currentCTE+`
		SELECT cur.issue_name, cur.issue_summary, cur.project_name, COALESCE(u.email, '')
		FROM cur
		LEFT JOIN LATERAL (
			SELECT email FROM users WHERE users.account_id = cur.assignee ORDER BY index_date DESC LIMIT 1
		) u ON true
		WHERE cur.issue_type = $1
		  AND cur.project_name <> $2
		  AND cur.project_name = $3
		  AND cur.created_at >= $4
		ORDER BY cur.issue_name`,
		domain.TypeError, excludedBugProject, squad, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BugDetail
	for rows.Next() {
		var b domain.BugDetail
		if err := rows.Scan(&b.IssueName, &b.Summary, &b.ProjectName, &b.AssigneeEmail); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// excludedBugProject never appears in production bug listings.
const excludedBugProject = "Support"

const snapshotColumns = `i.issue_id, i.issue_name, i.project_name, i.issue_summary, i.stage, i.status, i.priority,
	i.story_points::float8, i.creator, i.reporter, i.assignee, i.tester, i.issue_type,
	i.sprint_name, i.sprint_status, i.sprint_board_id, i.created_at, i.updated_at, i.index_date,
	s.board_id, s.name, s.state, s.start_date, s.end_date, s.index_date`

// sprintJoin attaches the sprint row an issue names. Rows without a board id
// match by name alone and prefer the window that contains $1.
const sprintJoin = `LEFT JOIN LATERAL (
	SELECT * FROM sprints s
	WHERE s.name = i.sprint_name AND s.board_id = COALESCE(i.sprint_board_id, s.board_id)
	ORDER BY (s.start_date <= $1 AND s.end_date >= $1) DESC, s.index_date DESC
	LIMIT 1
) s ON true`

// ActiveSprintSnapshots returns every snapshot of the issues whose current
// snapshot is marked active in a sprint, oldest first per issue.
func (r *Repository) ActiveSprintSnapshots(ctx context.Context, now time.Time) ([]domain.Snapshot, error) {
	q := `
		WITH ` + currentCTE + `
		SELECT ` + snapshotColumns + `
		FROM issues i
		JOIN cur ON cur.issue_id = i.issue_id AND cur.issue_name = i.issue_name
		` + sprintJoin + `
		WHERE cur.sprint_status = $2 AND cur.sprint_name IS NOT NULL
		ORDER BY i.issue_id, i.issue_name, i.updated_at, i.index_date`
	return r.snapshots(ctx, q, now, domain.SprintActive)
}

// CurrentIssues returns current snapshots matching q.
func (r *Repository) CurrentIssues(ctx context.Context, q domain.IssueQuery, now time.Time) ([]domain.Snapshot, error) {
	sql, args := buildCurrentIssues(q, now)
	return r.snapshots(ctx, sql, args...)
}

// buildCurrentIssues renders the query for q; every value is bound.
func buildCurrentIssues(q domain.IssueQuery, now time.Time) (string, []any) {
	args := []any{now}
	var where []string
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !q.UpdatedSince.IsZero() {
		where = append(where, "i.updated_at >= "+bind(q.UpdatedSince))
	}
	if q.Stage != "" {
		where = append(where, "i.stage = "+bind(q.Stage))
	}
	if q.TesterMissing {
		where = append(where, "(i.tester IS NULL OR btrim(i.tester) = '')")
	}
	if q.StoryPointsMissing {
		where = append(where, "i.story_points IS NULL")
	}
	if !q.ActiveSprintAt.IsZero() {
		at := bind(q.ActiveSprintAt)
		where = append(where,
			"i.sprint_status = "+bind(domain.SprintActive),
			"s.start_date <= "+at,
			"s.end_date >= "+at)
	}
	sql := `
		WITH ` + currentCTE + `
		SELECT ` + snapshotColumns + `
		FROM cur i
		` + sprintJoin
	if len(where) > 0 {
		sql += "\n\t\tWHERE " + strings.Join(where, "\n\t\t  AND ")
	}
	sql += "\n\t\tORDER BY i.issue_name"
	return sql, args
}

func (r *Repository) snapshots(ctx context.Context, q string, args ...any) ([]domain.Snapshot, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Snapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func scanSnapshot(rows pgx.Rows) (domain.Snapshot, error) {
	var (
		sn      domain.Snapshot
		boardID *int64
		name    *string
		state   *string
		start   *time.Time
		end     *time.Time
		indexed *time.Time
	)
	i := &sn.Issue
	err := rows.Scan(&i.IssueID, &i.IssueName, &i.ProjectName, &i.Summary, &i.Stage, &i.Status, &i.Priority,
		&i.StoryPoints, &i.Creator, &i.Reporter, &i.Assignee, &i.Tester, &i.IssueType,
		&i.SprintName, &i.SprintStatus, &i.SprintBoardID, &i.CreatedAt, &i.UpdatedAt, &i.IndexDate,
		&boardID, &name, &state, &start, &end, &indexed)
	if err != nil {
		return sn, err
	}
	if boardID != nil && name != nil && start != nil && end != nil {
		sn.Sprint = &domain.Sprint{BoardID: *boardID, Name: *name, StartDate: *start, EndDate: *end}
		if state != nil {
			sn.Sprint.State = *state
		}
		if indexed != nil {
			sn.Sprint.IndexDate = *indexed
		}
	}
	return sn, nil
}

// Users returns the newest row per account.
func (r *Repository) Users(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT DISTINCT ON (account_id) account_id, account_type, active, display_name, email, index_date
		FROM users
		ORDER BY account_id, index_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.AccountID, &u.AccountType, &u.Active, &u.DisplayName, &u.Email, &u.IndexDate); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// KnownSprints returns the keys of stored sprints.
func (r *Repository) KnownSprints(ctx context.Context) (map[domain.SprintKey]bool, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT board_id, name FROM sprints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.SprintKey]bool{}
	for rows.Next() {
		var k domain.SprintKey
		if err := rows.Scan(&k.BoardID, &k.Name); err != nil {
			return nil, err
		}
		out[k] = true
	}
	return out, rows.Err()
}
