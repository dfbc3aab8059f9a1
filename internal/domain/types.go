/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import (
	"strings"
	"time"
)

// Workflow columns referenced by reports.
const (
	StageDev         = "ENV: DEV"
	StageQA          = "ENV: QA"
	StageReadyDev    = "Ready for Dev"
	StageBacklog     = "Backlog"
	StageDone        = "Done"
	SprintActive     = "active"
	AccountAtlassian = "atlassian"
	TypeError        = "Error"
	TypeBug          = "Bug"
)

// Issue is one ingested snapshot of a tracker issue.
type Issue struct {
	IssueID       string
	IssueName     string
	ProjectName   string
	Summary       string
	Stage         string
	Status        string
	Priority      string
	StoryPoints   *float64
	Creator       string
	Reporter      string
	Assignee      string
	Tester        *string
	IssueType     string
	SprintName    *string
	SprintStatus  *string
	SprintBoardID *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IndexDate     time.Time
}

// Key identifies the logical issue a snapshot belongs to.
func (i Issue) Key() IssueKey { return IssueKey{ID: i.IssueID, Name: i.IssueName} }

type IssueKey struct {
	ID   string
	Name string
}

// HasTester is false for a nil or blank tester.
func (i Issue) HasTester() bool { return i.Tester != nil && strings.TrimSpace(*i.Tester) != "" }

// InActiveSprint reports whether the tracker marked the issue's sprint active.
func (i Issue) InActiveSprint() bool {
	return i.SprintName != nil && i.SprintStatus != nil && *i.SprintStatus == SprintActive
}

type User struct {
	AccountID   string
	AccountType string
	Active      bool
	DisplayName string
	Email       *string
	IndexDate   time.Time
}

// IsTeamMember is true for accounts reports are computed for.
func (u User) IsTeamMember() bool { return u.AccountType == AccountAtlassian }

// EmailsByAccount maps account id to email using the newest row per account.
// Overrides win over tracker emails; accounts with neither are absent.
func EmailsByAccount(users []User, overrides map[string]string) map[string]string {
	latest := make(map[string]User, len(users))
	for _, u := range users {
		if cur, ok := latest[u.AccountID]; !ok || u.IndexDate.After(cur.IndexDate) {
			latest[u.AccountID] = u
		}
	}
	out := make(map[string]string, len(latest)+len(overrides))
	for id, u := range latest {
		if u.Email != nil && strings.TrimSpace(*u.Email) != "" {
			out[id] = strings.TrimSpace(*u.Email)
		}
	}
	for id, email := range overrides {
		if strings.TrimSpace(email) != "" {
			out[id] = strings.TrimSpace(email)
		}
	}
	return out
}

type Sprint struct {
	BoardID   int64
	Name      string
	State     string
	StartDate time.Time
	EndDate   time.Time
	IndexDate time.Time
}

// SprintKey identifies a sprint; names repeat across boards.
type SprintKey struct {
	BoardID int64
	Name    string
}

func (s Sprint) Key() SprintKey { return SprintKey{BoardID: s.BoardID, Name: s.Name} }

// ActiveAt is true when start <= t <= end.
func (s Sprint) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartDate) && !t.After(s.EndDate)
}

type Board struct {
	ID         int64
	Name       string
	Type       string
	ProjectKey string
}

// Snapshot is an issue row joined with the window of the sprint it names.
type Snapshot struct {
	Issue
	// Sprint is nil when the warehouse has no sprint row for the issue.
	Sprint *Sprint
}

// CurrentSnapshots keeps the row with the latest UpdatedAt per (issue_id, issue_name).
// Ties prefer the later IndexDate, then the earlier input position. Output
// preserves the input position of each chosen row.
func CurrentSnapshots(rows []Snapshot) []Snapshot {
	best := make(map[IssueKey]int, len(rows))
	for idx, r := range rows {
		k := r.Key()
		cur, ok := best[k]
		if !ok {
			best[k] = idx
			continue
		}
		c := rows[cur]
		if r.UpdatedAt.After(c.UpdatedAt) || (r.UpdatedAt.Equal(c.UpdatedAt) && r.IndexDate.After(c.IndexDate)) {
			best[k] = idx
		}
	}
	out := make([]Snapshot, 0, len(best))
	for idx, r := range rows {
		if best[r.Key()] == idx {
			out = append(out, r)
		}
	}
	return out
}

// DevPerformance is one weekly per-developer aggregate row.
type DevPerformance struct {
	IndexDate   time.Time
	AccountID   string
	DisplayName string
	Email       *string
	AvgPoints   float64
	WeekBugs    int64
}

// SquadPerformance is one weekly per-squad aggregate row.
type SquadPerformance struct {
	IndexDate time.Time
	Squad     string
	AvgPoints float64
	WeekBugs  int64
}

// OrgPerformance is one weekly organisation-wide aggregate row.
type OrgPerformance struct {
	IndexDate time.Time
	AvgPoints float64
	WeekBugs  int64
}

// BugCount is the bug metric of one aggregate row, used for trends.
type BugCount struct {
	IndexDate time.Time
	WeekBugs  int64
}

// BugDetail is a production bug listed under a squad report.
type BugDetail struct {
	IssueName     string
	Summary       string
	ProjectName   string
	AssigneeEmail string
}

// IssueQuery narrows CurrentIssues; zero values mean "no constraint".
type IssueQuery struct {
	UpdatedSince       time.Time
	Stage              string
	TesterMissing      bool
	StoryPointsMissing bool
	ActiveSprintAt     time.Time
}

// Finding is one flagged issue destined for a recipient's message.
type Finding struct {
	IssueName   string
	Summary     string
	Priority    string
	DaysInStage int
	SprintDays  int
}

// ReportRun is the audit row of one report or ingestion run.
type ReportRun struct {
	RunID      string     `json:"run_id"`
	Kind       string     `json:"kind"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Delivered  int        `json:"delivered"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}
