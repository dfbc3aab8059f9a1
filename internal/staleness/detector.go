/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package staleness

import (
	"sort"
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/rs/zerolog"
)

const day = 24 * time.Hour

type Detector struct {
	log zerolog.Logger
}

func NewDetector(log zerolog.Logger) *Detector { return &Detector{log: log} }

// Detect flags issues that have sat in the kind's stage too long. rows hold
// every snapshot of the candidate issues; emails maps account id to email.
// The result maps recipient email to findings ordered by issue name.
func (d *Detector) Detect(rows []domain.Snapshot, emails map[string]string, now time.Time, k StageKind, w Week) map[string][]domain.Finding {
	history := map[domain.IssueKey][]domain.Snapshot{}
	for _, r := range rows {
		history[r.Key()] = append(history[r.Key()], r)
	}

	out := map[string][]domain.Finding{}
	for _, cur := range domain.CurrentSnapshots(rows) {
		if !k.Matches(cur.Stage) || excludedType(cur.IssueType) {
			continue
		}
		if !cur.InActiveSprint() || cur.Sprint == nil || !cur.Sprint.ActiveAt(now) {
			continue
		}
		since := stageEntered(history[cur.Key()], cur, k)
		days := WholeDays(now.Sub(since))
		sprintDays := SprintDays(*cur.Sprint, now)
		if !Flag(k, w, days, sprintDays) {
			continue
		}

		account := cur.Assignee
		if k == KindQA && cur.HasTester() {
			account = *cur.Tester
		}
		email, ok := emails[account]
		if !ok {
			d.log.Warn().Str("issue", cur.IssueName).Str("account", account).Str("stage", string(k)).Msg("staleness: no email for recipient, skipping")
			continue
		}
		out[email] = append(out[email], domain.Finding{
			IssueName:   cur.IssueName,
			Summary:     cur.Summary,
			Priority:    cur.Priority,
			DaysInStage: days,
			SprintDays:  sprintDays,
		})
	}
	for email := range out {
		SortFindings(out[email])
	}
	return out
}

// stageEntered walks back from the current snapshot and returns the earliest
// UpdatedAt of the unbroken run in the same stage and sprint.
func stageEntered(history []domain.Snapshot, cur domain.Snapshot, k StageKind) time.Time {
	older := make([]domain.Snapshot, 0, len(history))
	for _, h := range history {
		if !h.UpdatedAt.After(cur.UpdatedAt) {
			older = append(older, h)
		}
	}
	sort.SliceStable(older, func(i, j int) bool { return older[i].UpdatedAt.After(older[j].UpdatedAt) })

	since := cur.UpdatedAt
	for _, h := range older {
		if !k.Matches(h.Stage) || !sameSprint(h.Issue, cur.Issue) {
			break
		}
		if h.UpdatedAt.Before(since) {
			since = h.UpdatedAt
		}
	}
	return since
}

func sameSprint(a, b domain.Issue) bool {
	if a.SprintName == nil || b.SprintName == nil || *a.SprintName != *b.SprintName {
		return false
	}
	if a.SprintBoardID != nil && b.SprintBoardID != nil {
		return *a.SprintBoardID == *b.SprintBoardID
	}
	return true
}

func excludedType(t string) bool { return t == domain.TypeError || t == domain.TypeBug }

// WholeDays truncates toward zero.
func WholeDays(d time.Duration) int { return int(d / day) }

// SprintDays counts whole days since the sprint started, 0 before it starts.
func SprintDays(s domain.Sprint, now time.Time) int {
	if now.Before(s.StartDate) {
		return 0
	}
	return WholeDays(now.Sub(s.StartDate))
}

// SortFindings orders by issue name, keeping input order on ties.
func SortFindings(f []domain.Finding) {
	sort.SliceStable(f, func(i, j int) bool { return f[i].IssueName < f[j].IssueName })
}
