/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package metrics

import (
	"sort"
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
)

// Developers ranked in the first TopPerformers positions get a congratulatory greeting.
const TopPerformers = 5

// LowAvgPoints is the average below which a developer is reminded to estimate.
const LowAvgPoints = 0.1

type ScopeKind string

const (
	ScopeOrg        ScopeKind = "org"
	ScopeSquad      ScopeKind = "squad"
	ScopeIndividual ScopeKind = "individual"
)

// Scope selects whose aggregate rows a report is built from. Name is the squad
// name or account id; it is empty for the organisation.
type Scope struct {
	Kind ScopeKind
	Name string
}

func Org() Scope                        { return Scope{Kind: ScopeOrg} }
func Squad(name string) Scope           { return Scope{Kind: ScopeSquad, Name: name} }
func Individual(accountID string) Scope { return Scope{Kind: ScopeIndividual, Name: accountID} }

// Summary is one subject line of a performance report.
type Summary struct {
	Scope       Scope
	DisplayName string
	Email       *string
	IndexDate   time.Time
	AvgPoints   float64
	WeekBugs    int64
}

// Subject is the human label of the summary.
func (s Summary) Subject() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Scope.Name
}

func FromDevs(rows []domain.DevPerformance) []Summary {
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, Summary{
			Scope:       Individual(r.AccountID),
			DisplayName: r.DisplayName,
			Email:       r.Email,
			IndexDate:   r.IndexDate,
			AvgPoints:   r.AvgPoints,
			WeekBugs:    r.WeekBugs,
		})
	}
	return out
}

func FromSquads(rows []domain.SquadPerformance) []Summary {
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, Summary{Scope: Squad(r.Squad), IndexDate: r.IndexDate, AvgPoints: r.AvgPoints, WeekBugs: r.WeekBugs})
	}
	return out
}

func FromOrg(rows []domain.OrgPerformance) []Summary {
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, Summary{Scope: Org(), IndexDate: r.IndexDate, AvgPoints: r.AvgPoints, WeekBugs: r.WeekBugs})
	}
	return out
}

// ReferenceDate is midnight of the civil date of now in loc.
func ReferenceDate(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameDate compares civil dates, reading t in the location of ref.
func SameDate(t, ref time.Time) bool {
	y1, m1, d1 := t.In(ref.Location()).Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Rank sorts by AvgPoints descending. Equal averages keep their input order.
func Rank(rows []Summary) []Summary {
	out := make([]Summary, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AvgPoints > out[j].AvgPoints })
	return out
}

// Report keeps the rows dated ref and ranks them. Subjects without a row on
// ref are simply absent.
func Report(rows []Summary, ref time.Time) []Summary {
	kept := make([]Summary, 0, len(rows))
	for _, r := range rows {
		if SameDate(r.IndexDate, ref) {
			kept = append(kept, r)
		}
	}
	return Rank(kept)
}

// Highlight tells how a developer at zero-based position pos is addressed.
// The low-average hint only applies outside the top group.
func Highlight(pos int, avg float64) (top, lowHint bool) {
	if pos < TopPerformers {
		return true, false
	}
	return false, avg < LowAvgPoints
}
