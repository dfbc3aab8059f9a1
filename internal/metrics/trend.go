/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package metrics

import (
	"errors"
	"math"
	"sort"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
)

// ErrInsufficientHistory means fewer than two rows exist for a comparison.
var ErrInsufficientHistory = errors.New("metrics: insufficient history for trend")

type TrendClass string

const (
	TrendIncreased        TrendClass = "increased"
	TrendDecreased        TrendClass = "decreased"
	TrendUnchanged        TrendClass = "unchanged"
	TrendIncreaseFromZero TrendClass = "increase_from_zero"
	TrendTwoCleanWeeks    TrendClass = "two_clean_weeks"
	TrendUnavailable      TrendClass = "unavailable"
)

// Trend is the week-over-week bug comparison of one scope.
type Trend struct {
	Class    TrendClass
	Previous int64
	Current  int64
	// Percent is set for increased and decreased, as a whole number.
	Percent float64
}

// Available is false when no comparison could be made.
func (t Trend) Available() bool { return t.Class != TrendUnavailable && t.Class != "" }

// Compare classifies a (previous, current) pair. Negative counts are read as zero.
func Compare(previous, current int64) Trend {
	if previous < 0 {
		previous = 0
	}
	if current < 0 {
		current = 0
	}
	t := Trend{Previous: previous, Current: current}
	switch {
	case previous > 0 && current > previous:
		t.Class = TrendIncreased
		t.Percent = wholePercent(float64(current)/float64(previous) - 1)
	case previous > 0 && current < previous:
		t.Class = TrendDecreased
		t.Percent = wholePercent(1 - float64(current)/float64(previous))
	case previous > 0:
		t.Class = TrendUnchanged
	case current > 0:
		t.Class = TrendIncreaseFromZero
	default:
		t.Class = TrendTwoCleanWeeks
	}
	return t
}

// wholePercent scales the ratio to a whole percent. Ties round to even:
// 0.625 is 62, not 63.
func wholePercent(ratio float64) float64 {
	return math.RoundToEven(ratio * 100)
}

// ClassifyTrend compares the two most recent rows of history. Rows may come
// in any order; they are ordered by IndexDate descending first.
func ClassifyTrend(history []domain.BugCount) (Trend, error) {
	if len(history) < 2 {
		return Trend{Class: TrendUnavailable}, ErrInsufficientHistory
	}
	rows := make([]domain.BugCount, len(history))
	copy(rows, history)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].IndexDate.After(rows[j].IndexDate) })
	return Compare(rows[1].WeekBugs, rows[0].WeekBugs), nil
}
