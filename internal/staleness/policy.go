/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package staleness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
)

var ErrInvalidWeek = errors.New("staleness: week must be 1 or 2")

// StageKind is a workflow stage the detector watches.
type StageKind string

const (
	KindDev      StageKind = "DEV"
	KindQA       StageKind = "QA"
	KindReadyDev StageKind = "READY_FOR_DEV"
)

// Week is the sprint phase a staleness run checks: 1 early, 2 late.
type Week int

const (
	Week1 Week = 1
	Week2 Week = 2
)

// sprintHalf separates early-sprint from late-sprint checks.
const sprintHalf = 7

func ParseWeek(n int) (Week, error) {
	switch Week(n) {
	case Week1, Week2:
		return Week(n), nil
	}
	return 0, fmt.Errorf("%w (got %d)", ErrInvalidWeek, n)
}

// Stage is the workflow column name the kind corresponds to.
func (k StageKind) Stage() string {
	switch k {
	case KindDev:
		return domain.StageDev
	case KindQA:
		return domain.StageQA
	case KindReadyDev:
		return domain.StageReadyDev
	}
	return ""
}

// Matches compares stage names case-insensitively.
func (k StageKind) Matches(stage string) bool {
	want := k.Stage()
	return want != "" && strings.EqualFold(strings.TrimSpace(stage), want)
}

// Candidate is the pre-filter applied before the week policy. DEV and QA need
// more than 3 days, so week 2 never flags an issue at exactly 3.
func (k StageKind) Candidate(daysInStage int) bool {
	if k == KindReadyDev {
		return daysInStage >= 7
	}
	return daysInStage > 3
}

// Flag applies the week policy. READY_FOR_DEV ignores the week.
func Flag(k StageKind, w Week, daysInStage, sprintDays int) bool {
	if !k.Candidate(daysInStage) {
		return false
	}
	if k == KindReadyDev {
		return true
	}
	switch w {
	case Week1:
		return daysInStage == 4 && sprintDays <= sprintHalf
	case Week2:
		return daysInStage > 3 && sprintDays > sprintHalf
	}
	return false
}
