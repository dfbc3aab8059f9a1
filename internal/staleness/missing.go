package staleness

import (
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
)

// updatedWindow bounds how recently an issue must have moved to be reported
// for missing story points.
const updatedWindow = 24

// MissingStoryPoints finds current issues without an estimate that moved in
// the last day, grouped by assignee email.
func (d *Detector) MissingStoryPoints(rows []domain.Snapshot, emails map[string]string, now time.Time) map[string][]domain.Finding {
	out := map[string][]domain.Finding{}
	for _, cur := range domain.CurrentSnapshots(rows) {
		if cur.StoryPoints != nil || cur.IssueType == domain.TypeError {
			continue
		}
		switch cur.Stage {
		case domain.StageBacklog, domain.StageReadyDev, domain.StageDone:
			continue
		}
		if int(now.Sub(cur.UpdatedAt)/time.Hour) > updatedWindow {
			continue
		}
		d.add(out, emails, cur, "no_story_points")
	}
	for email := range out {
		SortFindings(out[email])
	}
	return out
}

// QANoTester finds current QA issues of an active sprint with no tester,
// grouped by assignee email.
func (d *Detector) QANoTester(rows []domain.Snapshot, emails map[string]string, now time.Time) map[string][]domain.Finding {
	out := map[string][]domain.Finding{}
	for _, cur := range domain.CurrentSnapshots(rows) {
		if cur.Stage != domain.StageQA || cur.HasTester() {
			continue
		}
		if !cur.InActiveSprint() || cur.Sprint == nil || !cur.Sprint.ActiveAt(now) {
			continue
		}
		d.add(out, emails, cur, "qa_no_tester")
	}
	for email := range out {
		SortFindings(out[email])
	}
	return out
}

func (d *Detector) add(out map[string][]domain.Finding, emails map[string]string, cur domain.Snapshot, scan string) {
	email, ok := emails[cur.Assignee]
	if !ok {
		d.log.Warn().Str("issue", cur.IssueName).Str("account", cur.Assignee).Str("scan", scan).Msg("staleness: assignee has no email, skipping")
		return
	}
	out[email] = append(out[email], domain.Finding{IssueName: cur.IssueName, Summary: cur.Summary, Priority: cur.Priority})
}
