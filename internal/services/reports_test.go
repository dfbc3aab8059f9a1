package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/lgomeza/jira-slack-pm/internal/metrics"
	"github.com/lgomeza/jira-slack-pm/internal/notify"
	"github.com/lgomeza/jira-slack-pm/internal/staleness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bugs(prev, cur int64) []domain.BugCount {
	return []domain.BugCount{
		{IndexDate: today, WeekBugs: cur},
		{IndexDate: today.AddDate(0, 0, -7), WeekBugs: prev},
	}
}

func TestRunReport_SquadsSendsOneMessagePerSquad(t *testing.T) {
	wh := &fakeWarehouse{
		squads: []domain.SquadPerformance{
			{IndexDate: today, Squad: "Fury", AvgPoints: 2.5, WeekBugs: 3},
			{IndexDate: today, Squad: "Parker", AvgPoints: 1.1, WeekBugs: 0},
			{IndexDate: today.AddDate(0, 0, -7), Squad: "Fury", AvgPoints: 9, WeekBugs: 6},
		},
		history: map[metrics.Scope][]domain.BugCount{metrics.Squad("Fury"): bugs(6, 3)},
		bugDetail: map[string][]domain.BugDetail{
			"Fury": {{IssueName: "FURY-9", Summary: "Payments down", ProjectName: "Fury", AssigneeEmail: "ana@acme.io"}},
		},
	}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	res, err := s.RunReport(context.Background(), ReportSquads, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, m.total())
	assert.Equal(t, 2, res.Summary.Delivered())
	require.Len(t, m.sent["C-FURY"], 1)
	fury := m.sent["C-FURY"][0]
	assert.Contains(t, fury, "Total bugs this week: 3")
	assert.Contains(t, fury, "decreased by 50%")
	assert.Contains(t, fury, "FURY-9 - Payments down")
	require.Len(t, m.sent["C-PARKER"], 1)
	assert.NotContains(t, m.sent["C-PARKER"][0], "%")

	require.Len(t, wh.runs, 1)
	assert.True(t, wh.runs[0].Success)
	assert.Equal(t, 2, wh.runs[0].Delivered)
	assert.Equal(t, res.RunID, wh.runs[0].RunID)
}

func TestRunReport_SquadWithoutChannelIsSkipped(t *testing.T) {
	wh := &fakeWarehouse{squads: []domain.SquadPerformance{
		{IndexDate: today, Squad: "Robo", AvgPoints: 1, WeekBugs: 0},
		{IndexDate: today, Squad: "Fury", AvgPoints: 2, WeekBugs: 0},
	}}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	res, err := s.RunReport(context.Background(), ReportSquads, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Delivered())
	assert.Equal(t, 1, res.Summary.Count(notify.OutcomeSkippedNoRecipient))
}

func TestRunReport_SquadReadFailureKeepsOtherSquads(t *testing.T) {
	wh := &fakeWarehouse{
		squads: []domain.SquadPerformance{
			{IndexDate: today, Squad: "Fury", AvgPoints: 2.5, WeekBugs: 3},
			{IndexDate: today, Squad: "Parker", AvgPoints: 1.1, WeekBugs: 2},
		},
		history: map[metrics.Scope][]domain.BugCount{
			metrics.Squad("Fury"):   bugs(6, 3),
			metrics.Squad("Parker"): bugs(4, 2),
		},
		bugDetail: map[string][]domain.BugDetail{
			"Fury":   {{IssueName: "FURY-9", Summary: "Payments down"}},
			"Parker": {{IssueName: "PARK-1", Summary: "Login loop"}},
		},
		squadErr: map[string]error{"Fury": errors.New("statement timeout")},
	}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	res, err := s.RunReport(context.Background(), ReportSquads, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.Delivered())

	require.Len(t, m.sent["C-FURY"], 1)
	fury := m.sent["C-FURY"][0]
	assert.Contains(t, fury, "Total bugs this week: 3")
	assert.NotContains(t, fury, "decreased")
	assert.NotContains(t, fury, "FURY-9")

	require.Len(t, m.sent["C-PARKER"], 1)
	assert.Contains(t, m.sent["C-PARKER"][0], "decreased by 50%")
	assert.Contains(t, m.sent["C-PARKER"][0], "PARK-1 - Login loop")
}

func TestRunReport_OrgTrendLines(t *testing.T) {
	cases := []struct {
		name      string
		prev, cur int64
		want      string
	}{
		{"halved", 4, 2, "decreased by 50%"},
		{"clean", 0, 0, "two clean weeks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wh := &fakeWarehouse{
				org:     []domain.OrgPerformance{{IndexDate: today, AvgPoints: 1.25, WeekBugs: tc.cur}},
				history: map[metrics.Scope][]domain.BugCount{metrics.Org(): bugs(tc.prev, tc.cur)},
			}
			m := &fakeMessenger{}
			s := newTestService(t, testConfig(), wh, m, nil, nil)

			_, err := s.RunReport(context.Background(), ReportOrg, 0)
			require.NoError(t, err)
			require.Len(t, m.sent["C-ORG"], 1)
			text := m.sent["C-ORG"][0]
			assert.Contains(t, text, tc.want)
			assert.Contains(t, text, "1.25")
			if tc.prev == 0 && tc.cur == 0 {
				assert.NotContains(t, text, "%")
			}
		})
	}
}

func TestRunReport_OrgSummary(t *testing.T) {
	wh := &fakeWarehouse{
		org:    []domain.OrgPerformance{{IndexDate: today, AvgPoints: 1, WeekBugs: 1}},
		squads: []domain.SquadPerformance{{IndexDate: today, Squad: "Fury", AvgPoints: 2, WeekBugs: 1}},
	}
	m := &fakeMessenger{}
	llm := &fakeSummarizer{text: "Fury carried the week."}
	s := newTestService(t, testConfig(), wh, m, nil, llm)

	_, err := s.RunReport(context.Background(), ReportOrg, 0)
	require.NoError(t, err)
	assert.Contains(t, m.sent["C-ORG"][0], "Fury carried the week.")
	facts, ok := llm.facts.(orgFacts)
	require.True(t, ok)
	require.Len(t, facts.Squads, 1)
	assert.Nil(t, facts.Trend)

	llm.err = errors.New("quota")
	m.sent = nil
	_, err = s.RunReport(context.Background(), ReportOrg, 0)
	require.NoError(t, err)
	require.Len(t, m.sent["C-ORG"], 1)
	assert.NotContains(t, m.sent["C-ORG"][0], "Fury carried")
}

func TestRunReport_OrgWithoutTodayRowSendsNothing(t *testing.T) {
	wh := &fakeWarehouse{org: []domain.OrgPerformance{{IndexDate: today.AddDate(0, 0, -1), AvgPoints: 1}}}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	res, err := s.RunReport(context.Background(), ReportOrg, 0)
	require.NoError(t, err)
	assert.Zero(t, m.total())
	assert.Empty(t, res.Summary.Results)
}

func TestRunReport_DevsUnknownEmailSkipped(t *testing.T) {
	wh := &fakeWarehouse{devs: []domain.DevPerformance{
		{IndexDate: today, AccountID: "a1", DisplayName: "Ana", Email: ptr("ana@acme.io"), AvgPoints: 2},
		{IndexDate: today, AccountID: "a2", DisplayName: "Ghost", Email: ptr("ghost@x.com"), AvgPoints: 1},
		{IndexDate: today, AccountID: "a3", DisplayName: "Bo", Email: ptr("bo@acme.io"), AvgPoints: 0.05},
		{IndexDate: today, AccountID: "a4", DisplayName: "Nil", AvgPoints: 0.5},
	}}
	m := &fakeMessenger{unknown: map[string]bool{"ghost@x.com": true}}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	res, err := s.RunReport(context.Background(), ReportDevs, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.Delivered())
	assert.Equal(t, 2, res.Summary.Count(notify.OutcomeSkippedNoRecipient))
	assert.Len(t, m.sent["U:ana@acme.io"], 1)
	assert.Len(t, m.sent["U:bo@acme.io"], 1)
	assert.Contains(t, m.sent["U:ana@acme.io"][0], "top 5")
	assert.Empty(t, m.sent["U:ghost@x.com"])
}

func TestRunReport_DevsLowAverageHintOutsideTopFive(t *testing.T) {
	var rows []domain.DevPerformance
	for i, avg := range []float64{5, 4, 3, 2, 1, 0.05} {
		id := string(rune('a' + i))
		rows = append(rows, domain.DevPerformance{IndexDate: today, AccountID: id, Email: ptr(id + "@acme.io"), AvgPoints: avg})
	}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), &fakeWarehouse{devs: rows}, m, nil, nil)

	_, err := s.RunReport(context.Background(), ReportDevs, 0)
	require.NoError(t, err)
	last := m.sent["U:f@acme.io"]
	require.Len(t, last, 1)
	assert.Contains(t, last[0], "Remember to estimate")
	assert.NotContains(t, last[0], "top 5")
}

func TestRunReport_DirectoryEmailOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Directory.Emails = map[string]string{"a1": "ana@real.io"}
	wh := &fakeWarehouse{devs: []domain.DevPerformance{{IndexDate: today, AccountID: "a1", Email: ptr("ana@old.io"), AvgPoints: 1}}}
	m := &fakeMessenger{}
	s := newTestService(t, cfg, wh, m, nil, nil)

	_, err := s.RunReport(context.Background(), ReportDevs, 0)
	require.NoError(t, err)
	assert.Len(t, m.sent["U:ana@real.io"], 1)
}

func activeSprint() *domain.Sprint {
	return &domain.Sprint{BoardID: 1, Name: "S9", State: domain.SprintActive, StartDate: now.Add(-10 * day), EndDate: now.Add(4 * day)}
}

func snapshot(name, stage, assignee string, updatedAgo time.Duration) domain.Snapshot {
	return domain.Snapshot{
		Issue: domain.Issue{
			IssueID:       "id-" + name,
			IssueName:     name,
			Summary:       "summary of " + name,
			Stage:         stage,
			Priority:      "High",
			Assignee:      assignee,
			IssueType:     "Story",
			SprintName:    ptr("S9"),
			SprintStatus:  ptr(domain.SprintActive),
			SprintBoardID: ptr(int64(1)),
			UpdatedAt:     now.Add(-updatedAgo),
			IndexDate:     now.Add(-updatedAgo),
		},
		Sprint: activeSprint(),
	}
}

func teamUsers() []domain.User {
	return []domain.User{
		{AccountID: "dev-1", AccountType: "atlassian", Email: ptr("dev1@acme.io"), IndexDate: now},
		{AccountID: "dev-2", AccountType: "atlassian", Email: ptr("dev2@acme.io"), IndexDate: now},
		{AccountID: "qa-1", AccountType: "atlassian", Email: ptr("qa1@acme.io"), IndexDate: now},
	}
}

func TestRunReport_MissingMetadataKeysQAByAssignee(t *testing.T) {
	qaIssue := snapshot("PM-7", domain.StageQA, "dev-1", 2*day)
	unestimated := snapshot("PM-8", domain.StageDev, "dev-1", 2*time.Hour)
	wh := &fakeWarehouse{
		users: teamUsers(),
		current: func(q domain.IssueQuery) []domain.Snapshot {
			if q.StoryPointsMissing {
				return []domain.Snapshot{unestimated}
			}
			if q.Stage == domain.StageQA && q.TesterMissing {
				return []domain.Snapshot{qaIssue}
			}
			return nil
		},
	}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	res, err := s.RunReport(context.Background(), ReportMissingMetadata, 0)
	require.NoError(t, err)

	got := m.sent["U:dev1@acme.io"]
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "PM-8")
	assert.Contains(t, got[0], "without story points")
	assert.Contains(t, got[1], "PM-7")
	assert.True(t, strings.HasPrefix(got[1], "I also found"))
	assert.Empty(t, m.sent["U:qa1@acme.io"])
	assert.Equal(t, 2, res.Summary.Delivered())
}

func TestRunReport_StaleWeek2(t *testing.T) {
	wh := &fakeWarehouse{
		users: teamUsers(),
		snapshots: []domain.Snapshot{
			snapshot("PM-1", domain.StageDev, "dev-1", 5*day),
			snapshot("PM-1", domain.StageDev, "dev-1", time.Hour),
			snapshot("PM-2", domain.StageQA, "dev-2", 6*day),
		},
	}
	wh.snapshots[2].Tester = ptr("qa-1")
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	res, err := s.RunReport(context.Background(), ReportStale, 2)
	require.NoError(t, err)

	require.Len(t, m.sent["U:dev1@acme.io"], 1)
	assert.Contains(t, m.sent["U:dev1@acme.io"][0], "in DEV")
	require.Len(t, m.sent["U:qa1@acme.io"], 1)
	assert.Contains(t, m.sent["U:qa1@acme.io"][0], "in QA")
	assert.Empty(t, m.sent["U:dev2@acme.io"])
	assert.Equal(t, 2, res.Summary.Delivered())

	m.sent = nil
	_, err = s.RunReport(context.Background(), ReportStale, 1)
	require.NoError(t, err)
	assert.Zero(t, m.total())
}

func TestRunReport_ReadyDev(t *testing.T) {
	wh := &fakeWarehouse{
		users:     teamUsers(),
		snapshots: []domain.Snapshot{snapshot("PM-3", "ready for dev", "dev-2", 8*day)},
	}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	_, err := s.RunReport(context.Background(), ReportReadyDev, 0)
	require.NoError(t, err)
	require.Len(t, m.sent["U:dev2@acme.io"], 1)
	assert.Contains(t, m.sent["U:dev2@acme.io"][0], "Ready for Dev")
}

func TestRunReport_NoFindingsNoMessages(t *testing.T) {
	wh := &fakeWarehouse{users: teamUsers()}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	for _, kind := range []string{ReportReadyDev, ReportMissingMetadata} {
		_, err := s.RunReport(context.Background(), kind, 0)
		require.NoError(t, err)
	}
	_, err := s.RunReport(context.Background(), ReportStale, 1)
	require.NoError(t, err)
	assert.Zero(t, m.total())
}

func TestRunReport_Validation(t *testing.T) {
	s := newTestService(t, testConfig(), &fakeWarehouse{}, &fakeMessenger{}, nil, nil)

	_, err := s.RunReport(context.Background(), "weekly", 0)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = s.RunReport(context.Background(), ReportStale, 3)
	assert.True(t, errors.Is(err, staleness.ErrInvalidWeek))
}

func TestRunReport_LockHeld(t *testing.T) {
	wh := &fakeWarehouse{locked: true}
	s := newTestService(t, testConfig(), wh, &fakeMessenger{}, nil, nil)

	_, err := s.RunReport(context.Background(), ReportDevs, 0)
	assert.True(t, errors.Is(err, ErrRunInProgress))
	assert.Empty(t, wh.runs)
}

func TestRunReport_WarehouseFailureIsSetupError(t *testing.T) {
	wh := &fakeWarehouse{failWith: errors.New("connection refused")}
	m := &fakeMessenger{}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	_, err := s.RunReport(context.Background(), ReportSquads, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSetup))
	assert.Zero(t, m.total())
	require.Len(t, wh.runs, 1)
	assert.False(t, wh.runs[0].Success)
	assert.Contains(t, wh.runs[0].Error, "connection refused")

	last, err := s.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReportSquads, last.Kind)
}

func TestRunReport_DeliveryFailureIsNotAnError(t *testing.T) {
	wh := &fakeWarehouse{squads: []domain.SquadPerformance{
		{IndexDate: today, Squad: "Fury", AvgPoints: 2, WeekBugs: 0},
		{IndexDate: today, Squad: "Parker", AvgPoints: 1, WeekBugs: 0},
	}}
	m := &fakeMessenger{fail: map[string]bool{"C-FURY": true}}
	s := newTestService(t, testConfig(), wh, m, nil, nil)

	res, err := s.RunReport(context.Background(), ReportSquads, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Failed())
	assert.Equal(t, 1, res.Summary.Delivered())
	assert.True(t, wh.runs[0].Success)
	assert.Equal(t, 1, wh.runs[0].Failed)
}

func TestLockKeyIsPerKind(t *testing.T) {
	assert.Equal(t, lockKey(ReportDevs), lockKey(ReportDevs))
	assert.NotEqual(t, lockKey(ReportDevs), lockKey(ReportSquads))
}
