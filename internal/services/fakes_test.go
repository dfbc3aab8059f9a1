package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/adapters/jira"
	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/lgomeza/jira-slack-pm/internal/metrics"
	"github.com/lgomeza/jira-slack-pm/internal/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// now is 10:00 on 2024-03-06 in the warehouse zone (UTC-5).
var now = time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

var loc = time.FixedZone("UTC-5", -5*3600)

// today is the reference date aggregate rows are keyed by.
var today = time.Date(2024, 3, 6, 0, 0, 0, 0, loc)

const day = 24 * time.Hour

func ptr[T any](v T) *T { return &v }

type fakeWarehouse struct {
	mu sync.Mutex

	devs      []domain.DevPerformance
	squads    []domain.SquadPerformance
	org       []domain.OrgPerformance
	history   map[metrics.Scope][]domain.BugCount
	bugDetail map[string][]domain.BugDetail
	snapshots []domain.Snapshot
	current   func(q domain.IssueQuery) []domain.Snapshot
	users     []domain.User
	known     map[domain.SprintKey]bool
	failWith  error
	// squadErr fails BugHistory and SquadBugDetail for one squad only.
	squadErr map[string]error

	locked bool
	runs   []domain.ReportRun

	appendedIssues  []domain.Issue
	appendedUsers   []domain.User
	appendedSprints []domain.Sprint
	rejectIssue     string
}

func (f *fakeWarehouse) DevPerformance(context.Context, time.Time) ([]domain.DevPerformance, error) {
	return f.devs, f.failWith
}

func (f *fakeWarehouse) SquadPerformance(context.Context, time.Time) ([]domain.SquadPerformance, error) {
	return f.squads, f.failWith
}

func (f *fakeWarehouse) OrgPerformance(context.Context, time.Time) ([]domain.OrgPerformance, error) {
	return f.org, f.failWith
}

func (f *fakeWarehouse) BugHistory(_ context.Context, scope metrics.Scope, limit int) ([]domain.BugCount, error) {
	if err := f.squadErr[scope.Name]; err != nil && scope.Kind == metrics.ScopeSquad {
		return nil, err
	}
	h := f.history[scope]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, f.failWith
}

func (f *fakeWarehouse) SquadBugDetail(_ context.Context, squad string, _ time.Time) ([]domain.BugDetail, error) {
	if err := f.squadErr[squad]; err != nil {
		return nil, err
	}
	return f.bugDetail[squad], f.failWith
}

func (f *fakeWarehouse) ActiveSprintSnapshots(context.Context, time.Time) ([]domain.Snapshot, error) {
	return f.snapshots, f.failWith
}

func (f *fakeWarehouse) CurrentIssues(_ context.Context, q domain.IssueQuery, _ time.Time) ([]domain.Snapshot, error) {
	if f.current == nil {
		return nil, f.failWith
	}
	return f.current(q), f.failWith
}

func (f *fakeWarehouse) Users(context.Context) ([]domain.User, error) { return f.users, f.failWith }

func (f *fakeWarehouse) KnownSprints(context.Context) (map[domain.SprintKey]bool, error) {
	return f.known, f.failWith
}

func (f *fakeWarehouse) AppendIssues(_ context.Context, issues []domain.Issue) []error {
	var errs []error
	for _, is := range issues {
		if is.IssueName == f.rejectIssue {
			errs = append(errs, errors.New("duplicate key"))
			continue
		}
		f.appendedIssues = append(f.appendedIssues, is)
	}
	return errs
}

func (f *fakeWarehouse) AppendUsers(_ context.Context, users []domain.User) []error {
	f.appendedUsers = append(f.appendedUsers, users...)
	return nil
}

func (f *fakeWarehouse) AppendSprints(_ context.Context, sprints []domain.Sprint) []error {
	f.appendedSprints = append(f.appendedSprints, sprints...)
	return nil
}

func (f *fakeWarehouse) TryLock(context.Context, int64) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return func() {}, false, nil
	}
	f.locked = true
	return func() {
		f.mu.Lock()
		f.locked = false
		f.mu.Unlock()
	}, true, nil
}

func (f *fakeWarehouse) StartRun(context.Context, string, string, time.Time) error { return nil }

func (f *fakeWarehouse) FinishRun(_ context.Context, run domain.ReportRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeWarehouse) LastRun(context.Context) (*domain.ReportRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return nil, nil
	}
	r := f.runs[len(f.runs)-1]
	return &r, nil
}

// fakeMessenger resolves every email except those in unknown and records
// delivered texts per handle.
type fakeMessenger struct {
	mu      sync.Mutex
	unknown map[string]bool
	fail    map[string]bool
	sent    map[string][]string
}

func (m *fakeMessenger) ResolveRecipient(_ context.Context, email string) (string, error) {
	if m.unknown[email] {
		return "", notify.ErrRecipientNotFound
	}
	return "U:" + email, nil
}

func (m *fakeMessenger) DeliverMessage(_ context.Context, handle, text string) error {
	if m.fail[handle] {
		return errors.New("channel_not_found")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = map[string][]string{}
	}
	m.sent[handle] = append(m.sent[handle], text)
	return nil
}

func (m *fakeMessenger) total() int {
	n := 0
	for _, texts := range m.sent {
		n += len(texts)
	}
	return n
}

type fakeTracker struct {
	users    []jira.User
	issues   map[string][]jira.RawIssue
	issueErr map[string]error
	boards   []jira.Board
	sprints  map[int64][]jira.Sprint
}

func (t *fakeTracker) Users(context.Context) ([]jira.User, error) { return t.users, nil }

func (t *fakeTracker) IssuesByUser(_ context.Context, id string) ([]jira.RawIssue, error) {
	return t.issues[id], t.issueErr[id]
}

func (t *fakeTracker) Boards(context.Context) ([]jira.Board, error) { return t.boards, nil }

func (t *fakeTracker) SprintsByBoard(_ context.Context, id int64) ([]jira.Sprint, error) {
	return t.sprints[id], nil
}

type fakeSummarizer struct {
	text  string
	err   error
	facts any
}

func (s *fakeSummarizer) Enabled() bool { return true }

func (s *fakeSummarizer) Summarize(_ context.Context, facts any) (string, error) {
	s.facts = facts
	return s.text, s.err
}

func testConfig() config.Config {
	return config.Config{
		Locale:                 "en",
		DispatchWorkers:        2,
		WarehouseTZOffsetHours: -5,
		OrgChannel:             "C-ORG",
		JiraTesterField:        "customfield_10050",
		JiraSprintField:        "customfield_10021",
		Directory: config.Directory{
			Squads: map[string]string{"Fury": "C-FURY", "Parker": "C-PARKER"},
		},
	}
}

func newTestService(t *testing.T, cfg config.Config, wh *fakeWarehouse, m *fakeMessenger, tr Tracker, llm Summarizer) *Service {
	t.Helper()
	s, err := New(cfg, zerolog.Nop(), wh, tr, m, llm)
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}
