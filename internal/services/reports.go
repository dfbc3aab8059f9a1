package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/lgomeza/jira-slack-pm/internal/metrics"
	"github.com/lgomeza/jira-slack-pm/internal/notify"
	"github.com/lgomeza/jira-slack-pm/internal/staleness"
)

// Report kinds accepted by RunReport.
const (
	ReportDevs            = "devs"
	ReportSquads          = "squads"
	ReportOrg             = "org"
	ReportStale           = "stale"
	ReportReadyDev        = "ready-dev"
	ReportMissingMetadata = "missing-metadata"
)

var ReportKinds = []string{ReportDevs, ReportSquads, ReportOrg, ReportStale, ReportReadyDev, ReportMissingMetadata}

// bugDetailWindow bounds the production bugs listed in a squad report.
const bugDetailWindow = 14 * 24 * time.Hour

// missingPointsPrefilter widens the SQL window; the detector applies the exact cut.
const missingPointsPrefilter = 48 * time.Hour

func setupErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSetup, what, err)
}

// ValidateReport checks kind and week before any run starts.
func ValidateReport(kind string, week int) error {
	for _, k := range ReportKinds {
		if k == kind {
			if kind == ReportStale {
				if _, err := staleness.ParseWeek(week); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// RunReport executes one report kind end to end. week only applies to stale.
// Per-recipient failures are part of the summary, not the error.
func (s *Service) RunReport(ctx context.Context, kind string, week int) (RunResult, error) {
	if err := ValidateReport(kind, week); err != nil {
		return RunResult{Kind: kind}, err
	}
	return s.exclusive(ctx, kind, kind, func(ctx context.Context, res *RunResult) error {
		d := notify.NewDispatcher(s.messenger, s.cfg.DispatchWorkers, s.log)
		var err error
		switch kind {
		case ReportDevs:
			res.Summary, err = s.reportDevs(ctx, d)
		case ReportSquads:
			res.Summary, err = s.reportSquads(ctx, d)
		case ReportOrg:
			res.Summary, err = s.reportOrg(ctx, d)
		case ReportStale:
			res.Summary, err = s.reportStale(ctx, d, staleness.Week(week))
		case ReportReadyDev:
			res.Summary, err = s.reportReadyDev(ctx, d)
		case ReportMissingMetadata:
			res.Summary, err = s.reportMissingMetadata(ctx, d)
		}
		return err
	})
}

func (s *Service) reportDevs(ctx context.Context, d *notify.Dispatcher) (notify.Summary, error) {
	ref := metrics.ReferenceDate(s.now(), s.loc)
	rows, err := s.wh.DevPerformance(ctx, ref)
	if err != nil {
		return notify.Summary{Kind: notify.KindDevs}, setupErr("dev performance", err)
	}
	ranked := metrics.Report(metrics.FromDevs(rows), ref)
	msgs := make([]notify.Message, 0, len(ranked))
	for i, r := range ranked {
		top, low := metrics.Highlight(i, r.AvgPoints)
		text, err := s.composer.Dev(notify.DevReport{Name: r.Subject(), AvgPoints: r.AvgPoints, WeekBugs: r.WeekBugs, Top: top, LowHint: low})
		if err != nil {
			return notify.Summary{Kind: notify.KindDevs}, err
		}
		msgs = append(msgs, notify.Message{Recipient: notify.Email(s.devEmail(r)), Text: text})
	}
	return d.Dispatch(ctx, notify.KindDevs, msgs), nil
}

func (s *Service) devEmail(r metrics.Summary) string {
	if e, ok := s.cfg.Directory.Emails[r.Scope.Name]; ok && e != "" {
		return e
	}
	if r.Email != nil {
		return *r.Email
	}
	return ""
}

// trend classifies the latest two bug counts of scope; nil when unavailable.
func (s *Service) trend(ctx context.Context, scope metrics.Scope) (*metrics.Trend, error) {
	hist, err := s.wh.BugHistory(ctx, scope, 2)
	if err != nil {
		return nil, setupErr("bug history", err)
	}
	t, err := metrics.ClassifyTrend(hist)
	if errors.Is(err, metrics.ErrInsufficientHistory) {
		s.log.Info().Str("scope", string(scope.Kind)).Str("name", scope.Name).Msg("services: no trend, insufficient history")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) reportSquads(ctx context.Context, d *notify.Dispatcher) (notify.Summary, error) {
	empty := notify.Summary{Kind: notify.KindSquads}
	now := s.now()
	ref := metrics.ReferenceDate(now, s.loc)
	rows, err := s.wh.SquadPerformance(ctx, ref)
	if err != nil {
		return empty, setupErr("squad performance", err)
	}
	ranked := metrics.Report(metrics.FromSquads(rows), ref)
	msgs := make([]notify.Message, 0, len(ranked))
	for _, r := range ranked {
		squad := r.Scope.Name
		// A squad whose extras cannot be read still gets its headline numbers.
		tr, err := s.trend(ctx, r.Scope)
		if err != nil {
			s.log.Error().Err(err).Str("squad", squad).Msg("services: squad trend unavailable")
			tr = nil
		}
		var bugs []domain.BugDetail
		if r.WeekBugs > 0 {
			if bugs, err = s.wh.SquadBugDetail(ctx, squad, now.Add(-bugDetailWindow)); err != nil {
				s.log.Error().Err(err).Str("squad", squad).Msg("services: squad bug detail unavailable")
				bugs = nil
			}
		}
		text, err := s.composer.Squad(notify.SquadReport{Squad: squad, AvgPoints: r.AvgPoints, WeekBugs: r.WeekBugs, Trend: tr, Bugs: bugs})
		if err != nil {
			return empty, err
		}
		ch := s.cfg.Directory.Squads[squad]
		if ch == "" {
			s.log.Warn().Str("squad", squad).Msg("services: no channel configured for squad")
		}
		msgs = append(msgs, notify.Message{Recipient: notify.Channel(ch), Text: text})
	}
	return d.Dispatch(ctx, notify.KindSquads, msgs), nil
}

// orgFacts is the payload handed to the summarizer.
type orgFacts struct {
	AvgPoints float64         `json:"avg_points"`
	WeekBugs  int64           `json:"week_bugs"`
	Trend     *metrics.Trend  `json:"trend,omitempty"`
	Squads    []squadFactsRow `json:"squads,omitempty"`
}

type squadFactsRow struct {
	Squad     string  `json:"squad"`
	AvgPoints float64 `json:"avg_points"`
	WeekBugs  int64   `json:"week_bugs"`
}

func (s *Service) reportOrg(ctx context.Context, d *notify.Dispatcher) (notify.Summary, error) {
	empty := notify.Summary{Kind: notify.KindOrg}
	ref := metrics.ReferenceDate(s.now(), s.loc)
	rows, err := s.wh.OrgPerformance(ctx, ref)
	if err != nil {
		return empty, setupErr("org performance", err)
	}
	today := metrics.Report(metrics.FromOrg(rows), ref)
	if len(today) == 0 {
		s.log.Info().Time("ref", ref).Msg("services: no org row for reference date")
		return empty, nil
	}
	org := today[0]
	tr, err := s.trend(ctx, metrics.Org())
	if err != nil {
		return empty, err
	}
	report := notify.OrgReport{AvgPoints: org.AvgPoints, WeekBugs: org.WeekBugs, Trend: tr}
	if s.llm != nil && s.llm.Enabled() {
		report.Summary = s.summarize(ctx, ref, orgFacts{AvgPoints: org.AvgPoints, WeekBugs: org.WeekBugs, Trend: tr})
	}
	text, err := s.composer.Org(report)
	if err != nil {
		return empty, err
	}
	return d.Dispatch(ctx, notify.KindOrg, []notify.Message{{Recipient: notify.Channel(s.cfg.OrgChannel), Text: text}}), nil
}

// summarize never fails the report; without a summary the message is still sent.
func (s *Service) summarize(ctx context.Context, ref time.Time, facts orgFacts) string {
	if rows, err := s.wh.SquadPerformance(ctx, ref); err == nil {
		for _, r := range metrics.Report(metrics.FromSquads(rows), ref) {
			facts.Squads = append(facts.Squads, squadFactsRow{Squad: r.Scope.Name, AvgPoints: r.AvgPoints, WeekBugs: r.WeekBugs})
		}
	}
	out, err := s.llm.Summarize(ctx, facts)
	if err != nil {
		s.log.Warn().Err(err).Msg("services: org summary unavailable")
		return ""
	}
	return out
}

// findingMessages renders one message per recipient, in email order.
// continued lists recipients that already got a message this run.
func (s *Service) findingMessages(kind notify.Kind, byEmail map[string][]domain.Finding, continued map[string][]domain.Finding) ([]notify.Message, error) {
	emails := make([]string, 0, len(byEmail))
	for e := range byEmail {
		emails = append(emails, e)
	}
	sort.Strings(emails)
	msgs := make([]notify.Message, 0, len(emails))
	for _, e := range emails {
		_, cont := continued[e]
		text, err := s.composer.Findings(kind, byEmail[e], cont)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, notify.Message{Recipient: notify.Email(e), Text: text})
	}
	return msgs, nil
}

func (s *Service) reportStale(ctx context.Context, d *notify.Dispatcher, week staleness.Week) (notify.Summary, error) {
	now := s.now()
	empty := notify.Summary{Kind: notify.KindStaleDev}
	rows, err := s.wh.ActiveSprintSnapshots(ctx, now)
	if err != nil {
		return empty, setupErr("sprint snapshots", err)
	}
	emails, err := s.emails(ctx)
	if err != nil {
		return empty, err
	}
	devMsgs, err := s.findingMessages(notify.KindStaleDev, s.detector.Detect(rows, emails, now, staleness.KindDev, week), nil)
	if err != nil {
		return empty, err
	}
	qaMsgs, err := s.findingMessages(notify.KindStaleQA, s.detector.Detect(rows, emails, now, staleness.KindQA, week), nil)
	if err != nil {
		return empty, err
	}
	sum := d.Dispatch(ctx, notify.KindStaleDev, devMsgs)
	return sum.Merge(d.Dispatch(ctx, notify.KindStaleQA, qaMsgs)), nil
}

func (s *Service) reportReadyDev(ctx context.Context, d *notify.Dispatcher) (notify.Summary, error) {
	now := s.now()
	empty := notify.Summary{Kind: notify.KindReadyDev}
	rows, err := s.wh.ActiveSprintSnapshots(ctx, now)
	if err != nil {
		return empty, setupErr("sprint snapshots", err)
	}
	emails, err := s.emails(ctx)
	if err != nil {
		return empty, err
	}
	// READY ignores the sprint phase.
	msgs, err := s.findingMessages(notify.KindReadyDev, s.detector.Detect(rows, emails, now, staleness.KindReadyDev, staleness.Week1), nil)
	if err != nil {
		return empty, err
	}
	return d.Dispatch(ctx, notify.KindReadyDev, msgs), nil
}

func (s *Service) reportMissingMetadata(ctx context.Context, d *notify.Dispatcher) (notify.Summary, error) {
	now := s.now()
	empty := notify.Summary{Kind: notify.KindNoStoryPoints}
	emails, err := s.emails(ctx)
	if err != nil {
		return empty, err
	}
	unestimated, err := s.wh.CurrentIssues(ctx, domain.IssueQuery{UpdatedSince: now.Add(-missingPointsPrefilter), StoryPointsMissing: true}, now)
	if err != nil {
		return empty, setupErr("unestimated issues", err)
	}
	untested, err := s.wh.CurrentIssues(ctx, domain.IssueQuery{Stage: domain.StageQA, TesterMissing: true, ActiveSprintAt: now}, now)
	if err != nil {
		return empty, setupErr("qa issues without tester", err)
	}

	points := s.detector.MissingStoryPoints(unestimated, emails, now)
	pointMsgs, err := s.findingMessages(notify.KindNoStoryPoints, points, nil)
	if err != nil {
		return empty, err
	}
	testerMsgs, err := s.findingMessages(notify.KindQANoTester, s.detector.QANoTester(untested, emails, now), points)
	if err != nil {
		return empty, err
	}
	sum := d.Dispatch(ctx, notify.KindNoStoryPoints, pointMsgs)
	return sum.Merge(d.Dispatch(ctx, notify.KindQANoTester, testerMsgs)), nil
}
