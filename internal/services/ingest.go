package services

import (
	"context"
	"fmt"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
)

// Ingestion targets accepted by Ingest.
const (
	IngestUsersTarget   = "users"
	IngestIssuesTarget  = "issues"
	IngestSprintsTarget = "sprints"
	IngestAllTarget     = "all"

	ingestPrefix = "ingest-"
)

var IngestTargets = []string{IngestUsersTarget, IngestIssuesTarget, IngestSprintsTarget, IngestAllTarget}

// IngestCounts totals one ingestion run. Rejected rows failed to append.
type IngestCounts struct {
	Fetched  int `json:"fetched"`
	Appended int `json:"appended"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

func (c IngestCounts) add(o IngestCounts) IngestCounts {
	return IngestCounts{
		Fetched:  c.Fetched + o.Fetched,
		Appended: c.Appended + o.Appended,
		Skipped:  c.Skipped + o.Skipped,
		Rejected: c.Rejected + o.Rejected,
	}
}

// Ingest copies tracker data into the warehouse. all runs users, issues and
// sprints in that order and stops at the first failing step.
func (s *Service) Ingest(ctx context.Context, target string) (RunResult, error) {
	steps := map[string][]func(context.Context) (IngestCounts, error){
		IngestUsersTarget:   {s.IngestUsers},
		IngestIssuesTarget:  {s.IngestIssues},
		IngestSprintsTarget: {s.IngestSprints},
		IngestAllTarget:     {s.IngestUsers, s.IngestIssues, s.IngestSprints},
	}[target]
	if steps == nil {
		return RunResult{Kind: ingestPrefix + target}, fmt.Errorf("%w: ingest %q", ErrUnknownKind, target)
	}
	if s.tracker == nil {
		return RunResult{Kind: ingestPrefix + target}, fmt.Errorf("%w: no tracker configured", ErrSetup)
	}
	// Every target shares one lock: two ingestions never interleave appends.
	return s.exclusive(ctx, ingestPrefix+target, ingestPrefix+IngestAllTarget, func(ctx context.Context, res *RunResult) error {
		for _, step := range steps {
			c, err := step(ctx)
			res.Counts = res.Counts.add(c)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// teamMembers fetches active atlassian accounts from the tracker. Directory
// emails replace tracker emails.
func (s *Service) teamMembers(ctx context.Context) ([]domain.User, int, error) {
	raw, err := s.tracker.Users(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: tracker users: %v", ErrSetup, err)
	}
	now := s.now()
	out := make([]domain.User, 0, len(raw))
	for _, u := range raw {
		du := s.norm.User(u, now)
		if !du.IsTeamMember() || !du.Active {
			continue
		}
		if e := s.cfg.Directory.Emails[du.AccountID]; e != "" {
			du.Email = &e
		}
		out = append(out, du)
	}
	return out, len(raw), nil
}

// rejected logs append errors and returns their count.
func (s *Service) rejected(table string, errs []error) int {
	for _, err := range errs {
		s.log.Error().Err(err).Str("table", table).Msg("services: append rejected")
	}
	return len(errs)
}

func (s *Service) IngestUsers(ctx context.Context) (IngestCounts, error) {
	users, fetched, err := s.teamMembers(ctx)
	c := IngestCounts{Fetched: fetched}
	if err != nil {
		return c, err
	}
	c.Skipped = fetched - len(users)
	c.Rejected = s.rejected("users", s.wh.AppendUsers(ctx, users))
	c.Appended = len(users) - c.Rejected
	s.log.Info().Int("fetched", c.Fetched).Int("appended", c.Appended).Msg("services: users ingested")
	return c, nil
}

// IngestIssues appends a snapshot of every issue assigned to a team member.
// A failing member is logged and skipped.
func (s *Service) IngestIssues(ctx context.Context) (IngestCounts, error) {
	users, _, err := s.teamMembers(ctx)
	if err != nil {
		return IngestCounts{}, err
	}
	now := s.now()
	var c IngestCounts
	var issues []domain.Issue
	for _, u := range users {
		raws, err := s.tracker.IssuesByUser(ctx, u.AccountID)
		if err != nil {
			if ctx.Err() != nil {
				return c, ctx.Err()
			}
			s.log.Error().Err(err).Str("account", u.AccountID).Msg("services: issues fetch failed")
			c.Skipped++
			continue
		}
		for _, raw := range raws {
			issues = append(issues, s.norm.Issue(raw, u.AccountID, now))
		}
	}
	c.Fetched = len(issues)
	c.Rejected = s.rejected("issues", s.wh.AppendIssues(ctx, issues))
	c.Appended = len(issues) - c.Rejected
	s.log.Info().Int("fetched", c.Fetched).Int("appended", c.Appended).Int("members_skipped", c.Skipped).Msg("services: issues ingested")
	return c, nil
}

// IngestSprints appends sprints not stored yet. Sprints that never started
// are skipped.
func (s *Service) IngestSprints(ctx context.Context) (IngestCounts, error) {
	var c IngestCounts
	known, err := s.wh.KnownSprints(ctx)
	if err != nil {
		return c, fmt.Errorf("%w: known sprints: %v", ErrSetup, err)
	}
	if known == nil {
		known = map[domain.SprintKey]bool{}
	}
	boards, err := s.tracker.Boards(ctx)
	if err != nil {
		return c, fmt.Errorf("%w: tracker boards: %v", ErrSetup, err)
	}
	now := s.now()
	var fresh []domain.Sprint
	for _, b := range boards {
		sprints, err := s.tracker.SprintsByBoard(ctx, b.ID)
		if err != nil {
			if ctx.Err() != nil {
				return c, ctx.Err()
			}
			// Kanban boards answer 400 on the sprint endpoint.
			s.log.Warn().Err(err).Int64("board", b.ID).Msg("services: sprints fetch failed")
			continue
		}
		for _, raw := range sprints {
			c.Fetched++
			sp, ok := s.norm.Sprint(b.ID, raw, now)
			if !ok || known[sp.Key()] {
				c.Skipped++
				continue
			}
			known[sp.Key()] = true
			fresh = append(fresh, sp)
		}
	}
	c.Rejected = s.rejected("sprints", s.wh.AppendSprints(ctx, fresh))
	c.Appended = len(fresh) - c.Rejected
	s.log.Info().Int("fetched", c.Fetched).Int("appended", c.Appended).Msg("services: sprints ingested")
	return c, nil
}
