package jira

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/rs/zerolog"
)

// User is an account as returned by /users/search.
type User struct {
	AccountID    string `json:"accountId"`
	AccountType  string `json:"accountType"`
	Active       bool   `json:"active"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type Board struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type Sprint struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	OriginBoardID int64  `json:"originBoardId"`
}

// RawIssue keeps fields undecoded; custom field ids vary per site.
type RawIssue struct {
	ID     string                     `json:"id"`
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// FieldMap names the site-specific custom fields.
type FieldMap struct {
	StoryPoints string
	Tester      string
	Sprint      string
	Umbrella    string
}

func FieldsFromConfig(cfg config.Config) FieldMap {
	return FieldMap{
		StoryPoints: cfg.JiraStoryPointsField,
		Tester:      cfg.JiraTesterField,
		Sprint:      cfg.JiraSprintField,
		Umbrella:    cfg.JiraUmbrellaProject,
	}
}

type named struct {
	Name string `json:"name"`
}

type account struct {
	AccountID string `json:"accountId"`
}

type status struct {
	Name           string `json:"name"`
	StatusCategory named  `json:"statusCategory"`
}

type project struct {
	Name string `json:"name"`
}

type sprintRef struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	BoardID int64  `json:"boardId"`
}

// Normalizer turns raw tracker payloads into warehouse rows.
type Normalizer struct {
	fields FieldMap
	log    zerolog.Logger
}

func NewNormalizer(fields FieldMap, log zerolog.Logger) *Normalizer {
	return &Normalizer{fields: fields, log: log}
}

func (n *Normalizer) field(raw RawIssue, name string, out any) bool {
	b, ok := raw.Fields[name]
	if !ok || len(b) == 0 || string(b) == "null" {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		n.log.Warn().Str("issue", raw.Key).Str("field", name).Err(err).Msg("jira: undecodable field")
		return false
	}
	return true
}

// Issue normalizes raw for assignee at index time now.
func (n *Normalizer) Issue(raw RawIssue, assignee string, now time.Time) domain.Issue {
	is := domain.Issue{
		IssueID:   raw.ID,
		IssueName: raw.Key,
		Assignee:  assignee,
		IndexDate: now,
	}
	var s string
	if n.field(raw, "summary", &s) {
		is.Summary = s
	}
	var st status
	if n.field(raw, "status", &st) {
		is.Stage = st.Name
		is.Status = st.StatusCategory.Name
	}
	var nm named
	if n.field(raw, "priority", &nm) {
		is.Priority = nm.Name
	}
	nm = named{}
	if n.field(raw, "issuetype", &nm) {
		is.IssueType = nm.Name
	}
	var acc account
	if n.field(raw, "creator", &acc) {
		is.Creator = acc.AccountID
	}
	acc = account{}
	if n.field(raw, "reporter", &acc) {
		is.Reporter = acc.AccountID
	}
	is.ProjectName = n.projectName(raw)
	is.StoryPoints = n.storyPoints(raw)

	if n.fields.Tester != "" {
		var testers []account
		if n.field(raw, n.fields.Tester, &testers) && len(testers) > 0 && testers[0].AccountID != "" {
			id := testers[0].AccountID
			is.Tester = &id
		}
	}
	if n.fields.Sprint != "" {
		var sprints []sprintRef
		if n.field(raw, n.fields.Sprint, &sprints) && len(sprints) > 0 {
			last := sprints[len(sprints)-1]
			is.SprintName = &last.Name
			is.SprintStatus = &last.State
			if last.BoardID > 0 {
				is.SprintBoardID = &last.BoardID
			}
		}
	}
	is.CreatedAt = n.timestamp(raw, "created")
	is.UpdatedAt = n.timestamp(raw, "updated")
	return is
}

func (n *Normalizer) projectName(raw RawIssue) string {
	var p project
	n.field(raw, "project", &p)
	if n.fields.Umbrella == "" || p.Name != n.fields.Umbrella {
		return p.Name
	}
	var comps []named
	if n.field(raw, "components", &comps) && len(comps) > 0 && comps[0].Name != "" {
		return comps[0].Name
	}
	return p.Name
}

// storyPoints reads the configured field, else the first numeric custom field
// in field-name order.
func (n *Normalizer) storyPoints(raw RawIssue) *float64 {
	if n.fields.StoryPoints != "" {
		var v float64
		if n.field(raw, n.fields.StoryPoints, &v) {
			return &v
		}
		return nil
	}
	names := make([]string, 0, len(raw.Fields))
	for k := range raw.Fields {
		if strings.HasPrefix(k, "customfield_") {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	for _, k := range names {
		var v float64
		if err := json.Unmarshal(raw.Fields[k], &v); err == nil && string(raw.Fields[k]) != "null" {
			return &v
		}
	}
	return nil
}

func (n *Normalizer) timestamp(raw RawIssue, name string) time.Time {
	var s string
	if !n.field(raw, name, &s) {
		n.log.Warn().Str("issue", raw.Key).Str("field", name).Msg("jira: missing timestamp")
		return time.Time{}
	}
	t, err := ParseTime(s)
	if err != nil {
		n.log.Warn().Str("issue", raw.Key).Str("field", name).Str("value", s).Msg("jira: malformed timestamp")
		return time.Time{}
	}
	return t
}

var layouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTime accepts Jira's offset-without-colon form and RFC 3339.
func ParseTime(s string) (time.Time, error) {
	var last error
	for _, l := range layouts {
		t, err := time.Parse(l, s)
		if err == nil {
			return t, nil
		}
		last = err
	}
	return time.Time{}, last
}

// User converts a tracker account; blank emails stay nil.
func (n *Normalizer) User(u User, now time.Time) domain.User {
	out := domain.User{
		AccountID:   u.AccountID,
		AccountType: u.AccountType,
		Active:      u.Active,
		DisplayName: u.DisplayName,
		IndexDate:   now,
	}
	if e := strings.TrimSpace(u.EmailAddress); e != "" {
		out.Email = &e
	}
	return out
}

// Sprint converts a board sprint; ok is false when it never started.
func (n *Normalizer) Sprint(boardID int64, s Sprint, now time.Time) (domain.Sprint, bool) {
	if strings.TrimSpace(s.StartDate) == "" {
		return domain.Sprint{}, false
	}
	start, err := ParseTime(s.StartDate)
	if err != nil {
		n.log.Warn().Str("sprint", s.Name).Str("value", s.StartDate).Msg("jira: malformed sprint start")
		return domain.Sprint{}, false
	}
	out := domain.Sprint{BoardID: boardID, Name: s.Name, State: s.State, StartDate: start, IndexDate: now}
	if s.EndDate != "" {
		if end, err := ParseTime(s.EndDate); err == nil {
			out.EndDate = end
		} else {
			n.log.Warn().Str("sprint", s.Name).Str("value", s.EndDate).Msg("jira: malformed sprint end")
		}
	}
	return out, true
}
