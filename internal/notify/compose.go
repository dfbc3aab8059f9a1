package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/lgomeza/jira-slack-pm/internal/domain"
	"github.com/lgomeza/jira-slack-pm/internal/metrics"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Locales with bundled templates.
var Locales = []string{"en", "es"}

var funcs = template.FuncMap{
	"points": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
	"pct":    func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}

type DevReport struct {
	Name      string
	AvgPoints float64
	WeekBugs  int64
	Top       bool
	LowHint   bool
}

type SquadReport struct {
	Squad     string
	AvgPoints float64
	WeekBugs  int64
	// Trend is nil when no comparison is available.
	Trend *metrics.Trend
	Bugs  []domain.BugDetail
}

type OrgReport struct {
	AvgPoints float64
	WeekBugs  int64
	Trend     *metrics.Trend
	Summary   string
}

type findingsView struct {
	Findings     []domain.Finding
	Continuation bool
}

// Composer renders report text in one locale.
type Composer struct {
	locale string
	tmpl   *template.Template
}

func NewComposer(locale string) (*Composer, error) {
	if locale == "" {
		locale = "en"
	}
	t, err := template.New(locale).Funcs(funcs).ParseFS(templateFS, "templates/"+locale+".tmpl")
	if err != nil {
		return nil, fmt.Errorf("notify: load templates for locale %q: %w", locale, err)
	}
	return &Composer{locale: locale, tmpl: t}, nil
}

func (c *Composer) Locale() string { return c.locale }

func (c *Composer) Dev(r DevReport) (string, error)     { return c.render(string(KindDevs), r) }
func (c *Composer) Squad(r SquadReport) (string, error) { return c.render(string(KindSquads), r) }
func (c *Composer) Org(r OrgReport) (string, error)     { return c.render(string(KindOrg), r) }

// Findings renders a findings message for kind. No findings yields "".
// continuation selects the short opening used when the recipient already got
// a message earlier in the same run.
func (c *Composer) Findings(kind Kind, findings []domain.Finding, continuation bool) (string, error) {
	if len(findings) == 0 {
		return "", nil
	}
	switch kind {
	case KindStaleDev, KindStaleQA, KindReadyDev, KindNoStoryPoints, KindQANoTester:
	default:
		return "", fmt.Errorf("notify: %q is not a findings report", kind)
	}
	return c.render(string(kind), findingsView{Findings: findings, Continuation: continuation})
}

func (c *Composer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
