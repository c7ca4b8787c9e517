// Package detail turns the single-analysis query into what the analysis page renders.
package detail

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"crawler-dashboard/internal/errs"
	"crawler-dashboard/internal/models"
	"crawler-dashboard/internal/query"
)

const timeLayout = "2006-01-02 15:04:05"

// ChartColors is the palette shared by the links and headings charts.
var ChartColors = []string{"#3B82F6", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6"}

var statusCodePrefix = regexp.MustCompile(`^(\d{3})`)

type State int

const (
	StateLoading State = iota
	StateError
	StateNotFound
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	case StateNotFound:
		return "not_found"
	}
	return "ready"
}

type Metric struct {
	Title string
	Value string
	Color string
}

type Slice struct {
	Name    string
	Value   int
	Percent int
	Color   string
}

type LinksChart struct {
	Slices []Slice
	Empty  bool
}

type Bar struct {
	Name    string
	Value   int
	Percent int
	Color   string
}

type HeadingsChart struct {
	Bars  []Bar
	Empty bool
}

type DetailRow struct {
	Label string
	Value string
	Class string
}

type BrokenLink struct {
	URL  string
	Code string
}

// View is everything the analysis page shows for one query snapshot.
type View struct {
	State        State
	ErrorMessage string
	PageTitle    string
	// Analysis is the display projection, not the fetched record.
	Analysis    models.Analysis
	Status      models.StatusMeta
	Cancelled   bool
	Metrics     []Metric
	Links       LinksChart
	Headings    HeadingsChart
	Details     []DetailRow
	BrokenLinks []BrokenLink
}

// Build derives the page state from a single-analysis query result.
func Build(r query.Result[models.Analysis]) View {
	switch {
	case r.IsLoading():
		return View{State: StateLoading}
	case r.Err != nil && errs.KindOf(r.Err) == errs.NotFound:
		return View{State: StateNotFound}
	case r.Err != nil:
		return View{State: StateError, ErrorMessage: errs.Message(r.Err)}
	case !r.HasData:
		return View{State: StateNotFound}
	}

	a := r.Data.DisplayProjection()
	cancelled := a.Status == models.StatusCancelled

	v := View{
		State:       StateReady,
		PageTitle:   pageTitle(a),
		Analysis:    a,
		Status:      models.MetaFor(a.Status),
		Cancelled:   cancelled,
		Links:       linksChart(a.InternalLinks, a.ExternalLinks),
		Headings:    headingsChart(a.Headings),
		BrokenLinks: brokenLinks(a.BrokenLinks),
	}

	htmlVersion := a.HTMLVersion
	if htmlVersion == "" && !cancelled {
		htmlVersion = "N/A"
	}

	v.Metrics = []Metric{
		{Title: "Internal Links", Value: strconv.Itoa(a.InternalLinks), Color: "blue"},
		{Title: "External Links", Value: strconv.Itoa(a.ExternalLinks), Color: "green"},
		{Title: "Broken Links", Value: strconv.Itoa(len(a.BrokenLinks)), Color: "red"},
		{Title: "HTML Version", Value: htmlVersion, Color: "purple"},
	}

	loginForm := "Not Detected"
	loginClass := "badge badge-gray"
	if a.HasLoginForm {
		loginForm = "Detected"
		loginClass = "badge badge-green"
	}
	if cancelled {
		loginForm = ""
		loginClass = ""
	}

	v.Details = []DetailRow{
		{Label: "Status", Value: v.Status.Label, Class: v.Status.BadgeClass()},
		{Label: "HTML Version", Value: htmlVersion},
		{Label: "Login Form", Value: loginForm, Class: loginClass},
		{Label: "Created", Value: a.CreatedAt.Local().Format(timeLayout)},
	}
	if a.CompletedAt != nil {
		v.Details = append(v.Details, DetailRow{Label: "Completed", Value: a.CompletedAt.Local().Format(timeLayout)})
	}

	return v
}

func pageTitle(a models.Analysis) string {
	switch {
	case a.Title != "":
		return a.Title
	case a.URL != "":
		return a.URL
	}
	return "Analysis Details"
}

func linksChart(internal, external int) LinksChart {
	total := internal + external
	if total == 0 {
		return LinksChart{Empty: true}
	}

	return LinksChart{Slices: []Slice{
		{Name: "Internal Links", Value: internal, Percent: internal * 100 / total, Color: ChartColors[0]},
		{Name: "External Links", Value: external, Percent: external * 100 / total, Color: ChartColors[1]},
	}}
}

// headingsChart keeps only non-zero heading tags, ordered by tag name.
func headingsChart(headings map[string]int) HeadingsChart {
	names := make([]string, 0, len(headings))
	max := 0
	for name, count := range headings {
		if count <= 0 {
			continue
		}
		names = append(names, name)
		if count > max {
			max = count
		}
	}
	if len(names) == 0 {
		return HeadingsChart{Empty: true}
	}
	sort.Strings(names)

	bars := make([]Bar, 0, len(names))
	for i, name := range names {
		count := headings[name]
		bars = append(bars, Bar{
			Name:    strings.ToUpper(name),
			Value:   count,
			Percent: count * 100 / max,
			Color:   ChartColors[i%len(ChartColors)],
		})
	}

	return HeadingsChart{Bars: bars}
}

// StatusCode returns the leading 3-digit code of a broken-link status, or the raw string.
func StatusCode(status string) string {
	if m := statusCodePrefix.FindStringSubmatch(status); m != nil {
		return m[1]
	}
	return status
}

func brokenLinks(links models.BrokenLinks) []BrokenLink {
	if len(links) == 0 {
		return nil
	}

	out := make([]BrokenLink, 0, len(links))
	for link, status := range links {
		out = append(out, BrokenLink{URL: link, Code: StatusCode(status)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
