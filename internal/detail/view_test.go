package detail

import (
	"errors"
	"testing"
	"time"

	"crawler-dashboard/internal/errs"
	"crawler-dashboard/internal/models"
	"crawler-dashboard/internal/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ready(a models.Analysis) query.Result[models.Analysis] {
	return query.Result[models.Analysis]{Data: a, HasData: true, Status: query.StatusSuccess}
}

func TestBuild_States(t *testing.T) {
	tests := []struct {
		name   string
		result query.Result[models.Analysis]
		want   State
	}{
		{name: "first fetch in flight", result: query.Result[models.Analysis]{IsFetching: true, Status: query.StatusFetching}, want: StateLoading},
		{name: "disabled query", result: query.Result[models.Analysis]{Status: query.StatusIdle}, want: StateNotFound},
		{name: "404", result: query.Result[models.Analysis]{Err: &errs.AppError{Kind: errs.NotFound, Status: 404, Message: "Analysis not found"}, Status: query.StatusError}, want: StateNotFound},
		{name: "server error", result: query.Result[models.Analysis]{Err: &errs.AppError{Kind: errs.HTTP, Status: 500, Message: "boom"}, Status: query.StatusError}, want: StateError},
		{name: "data", result: ready(models.Analysis{ID: "a1", Status: models.StatusCompleted}), want: StateReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Build(tt.result).State)
		})
	}
}

func TestBuild_ErrorMessage(t *testing.T) {
	v := Build(query.Result[models.Analysis]{Err: errors.New("connection reset"), Status: query.StatusError})

	assert.Equal(t, StateError, v.State)
	assert.Equal(t, "connection reset", v.ErrorMessage)
}

func TestBuild_CompletedAnalysis(t *testing.T) {
	completed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	v := Build(ready(models.Analysis{
		ID:            "a1",
		URL:           "https://example.com",
		Status:        models.StatusCompleted,
		Title:         "Example Domain",
		HTMLVersion:   "HTML5",
		Headings:      map[string]int{"h2": 3, "h1": 1, "h3": 0},
		InternalLinks: 5,
		ExternalLinks: 2,
		BrokenLinks:   models.BrokenLinks{"https://example.com/b": "404 Not Found", "https://example.com/a": "timeout"},
		HasLoginForm:  true,
		CreatedAt:     completed.Add(-time.Minute),
		CompletedAt:   &completed,
	}))

	require.Equal(t, StateReady, v.State)
	assert.Equal(t, "Example Domain", v.PageTitle)
	assert.False(t, v.Cancelled)

	values := make(map[string]string)
	for _, m := range v.Metrics {
		values[m.Title] = m.Value
	}
	assert.Equal(t, map[string]string{
		"Internal Links": "5",
		"External Links": "2",
		"Broken Links":   "2",
		"HTML Version":   "HTML5",
	}, values)

	assert.False(t, v.Links.Empty)
	require.Len(t, v.Links.Slices, 2)
	assert.Equal(t, 71, v.Links.Slices[0].Percent)

	assert.False(t, v.Headings.Empty)
	require.Len(t, v.Headings.Bars, 2)
	assert.Equal(t, "H1", v.Headings.Bars[0].Name)
	assert.Equal(t, 1, v.Headings.Bars[0].Value)
	assert.Equal(t, "H2", v.Headings.Bars[1].Name)
	assert.Equal(t, 100, v.Headings.Bars[1].Percent)

	assert.Equal(t, []BrokenLink{
		{URL: "https://example.com/a", Code: "timeout"},
		{URL: "https://example.com/b", Code: "404"},
	}, v.BrokenLinks)

	labels := make([]string, 0, len(v.Details))
	for _, d := range v.Details {
		labels = append(labels, d.Label)
	}
	assert.Equal(t, []string{"Status", "HTML Version", "Login Form", "Created", "Completed"}, labels)
	assert.Equal(t, "Detected", v.Details[2].Value)
}

func TestBuild_MissingFieldsFallBack(t *testing.T) {
	v := Build(ready(models.Analysis{ID: "a1", URL: "https://example.com", Status: models.StatusQueued}))

	assert.Equal(t, "https://example.com", v.PageTitle)
	assert.Equal(t, "N/A", v.Metrics[3].Value)
	assert.True(t, v.Links.Empty)
	assert.True(t, v.Headings.Empty)
	assert.Empty(t, v.BrokenLinks)
	assert.Equal(t, "Not Detected", v.Details[2].Value)
	assert.Len(t, v.Details, 4)

	v = Build(ready(models.Analysis{ID: "a1", Status: models.StatusQueued}))
	assert.Equal(t, "Analysis Details", v.PageTitle)
}

func TestBuild_CancelledShowsPlaceholders(t *testing.T) {
	fetched := models.Analysis{
		ID:            "a1",
		URL:           "https://example.com",
		Status:        models.StatusCancelled,
		Title:         "Stale",
		HTMLVersion:   "HTML5",
		Headings:      map[string]int{"h1": 4},
		InternalLinks: 9,
		ExternalLinks: 3,
		BrokenLinks:   models.BrokenLinks{"https://example.com/x": "500"},
		HasLoginForm:  true,
	}

	v := Build(ready(fetched))

	assert.True(t, v.Cancelled)
	assert.Equal(t, "Cancelled", v.Status.Label)
	assert.Empty(t, v.Analysis.Title)
	assert.Equal(t, "https://example.com", v.PageTitle)
	assert.True(t, v.Links.Empty)
	assert.True(t, v.Headings.Empty)
	assert.Empty(t, v.BrokenLinks)
	assert.Equal(t, "", v.Metrics[3].Value)
	assert.Equal(t, "", v.Details[1].Value)
	assert.Equal(t, "", v.Details[2].Value)

	assert.Equal(t, "Stale", fetched.Title)
	assert.Equal(t, 9, fetched.InternalLinks)
}

func TestStatusCode(t *testing.T) {
	tests := map[string]string{
		"404 Not Found": "404",
		"500":           "500",
		"timeout":       "timeout",
		"":              "",
		"40":            "40",
	}

	for in, want := range tests {
		assert.Equal(t, want, StatusCode(in), in)
	}
}
