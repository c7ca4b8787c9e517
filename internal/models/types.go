package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in the order the dashboard shows them.
var Statuses = []Status{StatusCompleted, StatusProcessing, StatusQueued, StatusFailed, StatusCancelled}

// IsActive reports whether the server may still change an analysis in this status.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// BrokenLinks maps a URL to a status-code-bearing string. Numeric values are accepted too.
type BrokenLinks map[string]string

func (b *BrokenLinks) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("broken_links: %w", err)
	}
	if raw == nil {
		*b = nil
		return nil
	}

	out := make(BrokenLinks, len(raw))
	for link, v := range raw {
		switch val := v.(type) {
		case string:
			out[link] = val
		case float64:
			out[link] = strconv.FormatFloat(val, 'f', -1, 64)
		case nil:
			out[link] = ""
		default:
			out[link] = fmt.Sprint(val)
		}
	}
	*b = out
	return nil
}

type Analysis struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Status        Status         `json:"status"`
	Title         string         `json:"title"`
	HTMLVersion   string         `json:"html_version"`
	Headings      map[string]int `json:"headings"`
	InternalLinks int            `json:"internal_links"`
	ExternalLinks int            `json:"external_links"`
	BrokenLinks   BrokenLinks    `json:"broken_links"`
	HasLoginForm  bool           `json:"has_login_form"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at"`
}

// DisplayProjection returns the copy of a used for rendering. Cancelled analyses
// have every result field cleared; a itself is never modified.
func (a Analysis) DisplayProjection() Analysis {
	if a.Status != StatusCancelled {
		return a
	}
	a.Title = ""
	a.HTMLVersion = ""
	a.Headings = nil
	a.InternalLinks = 0
	a.ExternalLinks = 0
	a.BrokenLinks = nil
	a.HasLoginForm = false
	a.CompletedAt = nil
	return a
}

type ListResponse struct {
	Data         []Analysis     `json:"data"`
	TotalCount   int            `json:"total_count"`
	StatusCounts map[Status]int `json:"status_counts"`
}

// HasActive reports whether at least one analysis on the page is queued or processing.
func (r ListResponse) HasActive() bool {
	for _, a := range r.Data {
		if a.Status.IsActive() {
			return true
		}
	}
	return false
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortKey is a column the list can be ordered by.
type SortKey string

const (
	SortURL           SortKey = "url"
	SortStatus        SortKey = "status"
	SortTitle         SortKey = "title"
	SortHTMLVersion   SortKey = "html_version"
	SortInternalLinks SortKey = "internal_links"
	SortExternalLinks SortKey = "external_links"
	SortCreatedAt     SortKey = "created_at"
)

func (k SortKey) Valid() bool {
	switch k {
	case SortURL, SortStatus, SortTitle, SortHTMLVersion, SortInternalLinks, SortExternalLinks, SortCreatedAt:
		return true
	}
	return false
}

// ListParams is the full parameter tuple of a list request.
type ListParams struct {
	Page      int
	Limit     int
	Search    string
	SortBy    SortKey
	SortOrder SortOrder
	Status    Status
}

type CreateRequest struct {
	URL string `json:"url"`
}

type IDsRequest struct {
	IDs []string `json:"ids"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
