package dashboard

import (
	"context"
	"fmt"

	"crawler-dashboard/internal/models"
	"crawler-dashboard/internal/query"
)

const createdLayout = "2006-01-02 15:04"

type Row struct {
	Analysis  models.Analysis
	Status    models.StatusMeta
	Selected  bool
	CreatedAt string
}

type StatCard struct {
	Label  string
	Status models.Status
	Count  int
	Meta   models.StatusMeta
	Active bool
}

type SortHeader struct {
	Key   models.SortKey
	Label string
	Order models.SortOrder
}

type Pagination struct {
	Page       int
	TotalPages int
	From       int
	To         int
	Total      int
	HasPrev    bool
	HasNext    bool
}

func (p Pagination) Summary() string {
	return fmt.Sprintf("Showing %d to %d of %d results", p.From, p.To, p.Total)
}

// View is a render-ready snapshot of the dashboard.
type View struct {
	Loading    bool
	LoadFailed bool
	Rows       []Row
	Empty      bool

	Search    string
	Status    models.Status
	SortBy    models.SortKey
	SortOrder models.SortOrder
	Headers   []SortHeader

	// Total is the unfiltered total while a status filter is active.
	Total      int
	Stats      []StatCard
	Pagination Pagination

	SelectedCount int
	AllSelected   bool
	CanStop       bool

	ControlsDisabled bool
	DeleteConfirm    bool
	DeletePrompt     string

	Banner  bool
	Notices []Notice

	AddURLValue string
	AddURLError string

	Polling        bool
	RefreshSeconds int
}

// View loads the current list page and returns what to render. The returned
// error is the raw list error, already routed to banner or notification;
// callers only need it to react to an expired session.
func (c *Controller) View(ctx context.Context) (View, error) {
	c.mu.Lock()
	c.syncLocked()
	c.mu.Unlock()

	r := c.list.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.observeLocked(r)
	return c.buildLocked(r), r.Err
}

func (c *Controller) buildLocked(r query.Result[models.ListResponse]) View {
	v := View{
		Loading:          r.IsLoading(),
		LoadFailed:       !r.HasData && r.Err != nil,
		Search:           c.rawSearch,
		Status:           c.status,
		SortBy:           c.sortBy,
		SortOrder:        c.sortOrder,
		ControlsDisabled: c.busyLocked(),
		DeleteConfirm:    c.deleteOpen,
		Banner:           c.bannerVisible,
		Notices:          c.notices,
		AddURLValue:      c.addURLValue,
		AddURLError:      c.addURLError,
		Polling:          c.list.Polling(),
	}
	c.notices = nil

	if interval := c.svc.PollInterval(); interval > 0 {
		v.RefreshSeconds = int(interval.Seconds())
		if v.RefreshSeconds < 1 {
			v.RefreshSeconds = 1
		}
	}

	for _, col := range columns {
		h := SortHeader{Key: col.Key, Label: col.Label}
		if col.Key == c.sortBy {
			h.Order = c.sortOrder
		}
		v.Headers = append(v.Headers, h)
	}

	visible := c.visibleLocked()
	for _, a := range visible {
		projected := a.DisplayProjection()
		v.Rows = append(v.Rows, Row{
			Analysis:  projected,
			Status:    models.MetaFor(projected.Status),
			Selected:  c.selected[a.ID],
			CreatedAt: projected.CreatedAt.Local().Format(createdLayout),
		})
	}
	v.Empty = r.HasData && len(v.Rows) == 0
	v.SelectedCount = len(c.selected)
	v.AllSelected = c.allVisibleSelectedLocked(visible)
	v.CanStop = c.canStopLocked()
	v.DeletePrompt = deletePrompt(len(c.selected))

	total := r.Data.TotalCount
	v.Total = total
	if c.status != "" && c.hasUnfilteredTotal {
		v.Total = c.unfilteredTotal
	}

	v.Stats = append(v.Stats, StatCard{Label: "Total", Count: v.Total, Meta: models.StatusMeta{Label: "Total", Icon: "list", Color: "blue"}, Active: c.status == ""})
	for _, s := range models.Statuses {
		meta := models.MetaFor(s)
		v.Stats = append(v.Stats, StatCard{
			Label:  meta.Label,
			Status: s,
			Count:  r.Data.StatusCounts[s],
			Meta:   meta,
			Active: c.status == s,
		})
	}

	v.Pagination = c.paginationLocked(total)
	return v
}

func (c *Controller) paginationLocked(total int) Pagination {
	p := Pagination{Page: c.page, Total: total}
	if c.pageSize > 0 {
		p.TotalPages = (total + c.pageSize - 1) / c.pageSize
	}
	if total > 0 {
		p.From = (c.page-1)*c.pageSize + 1
		p.To = c.page * c.pageSize
		if p.To > total {
			p.To = total
		}
		if p.From > total {
			p.From = total
		}
	}
	p.HasPrev = c.page > 1
	p.HasNext = c.page < p.TotalPages
	return p
}

func deletePrompt(n int) string {
	return fmt.Sprintf("Are you sure you want to delete %s?", countAnalyses(n))
}
