// Package dashboard holds the view state of the analyses list for one browser
// session: paging, search, sorting, status filter, selection, bulk actions and
// the notifications they produce.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"crawler-dashboard/internal/errs"
	"crawler-dashboard/internal/models"
	"crawler-dashboard/internal/query"
	"crawler-dashboard/internal/service"

	"github.com/sirupsen/logrus"
)

var (
	ErrBusy         = errs.NewValidation("Another action is still in progress")
	ErrNoSelection  = errs.NewValidation("No analyses selected")
	ErrNotStoppable = errs.NewValidation("Only queued or processing analyses can be stopped")
)

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a transient notification shown once.
type Notice struct {
	Kind    NoticeKind
	Message string
}

type Options struct {
	PageSize       int
	SearchDebounce time.Duration
}

type Controller struct {
	svc       *service.AnalysisService
	logger    *logrus.Logger
	pageSize  int
	search    *Debouncer
	list      *query.Query[models.ListResponse]
	mutations *service.Mutations

	mu                 sync.Mutex
	page               int
	rawSearch          string
	appliedSearch      string
	sortBy             models.SortKey
	sortOrder          models.SortOrder
	status             models.Status
	selected           map[string]bool
	deleteOpen         bool
	unfilteredTotal    int
	hasUnfilteredTotal bool
	bannerVisible      bool
	lastListErr        string
	notices            []Notice
	addURLValue        string
	addURLError        string
	closed             bool
}

func New(svc *service.AnalysisService, logger *logrus.Logger, opts Options) *Controller {
	c := &Controller{
		svc:      svc,
		logger:   logger,
		pageSize: opts.PageSize,
		page:     1,
		selected: make(map[string]bool),
	}
	c.search = NewDebouncer(opts.SearchDebounce, c.applySearch)
	c.list = svc.NewListQuery(c.paramsLocked())
	c.mutations = svc.NewMutations()
	return c
}

func (c *Controller) paramsLocked() models.ListParams {
	return models.ListParams{
		Page:      c.page,
		Limit:     c.pageSize,
		Search:    c.appliedSearch,
		SortBy:    c.sortBy,
		SortOrder: c.sortOrder,
		Status:    c.status,
	}
}

// Params returns the parameters of the list request the controller is observing.
func (c *Controller) Params() models.ListParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paramsLocked()
}

func (c *Controller) syncLocked() {
	c.list.SetOptions(c.svc.ListQueryOptions(c.paramsLocked()))
}

// SetSearch records the raw search text. It reaches the list query only
// after the debounce window passes without another change, or on FlushSearch.
// A changed text returns the view to page 1 right away.
func (c *Controller) SetSearch(text string) {
	c.mu.Lock()
	if text != c.rawSearch {
		c.page = 1
	}
	c.rawSearch = text
	c.mu.Unlock()

	c.search.Set(text)
}

// FlushSearch applies the pending search text without waiting.
func (c *Controller) FlushSearch() {
	c.search.Flush()
}

func (c *Controller) applySearch(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || text == c.appliedSearch {
		return
	}
	c.appliedSearch = text
	c.page = 1
	c.syncLocked()
}

func (c *Controller) ToggleSort(key models.SortKey) error {
	if !key.Valid() {
		return errs.NewValidation(fmt.Sprintf("Unknown sort column %q", key))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sortBy, c.sortOrder = nextSort(c.sortBy, c.sortOrder, key)
	c.page = 1
	c.syncLocked()
	return nil
}

// SetStatusFilter filters by status. An empty status, or the status already
// active, clears the filter.
func (c *Controller) SetStatusFilter(status models.Status) error {
	if status != "" && !status.Valid() {
		return errs.NewValidation(fmt.Sprintf("Unknown status %q", status))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if status == c.status {
		status = ""
	}
	c.status = status
	c.page = 1
	c.syncLocked()
	return nil
}

func (c *Controller) SetPage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPageLocked(page)
}

func (c *Controller) NextPage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPageLocked(c.page + 1)
}

func (c *Controller) PrevPage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPageLocked(c.page - 1)
}

func (c *Controller) setPageLocked(page int) {
	if last := c.totalPagesLocked(); last > 0 && page > last {
		page = last
	}
	if page < 1 {
		page = 1
	}
	c.page = page
	c.syncLocked()
}

func (c *Controller) totalPagesLocked() int {
	r := c.list.Result()
	if !r.HasData || c.pageSize <= 0 {
		return 0
	}
	return (r.Data.TotalCount + c.pageSize - 1) / c.pageSize
}

func (c *Controller) visibleLocked() []models.Analysis {
	r := c.list.Result()
	if !r.HasData {
		return nil
	}
	return r.Data.Data
}

func (c *Controller) ToggleSelect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected[id] {
		delete(c.selected, id)
	} else {
		c.selected[id] = true
	}
}

// ToggleSelectAll selects exactly the visible rows, or clears the selection
// when every visible row is already selected.
func (c *Controller) ToggleSelectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	visible := c.visibleLocked()
	if c.allVisibleSelectedLocked(visible) {
		c.selected = make(map[string]bool)
		return
	}

	c.selected = make(map[string]bool, len(visible))
	for _, a := range visible {
		c.selected[a.ID] = true
	}
}

func (c *Controller) allVisibleSelectedLocked(visible []models.Analysis) bool {
	if len(visible) == 0 {
		return false
	}
	for _, a := range visible {
		if !c.selected[a.ID] {
			return false
		}
	}
	return true
}

// SelectedIDs returns the selection in a stable order.
func (c *Controller) SelectedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedIDsLocked()
}

func (c *Controller) selectedIDsLocked() []string {
	ids := make([]string, 0, len(c.selected))
	for id := range c.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CanStop is true when at least one visible row is selected and every
// selected visible row is queued or processing. Selected ids that are not
// on the current page are ignored.
func (c *Controller) CanStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canStopLocked()
}

func (c *Controller) canStopLocked() bool {
	n := 0
	for _, a := range c.visibleLocked() {
		if !c.selected[a.ID] {
			continue
		}
		if !a.Status.IsActive() {
			return false
		}
		n++
	}
	return n > 0
}

func (c *Controller) busyLocked() bool {
	return c.mutations.AnyPending() || c.list.Result().IsLoading()
}

// RequestDelete opens the delete confirmation for the current selection.
func (c *Controller) RequestDelete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.selected) == 0 {
		return ErrNoSelection
	}
	c.deleteOpen = true
	return nil
}

func (c *Controller) CancelDelete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteOpen = false
}

func (c *Controller) DeleteConfirmOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteOpen
}

// ConfirmDelete deletes the selection. The selection is cleared and the
// confirmation closed only on success; a failure leaves both in place.
func (c *Controller) ConfirmDelete(ctx context.Context) error {
	c.mu.Lock()
	if !c.deleteOpen || len(c.selected) == 0 {
		c.mu.Unlock()
		return ErrNoSelection
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	ids := c.selectedIDsLocked()
	c.mu.Unlock()

	_, err := c.mutations.Delete.Mutate(ctx, ids)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failLocked("delete", err)
		return err
	}
	c.selected = make(map[string]bool)
	c.deleteOpen = false
	c.notifyLocked(NoticeSuccess, "Deleted "+countAnalyses(len(ids)))
	return nil
}

// StopSelected stops the selected visible rows.
func (c *Controller) StopSelected(ctx context.Context) error {
	c.mu.Lock()
	if !c.canStopLocked() {
		c.mu.Unlock()
		return ErrNotStoppable
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	var ids []string
	for _, a := range c.visibleLocked() {
		if c.selected[a.ID] {
			ids = append(ids, a.ID)
		}
	}
	c.mu.Unlock()

	_, err := c.mutations.Stop.Mutate(ctx, ids)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failLocked("stop", err)
		return err
	}
	c.selected = make(map[string]bool)
	c.notifyLocked(NoticeSuccess, "Stopped "+countAnalyses(len(ids)))
	return nil
}

// RerunSelected re-queues the selection, then returns to page 1 without a
// status filter since re-queued rows may no longer match it.
func (c *Controller) RerunSelected(ctx context.Context) error {
	c.mu.Lock()
	if len(c.selected) == 0 {
		c.mu.Unlock()
		return ErrNoSelection
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return ErrBusy
	}
	ids := c.selectedIDsLocked()
	c.mu.Unlock()

	_, err := c.mutations.Rerun.Mutate(ctx, ids)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failLocked("rerun", err)
		return err
	}
	c.selected = make(map[string]bool)
	c.page = 1
	c.status = ""
	c.syncLocked()
	c.notifyLocked(NoticeSuccess, "Re-running "+countAnalyses(len(ids)))
	return nil
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) error {
	if raw == "" {
		return errs.NewValidation("Please enter a URL")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errs.NewValidation("Please enter a valid URL starting with http:// or https://")
	}
	return nil
}

// AddURL submits raw, trimmed, for analysis. Invalid input is rejected
// inline without any request; the input is cleared on success.
func (c *Controller) AddURL(ctx context.Context, raw string) error {
	target := strings.TrimSpace(raw)

	c.mu.Lock()
	c.addURLValue = raw
	if err := ValidateURL(target); err != nil {
		c.addURLError = errs.Message(err)
		c.mu.Unlock()
		return err
	}
	c.addURLError = ""
	if c.mutations.AnyPending() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	created, err := c.mutations.AddURL.Mutate(ctx, target)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failLocked("add", err)
		return err
	}
	if created.URL != "" {
		target = created.URL
	}
	c.addURLValue = ""
	c.notifyLocked(NoticeSuccess, "Analysis queued for "+target)
	return nil
}

func (c *Controller) DismissBanner() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bannerVisible = false
}

// Refresh refetches the current page regardless of cache freshness.
func (c *Controller) Refresh(ctx context.Context) error {
	r := c.list.Refetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeLocked(r)
	return r.Err
}

func (c *Controller) failLocked(action string, err error) {
	c.logger.WithField("action", action).Warnf("Dashboard action failed: %v", err)
	if errs.KindOf(err) == errs.Unauthorized {
		return
	}
	c.notifyLocked(NoticeError, errs.Message(err))
}

func (c *Controller) notifyLocked(kind NoticeKind, message string) {
	c.notices = append(c.notices, Notice{Kind: kind, Message: message})
}

// observeLocked routes list errors: unreachable server to the persistent
// banner, anything else to a notification. A repeated error is reported once.
func (c *Controller) observeLocked(r query.Result[models.ListResponse]) {
	if r.Err == nil {
		c.lastListErr = ""
		if r.HasData && !r.IsPlaceholder && c.status == "" {
			c.unfilteredTotal = r.Data.TotalCount
			c.hasUnfilteredTotal = true
		}
		return
	}

	if errors.Is(r.Err, context.Canceled) || errs.KindOf(r.Err) == errs.Unauthorized {
		return
	}

	msg := errs.Message(r.Err)
	if msg == c.lastListErr {
		return
	}
	c.lastListErr = msg

	if errs.IsNetwork(r.Err) {
		c.bannerVisible = true
		return
	}
	c.notifyLocked(NoticeError, msg)
}

// Close stops polling and pending search updates. Late poll responses are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.search.Stop()
	c.list.Close()
}

func countAnalyses(n int) string {
	if n == 1 {
		return "1 analysis"
	}
	return fmt.Sprintf("%d analyses", n)
}
