package dashboard

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"crawler-dashboard/internal/apiclient"
	"crawler-dashboard/internal/apitest"
	"crawler-dashboard/internal/errs"
	"crawler-dashboard/internal/models"
	"crawler-dashboard/internal/query"
	"crawler-dashboard/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestController(t *testing.T, pollInterval time.Duration) (*Controller, *apitest.Server) {
	server := apitest.New("secret-token", true)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	tokens := apiclient.NewMemoryTokenStore("")
	client := apiclient.NewClient(server.URL, &http.Client{Timeout: 2 * time.Second}, tokens, logger)
	cache := query.NewCache(query.Options{Retry: 0}, logger)
	svc := service.NewAnalysisService(client, cache, tokens, logger, pollInterval)
	require.NoError(t, svc.Bootstrap(context.Background()))

	c := New(svc, logger, Options{PageSize: 10, SearchDebounce: 20 * time.Millisecond})
	t.Cleanup(c.Close)

	return c, server
}

func mustView(t *testing.T, c *Controller) View {
	t.Helper()
	v, err := c.View(context.Background())
	require.NoError(t, err)
	return v
}

func TestDebouncer_DeliversOnlyFinalValue(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	d := NewDebouncer(30*time.Millisecond, func(v string) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, v)
	})

	for _, v := range []string{"e", "ex", "exa", "exam"} {
		d.Set(v)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"exam"}, fired)
	mu.Unlock()
}

func TestDebouncer_FlushAndStop(t *testing.T) {
	var fired []string
	d := NewDebouncer(time.Hour, func(v string) { fired = append(fired, v) })

	assert.False(t, d.Flush())
	d.Set("go")
	assert.True(t, d.Flush())
	assert.False(t, d.Flush())
	assert.Equal(t, []string{"go"}, fired)

	d.Set("rust")
	d.Stop()
	assert.False(t, d.Flush())
	assert.Equal(t, []string{"go"}, fired)
}

func TestSearch_IntermediateValuesNeverReachTheAPI(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	mustView(t, c)

	c.SetPage(3)
	for _, v := range []string{"g", "go", "gol", "golang"} {
		c.SetSearch(v)
	}

	require.Eventually(t, func() bool { return c.Params().Search == "golang" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Params().Page)

	v := mustView(t, c)
	assert.Equal(t, "golang", v.Search)
	assert.Equal(t, "golang", server.LastQuery().Get("search"))
	assert.Equal(t, 2, server.Calls("GET /analyses"))
}

func TestFlushSearch_AppliesImmediately(t *testing.T) {
	c, _ := setupTestController(t, time.Hour)

	c.SetPage(3)
	c.SetSearch("  example ")
	c.FlushSearch()

	assert.Equal(t, "  example ", c.Params().Search)
	assert.Equal(t, 1, c.Params().Page)
}

func TestSetSearch_ResetsPageBeforeDebounce(t *testing.T) {
	c, _ := setupTestController(t, time.Hour)

	c.SetPage(3)
	c.SetSearch("example")
	assert.Equal(t, 1, c.Params().Page)

	require.Eventually(t, func() bool { return c.Params().Search == "example" }, time.Second, 5*time.Millisecond)

	c.SetPage(2)
	c.SetSearch("example")
	assert.Equal(t, 2, c.Params().Page)
}

func TestToggleSort_Cycles(t *testing.T) {
	c, _ := setupTestController(t, time.Hour)
	c.SetPage(4)

	var orders []models.SortOrder
	for i := 0; i < 3; i++ {
		require.NoError(t, c.ToggleSort(models.SortURL))
		orders = append(orders, c.Params().SortOrder)
	}
	assert.Equal(t, []models.SortOrder{models.SortAsc, models.SortDesc, models.SortAsc}, orders)
	assert.Equal(t, 1, c.Params().Page)

	require.NoError(t, c.ToggleSort(models.SortURL))
	require.NoError(t, c.ToggleSort(models.SortStatus))
	assert.Equal(t, models.SortStatus, c.Params().SortBy)
	assert.Equal(t, models.SortAsc, c.Params().SortOrder)

	err := c.ToggleSort("nope")
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestSetStatusFilter(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	for i := 0; i < 3; i++ {
		server.Add(models.Analysis{URL: "https://example.com", Status: models.StatusCompleted})
	}
	server.Add(models.Analysis{URL: "https://golang.org", Status: models.StatusFailed})

	v := mustView(t, c)
	assert.Equal(t, 4, v.Total)

	c.SetPage(2)
	require.NoError(t, c.SetStatusFilter(models.StatusFailed))
	assert.Equal(t, 1, c.Params().Page)

	v = mustView(t, c)
	assert.Equal(t, "failed", server.LastQuery().Get("status"))
	require.Len(t, v.Rows, 1)
	assert.Equal(t, 4, v.Total, "unfiltered total is kept while filtering")
	assert.Equal(t, 1, v.Pagination.Total)

	require.NoError(t, c.SetStatusFilter(models.StatusFailed))
	assert.Equal(t, models.Status(""), c.Params().Status)

	require.NoError(t, c.SetStatusFilter(models.StatusCompleted))
	require.NoError(t, c.SetStatusFilter(""))
	assert.Equal(t, models.Status(""), c.Params().Status)

	assert.Error(t, c.SetStatusFilter("bogus"))
}

func TestPagination(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	for i := 0; i < 25; i++ {
		server.Add(models.Analysis{URL: "https://example.com", Status: models.StatusCompleted})
	}

	v := mustView(t, c)
	assert.Equal(t, "Showing 1 to 10 of 25 results", v.Pagination.Summary())
	assert.False(t, v.Pagination.HasPrev)
	assert.True(t, v.Pagination.HasNext)
	assert.Equal(t, 3, v.Pagination.TotalPages)

	c.NextPage()
	c.NextPage()
	c.NextPage()
	v = mustView(t, c)
	assert.Equal(t, 3, v.Pagination.Page)
	assert.Equal(t, "Showing 21 to 25 of 25 results", v.Pagination.Summary())
	assert.False(t, v.Pagination.HasNext)
	assert.Len(t, v.Rows, 5)

	c.PrevPage()
	assert.Equal(t, 2, c.Params().Page)
	c.SetPage(-1)
	assert.Equal(t, 1, c.Params().Page)
}

func TestCanStop(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	queued := server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusQueued})
	processing := server.Add(models.Analysis{URL: "https://b.example", Status: models.StatusProcessing})
	completed := server.Add(models.Analysis{URL: "https://c.example", Status: models.StatusCompleted})
	mustView(t, c)

	assert.False(t, c.CanStop())

	c.ToggleSelect(queued.ID)
	c.ToggleSelect(completed.ID)
	assert.False(t, c.CanStop())

	c.ToggleSelect(completed.ID)
	c.ToggleSelect(processing.ID)
	assert.True(t, c.CanStop())

	c.ToggleSelect("not-on-this-page")
	assert.True(t, c.CanStop())

	require.NoError(t, c.StopSelected(context.Background()))
	assert.Equal(t, sorted([]string{processing.ID, queued.ID}), sorted(server.LastIDs()))
	assert.Empty(t, c.SelectedIDs())

	v := mustView(t, c)
	require.Len(t, v.Notices, 1)
	assert.Equal(t, Notice{Kind: NoticeSuccess, Message: "Stopped 2 analyses"}, v.Notices[0])

	c.ToggleSelect(completed.ID)
	assert.Equal(t, ErrNotStoppable, c.StopSelected(context.Background()))
	assert.Equal(t, 1, server.Calls("POST /analyses/stop"))
}

func TestToggleSelectAll(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	a := server.Add(models.Analysis{URL: "https://a.example"})
	b := server.Add(models.Analysis{URL: "https://b.example"})
	mustView(t, c)

	c.ToggleSelect("elsewhere")
	c.ToggleSelectAll()
	assert.Equal(t, sorted([]string{a.ID, b.ID}), c.SelectedIDs())

	v := mustView(t, c)
	assert.True(t, v.AllSelected)
	assert.Equal(t, 2, v.SelectedCount)

	c.ToggleSelectAll()
	assert.Empty(t, c.SelectedIDs())
}

func TestDelete_RequiresConfirmationAndKeepsStateOnFailure(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	a := server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusCompleted})
	mustView(t, c)

	assert.Equal(t, ErrNoSelection, c.RequestDelete())
	assert.Equal(t, ErrNoSelection, c.ConfirmDelete(context.Background()))

	c.ToggleSelect(a.ID)
	require.NoError(t, c.RequestDelete())

	v := mustView(t, c)
	assert.True(t, v.DeleteConfirm)
	assert.Equal(t, "Are you sure you want to delete 1 analysis?", v.DeletePrompt)

	server.Fail("DELETE /analyses", http.StatusInternalServerError)
	err := c.ConfirmDelete(context.Background())
	require.Error(t, err)
	assert.True(t, c.DeleteConfirmOpen())
	assert.Equal(t, []string{a.ID}, c.SelectedIDs())

	v = mustView(t, c)
	require.Len(t, v.Notices, 1)
	assert.Equal(t, NoticeError, v.Notices[0].Kind)
	assert.Equal(t, "injected failure 500", v.Notices[0].Message)

	require.NoError(t, c.ConfirmDelete(context.Background()))
	assert.False(t, c.DeleteConfirmOpen())
	assert.Empty(t, c.SelectedIDs())
	assert.Equal(t, 0, server.Len())

	v = mustView(t, c)
	assert.True(t, v.Empty)
	require.Len(t, v.Notices, 1)
	assert.Equal(t, "Deleted 1 analysis", v.Notices[0].Message)
}

func TestCancelDelete(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	a := server.Add(models.Analysis{URL: "https://a.example"})
	mustView(t, c)

	c.ToggleSelect(a.ID)
	require.NoError(t, c.RequestDelete())
	c.CancelDelete()

	assert.False(t, c.DeleteConfirmOpen())
	assert.Equal(t, []string{a.ID}, c.SelectedIDs())
	assert.Equal(t, 0, server.Calls("DELETE /analyses"))
}

func TestRerun_ResetsPageAndFilter(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	a := server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusFailed})

	require.NoError(t, c.SetStatusFilter(models.StatusFailed))
	mustView(t, c)
	c.ToggleSelect(a.ID)
	c.SetPage(2)

	require.NoError(t, c.RerunSelected(context.Background()))

	p := c.Params()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, models.Status(""), p.Status)
	assert.Empty(t, c.SelectedIDs())

	v := mustView(t, c)
	require.Len(t, v.Rows, 1)
	assert.Equal(t, models.StatusQueued, v.Rows[0].Analysis.Status)
	assert.Equal(t, "Re-running 1 analysis", v.Notices[0].Message)
}

func TestMutationFailureKeepsSelectionAndFilter(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	a := server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusFailed})

	require.NoError(t, c.SetStatusFilter(models.StatusFailed))
	mustView(t, c)
	c.ToggleSelect(a.ID)

	server.Fail("POST /analyses/rerun", http.StatusBadGateway)
	require.Error(t, c.RerunSelected(context.Background()))

	assert.Equal(t, models.StatusFailed, c.Params().Status)
	assert.Equal(t, []string{a.ID}, c.SelectedIDs())
}

func TestAddURL(t *testing.T) {
	c, server := setupTestController(t, time.Hour)

	for _, input := range []string{"", "   ", "example.com", "ftp://example.com", "http://", "not a url"} {
		err := c.AddURL(context.Background(), input)
		assert.Equal(t, errs.Validation, errs.KindOf(err), input)
	}
	assert.Equal(t, 0, server.Calls("POST /analyses"))

	v := mustView(t, c)
	assert.NotEmpty(t, v.AddURLError)
	assert.Equal(t, "not a url", v.AddURLValue)

	require.NoError(t, c.AddURL(context.Background(), "  https://example.com  "))
	assert.Equal(t, 1, server.Calls("POST /analyses"))

	v = mustView(t, c)
	assert.Empty(t, v.AddURLValue)
	assert.Empty(t, v.AddURLError)
	require.Len(t, v.Rows, 1)
	assert.Equal(t, "https://example.com", v.Rows[0].Analysis.URL)
	assert.Equal(t, models.StatusQueued, v.Rows[0].Analysis.Status)
	assert.Equal(t, "Queued", v.Rows[0].Status.Label)
	assert.Equal(t, []Notice{{Kind: NoticeSuccess, Message: "Analysis queued for https://example.com"}}, v.Notices)

	v = mustView(t, c)
	assert.Empty(t, v.Notices)
}

func TestAddURL_ServerErrorKeepsInput(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	server.Fail("POST /analyses", http.StatusInternalServerError)

	require.Error(t, c.AddURL(context.Background(), "https://example.com"))

	v := mustView(t, c)
	assert.Equal(t, "https://example.com", v.AddURLValue)
	require.Len(t, v.Notices, 1)
	assert.Equal(t, NoticeError, v.Notices[0].Kind)
}

func TestNetworkErrorShowsDismissibleBanner(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusCompleted})
	mustView(t, c)

	server.Close()

	v, err := c.View(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsNetwork(err))
	assert.True(t, v.Banner)
	assert.Empty(t, v.Notices)
	assert.Len(t, v.Rows, 1, "previous data stays visible")

	c.DismissBanner()
	v, _ = c.View(context.Background())
	assert.False(t, v.Banner)
}

func TestServerErrorIsNotifiedOnce(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	server.Fail("GET /analyses", http.StatusInternalServerError, http.StatusInternalServerError)

	v, err := c.View(context.Background())
	require.Error(t, err)
	assert.False(t, v.Banner)
	assert.True(t, v.LoadFailed)
	require.Len(t, v.Notices, 1)
	assert.Equal(t, NoticeError, v.Notices[0].Kind)

	v, _ = c.View(context.Background())
	assert.Empty(t, v.Notices)

	v = mustView(t, c)
	assert.False(t, v.LoadFailed)
}

func TestView_PollsWhileActiveAndCloseStops(t *testing.T) {
	c, server := setupTestController(t, 10*time.Millisecond)
	a := server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusProcessing})

	v := mustView(t, c)
	assert.True(t, v.Polling)
	assert.Equal(t, 1, v.RefreshSeconds)

	server.Update(a.ID, func(a *models.Analysis) { a.Status = models.StatusCompleted })
	require.Eventually(t, func() bool {
		v, _ := c.View(context.Background())
		return !v.Polling
	}, time.Second, 5*time.Millisecond)

	server.Update(a.ID, func(a *models.Analysis) { a.Status = models.StatusQueued })
	require.NoError(t, c.Refresh(context.Background()))
	assert.True(t, mustView(t, c).Polling)

	c.Close()
	calls := server.Calls("GET /analyses")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, server.Calls("GET /analyses"))
}

func TestView_StatsAndHeaders(t *testing.T) {
	c, server := setupTestController(t, time.Hour)
	server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusCompleted})
	server.Add(models.Analysis{URL: "https://b.example", Status: models.StatusCancelled, Title: "hidden"})
	require.NoError(t, c.ToggleSort(models.SortURL))

	v := mustView(t, c)

	counts := make(map[string]int)
	for _, s := range v.Stats {
		counts[s.Label] = s.Count
	}
	assert.Equal(t, 2, counts["Total"])
	assert.Equal(t, 1, counts["Completed"])
	assert.Equal(t, 1, counts["Cancelled"])
	assert.Equal(t, 0, counts["Queued"])

	for _, h := range v.Headers {
		if h.Key == models.SortURL {
			assert.Equal(t, models.SortAsc, h.Order)
		} else {
			assert.Empty(t, h.Order)
		}
	}

	require.Len(t, v.Rows, 2)
	assert.Equal(t, "Cancelled", v.Rows[1].Status.Label)
	assert.Empty(t, v.Rows[1].Analysis.Title)
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestControlsDisabled(t *testing.T) {
	busy := func(c *Controller) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.busyLocked()
	}

	t.Run("initial load", func(t *testing.T) {
		c, server := setupTestController(t, time.Hour)
		server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusCompleted})

		entered, release := server.Hold("GET /analyses")
		t.Cleanup(release)

		done := make(chan struct{})
		go func() {
			defer close(done)
			c.View(context.Background())
		}()
		<-entered

		assert.True(t, busy(c))

		release()
		<-done
		assert.False(t, mustView(t, c).ControlsDisabled)
	})

	t.Run("mutation in flight", func(t *testing.T) {
		c, server := setupTestController(t, time.Hour)
		queued := server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusQueued})
		mustView(t, c)
		c.ToggleSelect(queued.ID)

		entered, release := server.Hold("POST /analyses/stop")
		t.Cleanup(release)

		stopped := make(chan error)
		go func() { stopped <- c.StopSelected(context.Background()) }()
		<-entered

		assert.True(t, mustView(t, c).ControlsDisabled)
		assert.ErrorIs(t, c.RerunSelected(context.Background()), ErrBusy)
		assert.ErrorIs(t, c.AddURL(context.Background(), "https://b.example"), ErrBusy)
		assert.Equal(t, 0, server.Calls("POST /analyses/rerun"))
		assert.Equal(t, 0, server.Calls("POST /analyses"))

		release()
		require.NoError(t, <-stopped)
		assert.False(t, mustView(t, c).ControlsDisabled)
	})

	t.Run("background refetch", func(t *testing.T) {
		c, server := setupTestController(t, time.Hour)
		server.Add(models.Analysis{URL: "https://a.example", Status: models.StatusCompleted})
		mustView(t, c)

		entered, release := server.Hold("GET /analyses")
		t.Cleanup(release)

		refreshed := make(chan error)
		go func() { refreshed <- c.Refresh(context.Background()) }()
		<-entered

		r := c.list.Result()
		assert.True(t, r.IsFetching)
		assert.True(t, r.HasData)
		assert.False(t, busy(c))

		release()
		require.NoError(t, <-refreshed)
	})
}
