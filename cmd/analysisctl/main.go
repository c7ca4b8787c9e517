package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"crawler-dashboard/internal/apiclient"
	"crawler-dashboard/internal/config"
	"crawler-dashboard/internal/errs"
	"crawler-dashboard/internal/models"
	"crawler-dashboard/internal/query"
	"crawler-dashboard/internal/service"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

var badgeColors = map[string]*color.Color{
	"green":  color.New(color.FgGreen, color.Bold),
	"red":    color.New(color.FgRed, color.Bold),
	"yellow": color.New(color.FgYellow, color.Bold),
	"gray":   color.New(color.FgHiBlack, color.Bold),
	"orange": color.New(color.FgHiRed),
	"blue":   color.New(color.FgBlue),
}

func badge(s models.Status) string {
	meta := models.MetaFor(s)
	c, ok := badgeColors[meta.Color]
	if !ok {
		return meta.Label
	}
	return c.Sprint(meta.Label)
}

func main() {
	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("invalid configuration: %v", err))
		os.Exit(1)
	}

	apiURL := flag.String("api", cfg.APIURL, "analysis API base URL")
	status := flag.String("status", "", "only show analyses in this status")
	search := flag.String("search", "", "search by URL or title")
	page := flag.Int("page", 1, "page number")
	limit := flag.Int("limit", cfg.PageSize, "rows per page")
	sortBy := flag.String("sort", "", "sort column (url, status, title, html_version, internal_links, external_links, created_at)")
	order := flag.String("order", "asc", "sort order (asc or desc)")
	watch := flag.Bool("watch", false, "keep refreshing while analyses are queued or processing")
	flag.Parse()

	params := models.ListParams{
		Page:   *page,
		Limit:  *limit,
		Search: strings.TrimSpace(*search),
		Status: models.Status(*status),
	}
	if params.Status != "" && !params.Status.Valid() {
		fatal(fmt.Errorf("unknown status %q", *status))
	}
	if *sortBy != "" {
		params.SortBy = models.SortKey(*sortBy)
		if !params.SortBy.Valid() {
			fatal(fmt.Errorf("unknown sort column %q", *sortBy))
		}
		params.SortOrder = models.SortOrder(*order)
		if params.SortOrder != models.SortAsc && params.SortOrder != models.SortDesc {
			fatal(fmt.Errorf("unknown sort order %q", *order))
		}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	tokens := apiclient.NewMemoryTokenStore("")
	client := apiclient.NewClient(*apiURL, &http.Client{Timeout: cfg.HTTPTimeout}, tokens, logger)
	cache := query.NewCache(query.DefaultOptions(), logger)
	analyses := service.NewAnalysisService(client, cache, tokens, logger, cfg.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyses.Bootstrap(ctx)

	q := analyses.NewListQuery(params)
	defer q.Close()

	r := q.Load(ctx)
	if r.Err != nil {
		fatal(r.Err)
	}
	printPage(os.Stdout, params, r.Data)

	if !*watch {
		return
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	last := r.UpdatedAt
	for q.Polling() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r = q.Result()
		if r.Err != nil {
			fmt.Fprintln(os.Stderr, color.YellowString("refresh failed: %s", errs.Message(r.Err)))
			continue
		}
		if r.UpdatedAt.After(last) {
			last = r.UpdatedAt
			fmt.Println()
			printPage(os.Stdout, params, r.Data)
		}
	}
	fmt.Println(color.GreenString("No queued or processing analyses left."))
}

func printPage(w io.Writer, params models.ListParams, resp models.ListResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tURL\tTITLE\tINTERNAL\tEXTERNAL\tBROKEN\tCREATED")
	for _, a := range resp.Data {
		a = a.DisplayProjection()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			a.ID, badge(a.Status), a.URL, a.Title, a.InternalLinks, a.ExternalLinks, len(a.BrokenLinks),
			a.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()

	var counts []string
	for _, s := range models.Statuses {
		counts = append(counts, fmt.Sprintf("%s %d", badge(s), resp.StatusCounts[s]))
	}
	fmt.Fprintf(w, "\n%s\n", strings.Join(counts, "  "))

	from, to := 0, 0
	if resp.TotalCount > 0 {
		from = (params.Page-1)*params.Limit + 1
		to = from + len(resp.Data) - 1
	}
	fmt.Fprintf(w, "Showing %d to %d of %d results\n", from, to, resp.TotalCount)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("error: %s", errs.Message(err)))
	os.Exit(1)
}
