package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"crawler-dashboard/internal/apiclient"
	"crawler-dashboard/internal/models"
	"crawler-dashboard/internal/query"

	"github.com/sirupsen/logrus"
)

const (
	listFamily   = "analyses"
	detailFamily = "analysis"
)

// API is the subset of the analysis API the dashboard consumes.
type API interface {
	GetAuthToken(ctx context.Context) (models.TokenResponse, error)
	FetchAnalyses(ctx context.Context, params models.ListParams) (models.ListResponse, error)
	FetchSingleAnalysis(ctx context.Context, id string) (models.Analysis, error)
	CreateAnalysis(ctx context.Context, rawURL string) (models.Analysis, error)
	DeleteAnalyses(ctx context.Context, ids []string) error
	StopAnalyses(ctx context.Context, ids []string) error
	ReRunAnalyses(ctx context.Context, ids []string) error
}

// AnalysisService binds the analysis API to the shared query cache and owns
// the PDF report worker.
type AnalysisService struct {
	api            API
	cache          *query.Cache
	tokens         apiclient.TokenStore
	logger         *logrus.Logger
	pollInterval   time.Duration
	pendingReports chan *ReportTask
	shutdown       bool
	shutdownMux    sync.RWMutex
}

func NewAnalysisService(api API, cache *query.Cache, tokens apiclient.TokenStore, logger *logrus.Logger, pollInterval time.Duration) *AnalysisService {
	return &AnalysisService{
		api:            api,
		cache:          cache,
		tokens:         tokens,
		logger:         logger,
		pollInterval:   pollInterval,
		pendingReports: make(chan *ReportTask, 10),
	}
}

func (s *AnalysisService) IsShutdown() bool {
	s.shutdownMux.RLock()
	defer s.shutdownMux.RUnlock()
	return s.shutdown
}

func (s *AnalysisService) SetShutdown(shutdown bool) {
	s.shutdownMux.Lock()
	defer s.shutdownMux.Unlock()
	s.shutdown = shutdown
}

func (s *AnalysisService) PollInterval() time.Duration {
	return s.pollInterval
}

// Bootstrap obtains and stores a bearer token. Startup ignores the error;
// it is logged here.
func (s *AnalysisService) Bootstrap(ctx context.Context) error {
	if _, err := s.api.GetAuthToken(ctx); err != nil {
		s.logger.Warnf("Failed to obtain auth token: %v", err)
		return err
	}
	s.logger.Info("Auth token obtained")
	return nil
}

// ListKey is the cache key of one list request; every parameter is part of it.
func ListKey(p models.ListParams) query.Key {
	return query.Key{
		listFamily,
		strconv.Itoa(p.Page),
		strconv.Itoa(p.Limit),
		p.Search,
		string(p.SortBy),
		string(p.SortOrder),
		string(p.Status),
	}
}

func SingleKey(id string) query.Key {
	return query.Key{detailFamily, id}
}

// ListQueryOptions polls while the returned page holds a queued or processing row.
func (s *AnalysisService) ListQueryOptions(p models.ListParams) query.QueryOptions[models.ListResponse] {
	return query.QueryOptions[models.ListResponse]{
		Key: ListKey(p),
		Fetch: func(ctx context.Context) (models.ListResponse, error) {
			return s.api.FetchAnalyses(ctx, p)
		},
		RefetchInterval: func(data models.ListResponse) time.Duration {
			if data.HasActive() {
				return s.pollInterval
			}
			return 0
		},
		KeepPreviousData: true,
	}
}

func (s *AnalysisService) NewListQuery(p models.ListParams) *query.Query[models.ListResponse] {
	return query.New(s.cache, s.ListQueryOptions(p))
}

// SingleQueryOptions is disabled for an empty id and polls while the analysis is active.
func (s *AnalysisService) SingleQueryOptions(id string) query.QueryOptions[models.Analysis] {
	return query.QueryOptions[models.Analysis]{
		Key:      SingleKey(id),
		Disabled: id == "",
		Fetch: func(ctx context.Context) (models.Analysis, error) {
			return s.api.FetchSingleAnalysis(ctx, id)
		},
		RefetchInterval: func(a models.Analysis) time.Duration {
			if a.Status.IsActive() {
				return s.pollInterval
			}
			return 0
		},
	}
}

func (s *AnalysisService) NewSingleQuery(id string) *query.Query[models.Analysis] {
	return query.New(s.cache, s.SingleQueryOptions(id))
}

// Mutations are the four writes a dashboard can issue, each with its own
// pending and error state.
type Mutations struct {
	AddURL *query.Mutation[string, models.Analysis]
	Rerun  *query.Mutation[[]string, struct{}]
	Stop   *query.Mutation[[]string, struct{}]
	Delete *query.Mutation[[]string, struct{}]
}

// AnyPending reports whether any of the mutations is in flight.
func (m *Mutations) AnyPending() bool {
	return m.AddURL.IsPending() || m.Rerun.IsPending() || m.Stop.IsPending() || m.Delete.IsPending()
}

func (s *AnalysisService) NewMutations() *Mutations {
	return &Mutations{
		AddURL: query.NewMutation(s.api.CreateAnalysis, func(a models.Analysis, rawURL string) {
			s.logger.WithFields(logrus.Fields{"id": a.ID, "url": rawURL}).Info("Analysis created")
			s.cache.Invalidate(listFamily)
		}),
		Rerun:  s.bulkMutation("rerun", s.api.ReRunAnalyses),
		Stop:   s.bulkMutation("stop", s.api.StopAnalyses),
		Delete: s.bulkMutation("delete", s.api.DeleteAnalyses),
	}
}

func (s *AnalysisService) bulkMutation(action string, fn func(ctx context.Context, ids []string) error) *query.Mutation[[]string, struct{}] {
	return query.NewMutation(func(ctx context.Context, ids []string) (struct{}, error) {
		if err := fn(ctx, ids); err != nil {
			s.logger.WithFields(logrus.Fields{"action": action, "count": len(ids)}).Errorf("Bulk action failed: %v", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, func(_ struct{}, ids []string) {
		s.logger.WithFields(logrus.Fields{"action": action, "count": len(ids)}).Info("Bulk action succeeded")
		s.cache.Invalidate(listFamily)
		s.cache.Invalidate(detailFamily)
	})
}

func (s *AnalysisService) GetHealthStatus() map[string]any {
	token, err := s.tokens.Get()

	return map[string]any{
		"status":        "healthy",
		"shutdown":      s.IsShutdown(),
		"token_present": err == nil && token != "",
		"timestamp":     time.Now().Unix(),
	}
}

func (s *AnalysisService) GetCurrentTimestamp() int64 {
	return time.Now().Unix()
}
