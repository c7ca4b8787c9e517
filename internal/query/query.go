package query

import (
	"context"
	"sync"
	"time"
)

const pollTimeout = 30 * time.Second

type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFetching:
		return "fetching"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "idle"
}

// QueryOptions describe what a Query observes.
type QueryOptions[T any] struct {
	Key   Key
	Fetch func(ctx context.Context) (T, error)
	// Disabled queries never fetch.
	Disabled bool
	// RefetchInterval returns the poll interval for freshly applied data;
	// zero or a nil func means no polling.
	RefetchInterval func(data T) time.Duration
	// KeepPreviousData keeps showing the last key's data until the new key's data arrives.
	KeepPreviousData bool
}

// Result is a point-in-time snapshot of a Query.
type Result[T any] struct {
	Data          T
	HasData       bool
	Err           error
	Status        Status
	IsFetching    bool
	IsPlaceholder bool
	UpdatedAt     time.Time
}

// IsLoading is true while the first fetch for the current key has no data to show.
func (r Result[T]) IsLoading() bool {
	return r.IsFetching && !r.HasData
}

// Query observes one key at a time. Responses for a key that is no longer
// current, or older than an already applied response, are discarded.
type Query[T any] struct {
	cache  *Cache
	poller *Poller
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	opts      QueryOptions[T]
	keyStr    string
	data      T
	hasData   bool
	dataKey   string
	err       error
	updatedAt time.Time
	inflight  map[string]int
	seq       uint64
	applied   uint64
	closed    bool
}

func New[T any](cache *Cache, opts QueryOptions[T]) *Query[T] {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Query[T]{
		cache:    cache,
		ctx:      ctx,
		cancel:   cancel,
		opts:     opts,
		keyStr:   opts.Key.String(),
		inflight: make(map[string]int),
	}
	q.poller = NewPoller(q.pollTick)
	return q
}

// SetOptions switches the query to new options. A new key drops the current
// error and, unless KeepPreviousData is set, the current data.
func (q *Query[T]) SetOptions(opts QueryOptions[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	newKey := opts.Key.String()
	q.opts = opts
	if newKey == q.keyStr {
		return
	}

	q.keyStr = newKey
	q.err = nil
	if !opts.KeepPreviousData {
		var zero T
		q.data = zero
		q.hasData = false
		q.dataKey = ""
	}
	if opts.Disabled {
		q.poller.Stop()
	}
}

// Load returns cached data for the current key when it is still fresh and
// fetches otherwise.
func (q *Query[T]) Load(ctx context.Context) Result[T] {
	q.mu.Lock()
	if q.closed || q.opts.Disabled {
		q.mu.Unlock()
		return q.Result()
	}
	key := q.opts.Key
	q.mu.Unlock()

	if v, ok := q.cache.fresh(key); ok {
		if data, ok := v.(T); ok {
			q.mu.Lock()
			if key.String() == q.keyStr && !q.closed {
				q.seq++
				q.applied = q.seq
				q.applyLocked(data, nil)
			}
			q.mu.Unlock()
			return q.Result()
		}
	}

	return q.Refetch(ctx)
}

// Refetch always issues a request for the current key.
func (q *Query[T]) Refetch(ctx context.Context) Result[T] {
	q.mu.Lock()
	if q.closed || q.opts.Disabled || q.opts.Fetch == nil {
		q.mu.Unlock()
		return q.Result()
	}
	q.seq++
	seq := q.seq
	key := q.opts.Key
	keyStr := q.keyStr
	fetch := q.opts.Fetch
	q.inflight[keyStr]++
	q.mu.Unlock()

	v, err := q.cache.fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})

	q.mu.Lock()
	q.inflight[keyStr]--
	if q.inflight[keyStr] <= 0 {
		delete(q.inflight, keyStr)
	}
	if !q.closed && keyStr == q.keyStr && seq > q.applied {
		q.applied = seq
		var data T
		if err == nil {
			data, _ = v.(T)
		}
		q.applyLocked(data, err)
	}
	q.mu.Unlock()

	return q.Result()
}

// applyLocked stores a response for the current key and re-evaluates polling.
func (q *Query[T]) applyLocked(data T, err error) {
	if err != nil {
		q.err = err
		return
	}

	q.data = data
	q.hasData = true
	q.dataKey = q.keyStr
	q.err = nil
	q.updatedAt = time.Now()

	var interval time.Duration
	if q.opts.RefetchInterval != nil {
		interval = q.opts.RefetchInterval(data)
	}
	if interval > 0 {
		q.poller.Start(interval)
	} else {
		q.poller.Stop()
	}
}

func (q *Query[T]) pollTick() {
	ctx, cancel := context.WithTimeout(q.ctx, pollTimeout)
	defer cancel()
	q.Refetch(ctx)
}

// Result returns a snapshot of the query's state.
func (q *Query[T]) Result() Result[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	r := Result[T]{
		Data:          q.data,
		HasData:       q.hasData,
		Err:           q.err,
		IsFetching:    q.inflight[q.keyStr] > 0,
		IsPlaceholder: q.hasData && q.dataKey != q.keyStr,
		UpdatedAt:     q.updatedAt,
	}

	switch {
	case q.opts.Disabled:
		r.Status = StatusIdle
	case r.IsFetching:
		r.Status = StatusFetching
	case q.err != nil:
		r.Status = StatusError
	case q.hasData:
		r.Status = StatusSuccess
	default:
		r.Status = StatusIdle
	}

	return r
}

// Polling reports whether the query is currently refreshing on an interval.
func (q *Query[T]) Polling() bool {
	return q.poller.Running()
}

// Close tears the query down: polling stops, in-flight poll requests are
// cancelled and any late response is dropped.
func (q *Query[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.poller.Stop()
}
