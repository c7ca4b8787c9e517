// Package apitest provides an in-memory analysis API for tests.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"crawler-dashboard/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Server is a fake analysis API. Routes are named "METHOD /path" for call
// counting and failure injection, e.g. "GET /analyses".
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	analyses    []models.Analysis
	token       string
	requireAuth bool
	calls       map[string]int
	failures    map[string][]int
	holds       map[string]*hold
	lastQuery   url.Values
	lastAuth    string
	lastIDs     []string
}

// New starts a fake API that issues token and, when requireAuth is set,
// rejects requests without it with 401.
func New(token string, requireAuth bool) *Server {
	s := &Server{
		token:       token,
		requireAuth: requireAuth,
		calls:       make(map[string]int),
		failures:    make(map[string][]int),
		holds:       make(map[string]*hold),
	}

	router := mux.NewRouter()
	router.HandleFunc("/auth/token", s.handleToken).Methods("POST")
	router.HandleFunc("/analyses", s.handleList).Methods("GET")
	router.HandleFunc("/analyses", s.handleCreate).Methods("POST")
	router.HandleFunc("/analyses", s.bulk("DELETE /analyses", s.deleteIDs)).Methods("DELETE")
	router.HandleFunc("/analyses/stop", s.bulk("POST /analyses/stop", s.stopIDs)).Methods("POST")
	router.HandleFunc("/analyses/rerun", s.bulk("POST /analyses/rerun", s.rerunIDs)).Methods("POST")
	router.HandleFunc("/analyses/{id}", s.handleGet).Methods("GET")

	s.Server = httptest.NewServer(router)
	return s
}

// Add stores a, assigning an id and creation time when missing, and returns it.
func (s *Server) Add(a models.Analysis) models.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC().Add(time.Duration(len(s.analyses)) * time.Second)
	}
	if a.Status == "" {
		a.Status = models.StatusQueued
	}
	s.analyses = append(s.analyses, a)
	return a
}

// Update applies fn to the stored analysis with the given id.
func (s *Server) Update(id string, fn func(a *models.Analysis)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.analyses {
		if s.analyses[i].ID == id {
			fn(&s.analyses[i])
			return
		}
	}
}

// Fail makes the next len(statuses) calls to route answer with those statuses.
func (s *Server) Fail(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], statuses...)
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// Hold parks the next call to route until release is called. entered is
// closed once that call arrives. release is safe to call more than once.
func (s *Server) Hold(route string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}

	s.mu.Lock()
	s.holds[route] = h
	s.mu.Unlock()

	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) LastQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

func (s *Server) LastIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastIDs...)
}

func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.analyses)
}

// begin records the call and reports whether the handler should continue.
func (s *Server) begin(route string, w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.calls[route]++
	s.lastAuth = r.Header.Get("Authorization")

	var status int
	if queued := s.failures[route]; len(queued) > 0 {
		status = queued[0]
		s.failures[route] = queued[1:]
	}
	authorized := !s.requireAuth || route == "POST /auth/token" || s.lastAuth == "Bearer "+s.token
	h := s.holds[route]
	delete(s.holds, route)
	s.mu.Unlock()

	if h != nil {
		close(h.entered)
		<-h.release
	}

	if !authorized {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
		return false
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "injected", "message": "injected failure " + strconv.Itoa(status)})
		return false
	}
	return true
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.begin("POST /auth/token", w, r) {
		return
	}
	writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: s.token, TokenType: "Bearer", ExpiresIn: 3600})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.begin("GET /analyses", w, r) {
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	search := strings.ToLower(q.Get("search"))
	status := models.Status(q.Get("status"))

	s.mu.Lock()
	s.lastQuery = q

	var matched []models.Analysis
	counts := make(map[models.Status]int)
	for _, a := range s.analyses {
		if search != "" && !strings.Contains(strings.ToLower(a.URL), search) && !strings.Contains(strings.ToLower(a.Title), search) {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		counts[a.Status]++
		matched = append(matched, a)
	}
	s.mu.Unlock()

	sortAnalyses(matched, models.SortKey(q.Get("sort_by")), models.SortOrder(q.Get("sort_order")))

	start := (page - 1) * limit
	end := start + limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}

	writeJSON(w, http.StatusOK, models.ListResponse{
		Data:         append([]models.Analysis{}, matched[start:end]...),
		TotalCount:   len(matched),
		StatusCounts: counts,
	})
}

func sortAnalyses(list []models.Analysis, key models.SortKey, order models.SortOrder) {
	less := func(i, j int) bool {
		switch key {
		case models.SortURL:
			return list[i].URL < list[j].URL
		case models.SortStatus:
			return list[i].Status < list[j].Status
		case models.SortTitle:
			return list[i].Title < list[j].Title
		case models.SortInternalLinks:
			return list[i].InternalLinks < list[j].InternalLinks
		case models.SortExternalLinks:
			return list[i].ExternalLinks < list[j].ExternalLinks
		default:
			// newest first when unsorted
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
	}
	if key != "" && order == models.SortDesc {
		sort.SliceStable(list, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(list, less)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if !s.begin("GET /analyses/{id}", w, r) {
		return
	}

	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.analyses {
		if a.ID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "Analysis not found"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.begin("POST /analyses", w, r) {
		return
	}

	var req models.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "message": "Invalid request format"})
		return
	}

	a := s.Add(models.Analysis{URL: req.URL, Status: models.StatusQueued, CreatedAt: time.Now().UTC().Add(time.Hour)})
	writeJSON(w, http.StatusAccepted, a)
}

func (s *Server) bulk(route string, apply func(ids []string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.begin(route, w, r) {
			return
		}

		var req models.IDsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_ids", "message": "no IDs provided"})
			return
		}

		s.mu.Lock()
		s.lastIDs = req.IDs
		apply(req.IDs)
		s.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]int{"affected": len(req.IDs)})
	}
}

// deleteIDs, stopIDs and rerunIDs run with s.mu held.
func (s *Server) deleteIDs(ids []string) {
	drop := toSet(ids)
	kept := s.analyses[:0]
	for _, a := range s.analyses {
		if !drop[a.ID] {
			kept = append(kept, a)
		}
	}
	s.analyses = kept
}

func (s *Server) stopIDs(ids []string) {
	set := toSet(ids)
	for i := range s.analyses {
		if set[s.analyses[i].ID] && s.analyses[i].Status.IsActive() {
			s.analyses[i] = models.Analysis{
				ID:        s.analyses[i].ID,
				URL:       s.analyses[i].URL,
				Status:    models.StatusCancelled,
				CreatedAt: s.analyses[i].CreatedAt,
			}
		}
	}
}

func (s *Server) rerunIDs(ids []string) {
	set := toSet(ids)
	for i := range s.analyses {
		if set[s.analyses[i].ID] {
			s.analyses[i] = models.Analysis{
				ID:        s.analyses[i].ID,
				URL:       s.analyses[i].URL,
				Status:    models.StatusQueued,
				CreatedAt: s.analyses[i].CreatedAt,
			}
		}
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
