package handlers

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"crawler-dashboard/internal/dashboard"
	"crawler-dashboard/internal/detail"
	"crawler-dashboard/internal/errs"
	"crawler-dashboard/internal/models"
	"crawler-dashboard/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

// reloadedParam marks a redirect issued after a 401 so a second 401 renders
// instead of redirecting again.
const reloadedParam = "reloaded"

type pageData struct {
	Title          string
	RefreshSeconds int
	Notices        []dashboard.Notice
	Dashboard      dashboard.View
	Detail         detail.View
}

type Handler struct {
	service  *service.AnalysisService
	sessions *SessionManager
	logger   *logrus.Logger
	pages    map[string]*template.Template
}

func NewHandler(service *service.AnalysisService, sessions *SessionManager, logger *logrus.Logger) *Handler {
	return &Handler{
		service:  service,
		sessions: sessions,
		logger:   logger,
		pages: map[string]*template.Template{
			"dashboard": parsePage("dashboard.html"),
			"analysis":  parsePage("analysis.html"),
		},
	}
}

func parsePage(name string) *template.Template {
	return template.Must(template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
}

func (h *Handler) render(w http.ResponseWriter, status int, page string, data pageData) {
	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Errorf("Failed to render %s page: %v", page, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// reload handles an expired token: it fetches a new one and sends the browser
// back to the same page. It reports false when the caller should render anyway.
func (h *Handler) reload(w http.ResponseWriter, r *http.Request) bool {
	if err := h.renewToken(r); err != nil || r.URL.Query().Get(reloadedParam) != "" {
		return false
	}

	target := *r.URL
	q := target.Query()
	q.Set(reloadedParam, "1")
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.RequestURI(), http.StatusSeeOther)
	return true
}

// renewToken replaces a token the API rejected. Bootstrap logs failures.
func (h *Handler) renewToken(r *http.Request) error {
	return h.service.Bootstrap(r.Context())
}

func (h *Handler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	if h.service.IsShutdown() {
		http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
		return
	}

	ctrl := h.sessions.Controller(w, r)
	view, err := ctrl.View(r.Context())
	if errs.KindOf(err) == errs.Unauthorized && h.reload(w, r) {
		return
	}

	data := pageData{Title: "Dashboard", Notices: view.Notices, Dashboard: view}
	if view.Polling {
		data.RefreshSeconds = view.RefreshSeconds
	}
	h.render(w, http.StatusOK, "dashboard", data)
}

func (h *Handler) AnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if h.service.IsShutdown() {
		http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
		return
	}

	id := mux.Vars(r)["id"]
	q := h.service.NewSingleQuery(id)
	defer q.Close()

	result := q.Load(r.Context())
	if errs.KindOf(result.Err) == errs.Unauthorized && h.reload(w, r) {
		return
	}

	view := detail.Build(result)
	data := pageData{Title: "Analysis Details", Detail: view}
	if view.State == detail.StateReady {
		data.Title = view.PageTitle
	}
	if q.Polling() {
		data.RefreshSeconds = refreshSeconds(h.service)
	}
	status := http.StatusOK
	if view.State == detail.StateNotFound {
		status = http.StatusNotFound
	}
	h.render(w, status, "analysis", data)
}

func refreshSeconds(s *service.AnalysisService) int {
	secs := int(s.PollInterval().Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (h *Handler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if h.service.IsShutdown() {
		http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
		return
	}

	id := mux.Vars(r)["id"]
	pdfData, err := h.service.GenerateReportAsync(r.Context(), id)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.NotFound:
			http.Error(w, "Analysis not found", http.StatusNotFound)
		case errs.Unauthorized:
			if !h.reload(w, r) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
			}
		default:
			h.logger.Errorf("Failed to generate PDF: %v", err)
			http.Error(w, "Failed to generate report", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=analysis_%s_%d.pdf", id, h.service.GetCurrentTimestamp()))
	w.Write(pdfData)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.service.GetHealthStatus()
	status["sessions"] = h.sessions.Count()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// action wraps a dashboard form post: it runs fn against the session's
// controller and sends the browser back to the dashboard. A 401 renews the
// token first and answers 401 when that fails.
func (h *Handler) action(fn func(ctrl *dashboard.Controller, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.service.IsShutdown() {
			http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}

		ctrl := h.sessions.Controller(w, r)
		if err := fn(ctrl, r); err != nil {
			switch errs.KindOf(err) {
			case errs.Unauthorized:
				if h.renewToken(r) != nil {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
			case errs.Validation:
				h.logger.Debugf("Rejected %s: %v", r.URL.Path, err)
			}
		}

		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (h *Handler) addURL(ctrl *dashboard.Controller, r *http.Request) error {
	return ctrl.AddURL(r.Context(), r.FormValue("url"))
}

func (h *Handler) sort(ctrl *dashboard.Controller, r *http.Request) error {
	return ctrl.ToggleSort(models.SortKey(r.FormValue("key")))
}

func (h *Handler) filter(ctrl *dashboard.Controller, r *http.Request) error {
	return ctrl.SetStatusFilter(models.Status(r.FormValue("status")))
}

func (h *Handler) page(ctrl *dashboard.Controller, r *http.Request) error {
	switch r.FormValue("dir") {
	case "next":
		ctrl.NextPage()
	case "prev":
		ctrl.PrevPage()
	default:
		page, err := strconv.Atoi(r.FormValue("page"))
		if err != nil {
			return errs.NewValidation("Invalid page")
		}
		ctrl.SetPage(page)
	}
	return nil
}

func (h *Handler) selectRow(ctrl *dashboard.Controller, r *http.Request) error {
	if id := r.FormValue("id"); id != "" {
		ctrl.ToggleSelect(id)
	}
	return nil
}

func (h *Handler) selectAll(ctrl *dashboard.Controller, r *http.Request) error {
	ctrl.ToggleSelectAll()
	return nil
}

func (h *Handler) requestDelete(ctrl *dashboard.Controller, r *http.Request) error {
	return ctrl.RequestDelete()
}

func (h *Handler) confirmDelete(ctrl *dashboard.Controller, r *http.Request) error {
	return ctrl.ConfirmDelete(r.Context())
}

func (h *Handler) cancelDelete(ctrl *dashboard.Controller, r *http.Request) error {
	ctrl.CancelDelete()
	return nil
}

func (h *Handler) stop(ctrl *dashboard.Controller, r *http.Request) error {
	return ctrl.StopSelected(r.Context())
}

func (h *Handler) rerun(ctrl *dashboard.Controller, r *http.Request) error {
	return ctrl.RerunSelected(r.Context())
}

func (h *Handler) dismissBanner(ctrl *dashboard.Controller, r *http.Request) error {
	ctrl.DismissBanner()
	return nil
}

func (h *Handler) refresh(ctrl *dashboard.Controller, r *http.Request) error {
	return ctrl.Refresh(r.Context())
}

// SearchHandler takes keystrokes (live=1) through the debouncer and applies
// a submitted search immediately.
func (h *Handler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	ctrl := h.sessions.Controller(w, r)
	ctrl.SetSearch(r.FormValue("q"))

	if r.FormValue("live") != "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctrl.FlushSearch()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestID, Recover(h.logger), Logging(h.logger))

	router.HandleFunc("/", h.DashboardHandler).Methods("GET")
	router.HandleFunc("/analysis/{id}", h.AnalysisHandler).Methods("GET")
	router.HandleFunc("/analysis/{id}/report.pdf", h.ReportHandler).Methods("GET")
	router.HandleFunc("/health", h.HealthHandler).Methods("GET")

	router.HandleFunc("/analyses", h.action(h.addURL)).Methods("POST")
	router.HandleFunc("/search", h.SearchHandler).Methods("POST")
	router.HandleFunc("/sort", h.action(h.sort)).Methods("POST")
	router.HandleFunc("/filter", h.action(h.filter)).Methods("POST")
	router.HandleFunc("/page", h.action(h.page)).Methods("POST")
	router.HandleFunc("/select", h.action(h.selectRow)).Methods("POST")
	router.HandleFunc("/select-all", h.action(h.selectAll)).Methods("POST")
	router.HandleFunc("/delete", h.action(h.requestDelete)).Methods("POST")
	router.HandleFunc("/delete/confirm", h.action(h.confirmDelete)).Methods("POST")
	router.HandleFunc("/delete/cancel", h.action(h.cancelDelete)).Methods("POST")
	router.HandleFunc("/stop", h.action(h.stop)).Methods("POST")
	router.HandleFunc("/rerun", h.action(h.rerun)).Methods("POST")
	router.HandleFunc("/banner/dismiss", h.action(h.dismissBanner)).Methods("POST")
	router.HandleFunc("/refresh", h.action(h.refresh)).Methods("POST")

	return router
}
