package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/contextstore"
	"github.com/nidhogg/nudge-coach/internal/notify"
	"github.com/nidhogg/nudge-coach/internal/pipeline"
	"github.com/nidhogg/nudge-coach/internal/sensor"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store       *contextstore.Store
	scheduler   *pipeline.Scheduler
	coach       *breaks.Coach
	tracker     *wellness.Tracker
	activity    *sensor.Tracker
	broadcaster *notify.Broadcaster
	logger      *zap.Logger
}

// NewHandler creates a new API handler. activity and broadcaster may be nil.
func NewHandler(
	store *contextstore.Store,
	scheduler *pipeline.Scheduler,
	coach *breaks.Coach,
	tracker *wellness.Tracker,
	activity *sensor.Tracker,
	broadcaster *notify.Broadcaster,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		store:       store,
		scheduler:   scheduler,
		coach:       coach,
		tracker:     tracker,
		activity:    activity,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/context", h.getContext)

		r.Get("/scheduler", h.schedulerStatus)
		r.Post("/scheduler/run", h.runNow)

		r.Get("/wellness", h.wellness)
		r.Get("/suggestion", h.currentSuggestion)
		r.Post("/feedback", h.feedback)
		r.Post("/activity", h.touchActivity)
		r.Get("/notifications", h.notifications)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "nudge"})
}

func (h *Handler) getContext(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusOK, h.store.Get(""))
		return
	}
	v, ok := h.store.Lookup(path)
	if !ok {
		writeError(w, http.StatusNotFound, "context path not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "value": v})
}

func (h *Handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"last_cycle":             h.scheduler.Status(),
		"next_run_at":            h.scheduler.NextRunAt(),
		"seconds_until_next_run": h.scheduler.TimeUntilNextRun().Seconds(),
		"run_interval_seconds":   h.scheduler.Interval().Seconds(),
		"state":                  h.store.GetTree(pipeline.Namespace + ".state"),
	})
}

func (h *Handler) runNow(w http.ResponseWriter, r *http.Request) {
	rec := h.scheduler.FireNow(r.Context())
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) wellness(w http.ResponseWriter, r *http.Request) {
	b := h.tracker.Breakdown()
	history := h.tracker.History()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(history) {
			history = history[len(history)-n:]
		}
	}
	taken, suggested := h.coach.Compliance()
	writeJSON(w, http.StatusOK, map[string]any{
		"breakdown":        b,
		"history":          history,
		"breaks_taken":     taken,
		"breaks_suggested": suggested,
		"weights":          h.coach.Preferences().Weights(),
	})
}

func (h *Handler) currentSuggestion(w http.ResponseWriter, r *http.Request) {
	v, ok := h.store.Lookup("nudge.current_suggestion")
	if !ok || v == nil {
		writeError(w, http.StatusNotFound, "no suggestion yet")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type feedbackRequest struct {
	SuggestionID        string `json:"suggestion_id"`
	BreakType           string `json:"break_type"`
	Accepted            bool   `json:"accepted"`
	Completed           bool   `json:"completed"`
	EffectivenessRating *int   `json:"effectiveness_rating"`
	EnergyLevelAfter    *int   `json:"energy_level_after"`
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BreakType == "" {
		req.BreakType = h.suggestedType(req.SuggestionID)
	}

	f := breaks.Feedback{
		SuggestionID:        req.SuggestionID,
		BreakType:           breaks.BreakType(req.BreakType),
		Accepted:            req.Accepted,
		Completed:           req.Completed,
		EffectivenessRating: req.EffectivenessRating,
		EnergyLevelAfter:    req.EnergyLevelAfter,
	}
	if err := h.coach.RecordFeedback(r.Context(), f); err != nil {
		if errors.Is(err, breaks.ErrUnknownBreakType) || errors.Is(err, breaks.ErrInvalidRating) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("record feedback", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"status":     "recorded",
		"break_type": f.BreakType,
		"weight":     h.coach.Preferences().Weights()[f.BreakType],
	}
	if !f.Accepted {
		resp["alternative"] = breaks.Alternative(f.BreakType)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// suggestedType resolves the break type of the current suggestion when the
// ids match.
func (h *Handler) suggestedType(id string) string {
	v, ok := h.store.Lookup("nudge.current_suggestion")
	if !ok || v == nil {
		return ""
	}
	var s breaks.Suggestion
	if err := contextstore.Decode(v, &s); err != nil {
		return ""
	}
	if id != "" && s.ID != id {
		return ""
	}
	return string(s.Type)
}

type activityRequest struct {
	App string `json:"app"`
}

func (h *Handler) touchActivity(w http.ResponseWriter, r *http.Request) {
	if h.activity == nil {
		writeError(w, http.StatusServiceUnavailable, "activity tracking not enabled")
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.activity.Touch(req.App)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "recorded",
		"active_apps": h.activity.ActiveApps(),
	})
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	if h.broadcaster == nil {
		writeJSON(w, http.StatusOK, []notify.Record{})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.broadcaster.History(limit))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
