package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"oraculus-server/internal/domain"
	"oraculus-server/internal/game"
	"oraculus-server/internal/service"
	"oraculus-server/internal/template"
	"oraculus-server/pkg/taskmanager"
)

// Handler is the HTTP API surface.
type Handler struct {
	games     *service.GameService
	templates *template.Manager
	tasks     taskmanager.ITaskManager
}

func New(games *service.GameService, templates *template.Manager, tasks taskmanager.ITaskManager) *Handler {
	return &Handler{
		games:     games,
		templates: templates,
		tasks:     tasks,
	}
}

// RegisterRoutes registers API routes relative to the router's prefix.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	router.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	router.HandleFunc("/sessions/{id}/gesture", h.ApplyGesture).Methods("POST")
	router.HandleFunc("/sessions/{id}/key", h.ApplyKey).Methods("POST")
	router.HandleFunc("/sessions/{id}/choice", h.ApplyChoice).Methods("POST")
	router.HandleFunc("/sessions/{id}/reset", h.ResetSession).Methods("POST")
	router.HandleFunc("/sessions/{id}/restart", h.RestartSession).Methods("POST")

	router.HandleFunc("/templates", h.ListTemplates).Methods("GET")
	router.HandleFunc("/templates/{id}", h.GetTemplate).Methods("GET")
	router.HandleFunc("/templates/{id}/story", h.GenerateStory).Methods("POST")

	router.HandleFunc("/tasks/{id}", h.GetTaskStatus).Methods("GET")
}

// CreateSession starts a new game for the protagonist in the request body.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var p domain.Protagonist
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	view, err := h.games.CreateSession(r.Context(), p)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidProtagonist) {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		RespondWithError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create session: %v", err))
		return
	}

	sessionsCreated.Inc()
	RespondWithJSON(w, http.StatusCreated, view)
}

// GetSession returns the current state of a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	view, err := h.games.GetSession(id)
	if err != nil {
		h.respondGameError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, view)
}

// ApplyGesture applies a swipe gesture. Sub-threshold gestures return 200
// with resolved=false and leave the session unchanged.
func (h *Handler) ApplyGesture(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var g game.Gesture
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	outcome, err := h.games.ApplyGesture(r.Context(), id, g)
	if err != nil {
		choicesApplied.WithLabelValues("rejected").Inc()
		h.respondGameError(w, err)
		return
	}

	if outcome.Resolved {
		gesturesResolved.WithLabelValues("resolved").Inc()
		choicesApplied.WithLabelValues("accepted").Inc()
	} else {
		gesturesResolved.WithLabelValues("ignored").Inc()
	}
	RespondWithJSON(w, http.StatusOK, outcome)
}

// ApplyKey applies a keyboard event. Unrecognized keys return 200 with
// resolved=false.
func (h *Handler) ApplyKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	outcome, err := h.games.ApplyKey(r.Context(), id, req.Key)
	if err != nil {
		choicesApplied.WithLabelValues("rejected").Inc()
		h.respondGameError(w, err)
		return
	}

	if outcome.Resolved {
		choicesApplied.WithLabelValues("accepted").Inc()
	}
	RespondWithJSON(w, http.StatusOK, outcome)
}

// ApplyChoice applies an explicit choice ID.
func (h *Handler) ApplyChoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req struct {
		ChoiceID int `json:"choice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	outcome, err := h.games.ApplyChoice(r.Context(), id, req.ChoiceID)
	if err != nil {
		choicesApplied.WithLabelValues("rejected").Inc()
		h.respondGameError(w, err)
		return
	}

	choicesApplied.WithLabelValues("accepted").Inc()
	RespondWithJSON(w, http.StatusOK, outcome)
}

// ResetSession clears the session back to empty.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	view, err := h.games.ResetSession(r.Context(), id)
	if err != nil {
		h.respondGameError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, view)
}

// RestartSession starts a new game on the session with the protagonist in
// the request body.
func (h *Handler) RestartSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var p domain.Protagonist
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	view, err := h.games.RestartSession(r.Context(), id, p)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidProtagonist) {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondGameError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, view)
}

// ListTemplates returns the available story template summaries.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, h.templates.List())
}

// GetTemplate returns a full template definition, variables and scenarios.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tpl, ok := h.templates.Get(vars["id"])
	if !ok {
		RespondWithError(w, http.StatusNotFound, "template not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, tpl)
}

// GenerateStory renders a template into a starting situation text.
func (h *Handler) GenerateStory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tpl, ok := h.templates.Get(vars["id"])
	if !ok {
		RespondWithError(w, http.StatusNotFound, "template not found")
		return
	}

	var req struct {
		Values      map[string]string   `json:"values"`
		Protagonist *domain.Protagonist `json:"protagonist,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if problems := tpl.Validate(req.Values); len(problems) > 0 {
		RespondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    "invalid template values",
			"problems": problems,
		})
		return
	}

	story := tpl.GenerateStory(req.Values, req.Protagonist)
	RespondWithJSON(w, http.StatusOK, map[string]string{"story": story})
}

// GetTaskStatus returns the status of a background resolution task.
func (h *Handler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid task ID")
		return
	}

	task, err := h.tasks.GetTask(id)
	if err != nil {
		RespondWithError(w, http.StatusNotFound, fmt.Sprintf("task not found: %v", err))
		return
	}
	RespondWithJSON(w, http.StatusOK, task)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "invalid session ID")
		return uuid.UUID{}, false
	}
	return id, true
}

// respondGameError maps service and engine errors to HTTP status codes.
func (h *Handler) respondGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		RespondWithError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, game.ErrInvalidChoice):
		RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrAwaitingNode):
		RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrStaleResolution):
		RespondWithError(w, http.StatusConflict, err.Error())
	default:
		RespondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
