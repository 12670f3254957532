package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/auth"
	"github.com/sakif/goal-tracker/internal/service"
)

// GoalHandler serves the JSON goal CRUD endpoints. Every route sits behind
// RequireAuth; the handler reads the caller once and passes it to the service.
type GoalHandler struct {
	goals  GoalService
	logger *slog.Logger
}

// NewGoalHandler creates a new GoalHandler.
func NewGoalHandler(goals GoalService, logger *slog.Logger) *GoalHandler {
	return &GoalHandler{goals: goals, logger: logger}
}

// createGoalRequest lists the fields a client may set on a new goal.
// user_id is deliberately absent: the owner is always the caller.
//
// No validate tags: the service trims before it checks lengths and dates,
// and the JSON API and the HTML forms must agree on what is valid.
type createGoalRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"due_date"`
}

// updateGoalRequest is a partial update: absent fields stay unchanged,
// "" clears description or due_date.
type updateGoalRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"due_date"`
}

// HandleList returns the caller's goals.
//
// HTTP: GET /goals
// RESPONSE: 200 [goal, ...] (an empty list is [], never null)
func (h *GoalHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	goals, err := h.goals.List(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, goals)
}

// HandleCreate creates a goal owned by the caller.
//
// HTTP: POST /goals
// REQUEST BODY: {"title": "Run 5k", "description": "...", "due_date": "2026-06-01"}
// RESPONSE: 201 goal
func (h *GoalHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	var req createGoalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	goal, err := h.goals.Create(r.Context(), callerID, service.GoalInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, goal)
}

// HandleGet returns one of the caller's goals.
//
// HTTP: GET /goals/{id}
//
// URL PARAMETERS:
// chi.URLParam(r, "id") extracts {id}; for GET /goals/abc123 it returns "abc123".
func (h *GoalHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}
	id := chi.URLParam(r, "id")

	goal, err := h.goals.Get(r.Context(), callerID, id)
	if err != nil {
		writeError(w, hideForbidden(err, id))
		return
	}

	writeJSON(w, http.StatusOK, goal)
}

// HandleUpdate applies a partial update.
//
// HTTP: PUT /goals/{id}
// REQUEST BODY: any subset of {"title", "description", "due_date"}
func (h *GoalHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}
	id := chi.URLParam(r, "id")

	var req updateGoalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	goal, err := h.goals.Update(r.Context(), callerID, id, service.GoalPatch{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
	})
	if err != nil {
		writeError(w, hideForbidden(err, id))
		return
	}

	writeJSON(w, http.StatusOK, goal)
}

// HandleDelete removes a goal.
//
// HTTP: DELETE /goals/{id}
// RESPONSE: 204 No Content
func (h *GoalHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.goals.Delete(r.Context(), callerID, id); err != nil {
		writeError(w, hideForbidden(err, id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// hideForbidden turns "this goal belongs to someone else" into the exact
// not-found error a missing goal produces, so responses never reveal that
// another user's goal ID exists. The service has already logged the attempt.
func hideForbidden(err error, goalID string) error {
	if errors.Is(err, apperror.ErrForbidden) {
		return apperror.NotFound("goal", goalID)
	}
	return err
}
