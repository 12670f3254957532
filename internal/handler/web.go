package handler

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/goal-tracker/internal/apperror"
	"github.com/sakif/goal-tracker/internal/auth"
	"github.com/sakif/goal-tracker/internal/model"
	"github.com/sakif/goal-tracker/internal/service"
)

// templateFS holds the HTML pages, compiled into the binary so the server
// doesn't depend on the working directory it was started from.
//
//go:embed templates/*.html
var templateFS embed.FS

// pageNames are the templates that define a "content" block for base.html.
var pageNames = []string{"register", "login", "goals", "edit", "error"}

// WebHandler serves the server-rendered HTML pages under /web.
//
// It calls the same services as the JSON API, so every rule (validation,
// ownership, 404 for other users' goals) is shared. The session token lives
// in the "token" cookie and OptionalAuth resolves it; anonymous visitors to
// protected pages are redirected to the login form instead of getting 401.
type WebHandler struct {
	auth         AuthService
	goals        GoalService
	pages        map[string]*template.Template
	cookieSecure bool
	github       bool
	logger       *slog.Logger
}

// NewWebHandler parses the embedded templates once at startup.
//
// TEMPLATE COMPOSITION:
// Each page is parsed together with base.html: base defines the layout with
// a {{template "content" .}} placeholder and the page defines "content".
// Every page gets its own *template.Template because they all define the
// same "content" name.
func NewWebHandler(authSvc AuthService, goals GoalService, cookieSecure, githubEnabled bool, logger *slog.Logger) (*WebHandler, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s template: %w", name, err)
		}
		pages[name] = tmpl
	}

	return &WebHandler{
		auth:         authSvc,
		goals:        goals,
		pages:        pages,
		cookieSecure: cookieSecure,
		github:       githubEnabled,
		logger:       logger,
	}, nil
}

// pageData is what every template receives.
type pageData struct {
	Title  string
	User   *model.User
	Error  string
	Form   map[string]string
	Goals  []model.Goal
	Goal   *model.Goal
	GitHub bool
}

// HandleIndex sends /web visitors to their goals.
func (h *WebHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/web/goals", http.StatusSeeOther)
}

// HandleRegisterForm renders the registration page.
//
// HTTP: GET /web/register
func (h *WebHandler) HandleRegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "register", pageData{Title: "Register"})
}

// HandleRegister creates the account, logs it in and redirects to the goals page.
//
// HTTP: POST /web/register
func (h *WebHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, "register", pageData{Title: "Register", Error: "could not read the form"})
		return
	}
	name, email, password := r.PostFormValue("name"), r.PostFormValue("email"), r.PostFormValue("password")

	if _, err := h.auth.Register(r.Context(), name, email, password); err != nil {
		h.formError(w, r, "register", pageData{
			Title: "Register",
			Form:  map[string]string{"name": name, "email": email},
		}, err)
		return
	}

	res, err := h.auth.Login(r.Context(), email, password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	setSessionCookie(w, res, h.cookieSecure)
	http.Redirect(w, r, "/web/goals", http.StatusSeeOther)
}

// HandleLoginForm renders the login page.
//
// HTTP: GET /web/login
func (h *WebHandler) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login", pageData{Title: "Log in", GitHub: h.github})
}

// HandleLogin checks the credentials and starts a cookie session.
//
// HTTP: POST /web/login
func (h *WebHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, "login", pageData{Title: "Log in", Error: "could not read the form"})
		return
	}
	email := r.PostFormValue("email")

	res, err := h.auth.Login(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		h.formError(w, r, "login", pageData{
			Title:  "Log in",
			Form:   map[string]string{"email": email},
			GitHub: h.github,
		}, err)
		return
	}

	setSessionCookie(w, res, h.cookieSecure)
	http.Redirect(w, r, "/web/goals", http.StatusSeeOther)
}

// HandleLogout revokes the session's tokens and clears the cookie.
//
// HTTP: POST /web/logout
func (h *WebHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := auth.TokenFromRequest(r); raw != "" {
		// An already-invalid cookie still ends in a logged-out browser.
		if err := h.auth.Logout(r.Context(), raw); err != nil && !errors.Is(err, apperror.ErrUnauthorized) {
			h.fail(w, r, err)
			return
		}
	}

	clearSessionCookie(w, h.cookieSecure)
	http.Redirect(w, r, "/web/login", http.StatusSeeOther)
}

// HandleGoals lists the caller's goals with the "new goal" form.
//
// HTTP: GET /web/goals
func (h *WebHandler) HandleGoals(w http.ResponseWriter, r *http.Request) {
	data, ok := h.goalsPage(w, r)
	if !ok {
		return
	}
	h.render(w, http.StatusOK, "goals", data)
}

// HandleCreateGoal adds a goal from the form.
//
// HTTP: POST /web/goals
func (h *WebHandler) HandleCreateGoal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, &badRequestError{msg: "could not read the form"})
		return
	}

	form := map[string]string{
		"title":       r.PostFormValue("title"),
		"description": r.PostFormValue("description"),
		"due_date":    r.PostFormValue("due_date"),
	}
	desc, due := form["description"], form["due_date"]

	_, err := h.goals.Create(r.Context(), callerID, service.GoalInput{
		Title:       form["title"],
		Description: &desc,
		DueDate:     &due,
	})
	if err != nil {
		data, ok := h.goalsPage(w, r)
		if !ok {
			return
		}
		data.Form = form
		h.formError(w, r, "goals", data, err)
		return
	}

	http.Redirect(w, r, "/web/goals", http.StatusSeeOther)
}

// HandleEditGoal renders the edit form for one goal.
//
// HTTP: GET /web/goals/{id}/edit
func (h *WebHandler) HandleEditGoal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	goal, err := h.goals.Get(r.Context(), callerID, id)
	if err != nil {
		h.fail(w, r, hideForbidden(err, id))
		return
	}

	user, _ := h.auth.GetUserByID(r.Context(), callerID)
	h.render(w, http.StatusOK, "edit", pageData{
		Title: "Edit goal",
		User:  user,
		Goal:  goal,
		Form:  goalForm(goal),
	})
}

// HandleUpdateGoal saves the edit form. Every field is submitted, so an
// emptied description or due date clears it.
//
// HTTP: POST /web/goals/{id}
func (h *WebHandler) HandleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, &badRequestError{msg: "could not read the form"})
		return
	}

	title, desc, due := r.PostFormValue("title"), r.PostFormValue("description"), r.PostFormValue("due_date")

	_, err := h.goals.Update(r.Context(), callerID, id, service.GoalPatch{
		Title:       &title,
		Description: &desc,
		DueDate:     &due,
	})
	if err != nil {
		if !errors.Is(err, apperror.ErrValidation) {
			h.fail(w, r, hideForbidden(err, id))
			return
		}
		goal, getErr := h.goals.Get(r.Context(), callerID, id)
		if getErr != nil {
			h.fail(w, r, hideForbidden(getErr, id))
			return
		}
		user, _ := h.auth.GetUserByID(r.Context(), callerID)
		h.formError(w, r, "edit", pageData{
			Title: "Edit goal",
			User:  user,
			Goal:  goal,
			Form:  map[string]string{"title": title, "description": desc, "due_date": due},
		}, err)
		return
	}

	http.Redirect(w, r, "/web/goals", http.StatusSeeOther)
}

// HandleDeleteGoal removes a goal.
//
// HTTP: POST /web/goals/{id}/delete
// HTML forms can only GET and POST, hence the /delete suffix.
func (h *WebHandler) HandleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.goals.Delete(r.Context(), callerID, id); err != nil {
		h.fail(w, r, hideForbidden(err, id))
		return
	}

	http.Redirect(w, r, "/web/goals", http.StatusSeeOther)
}

// caller returns the session's user ID, or redirects to the login page.
func (h *WebHandler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/web/login", http.StatusSeeOther)
		return "", false
	}
	return id, true
}

// goalsPage loads the data for the goals list page.
func (h *WebHandler) goalsPage(w http.ResponseWriter, r *http.Request) (pageData, bool) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return pageData{}, false
	}

	user, err := h.auth.GetUserByID(r.Context(), callerID)
	if err != nil {
		h.fail(w, r, err)
		return pageData{}, false
	}
	goals, err := h.goals.List(r.Context(), callerID)
	if err != nil {
		h.fail(w, r, err)
		return pageData{}, false
	}

	return pageData{Title: "Your goals", User: user, Goals: goals}, true
}

// formError re-renders a form with the error message. Validation and
// credential errors are expected and shown to the user; anything else goes
// through fail.
func (h *WebHandler) formError(w http.ResponseWriter, r *http.Request, page string, data pageData, err error) {
	var appErr *apperror.AppError
	switch {
	case errors.Is(err, apperror.ErrValidation) && errors.As(err, &appErr):
		data.Error = appErr.Message
		h.render(w, http.StatusUnprocessableEntity, page, data)
	case errors.Is(err, apperror.ErrUnauthorized) && errors.As(err, &appErr) && page == "login":
		data.Error = appErr.Message
		h.render(w, http.StatusUnauthorized, page, data)
	default:
		h.fail(w, r, err)
	}
}

// fail maps an error to an HTML response, mirroring writeError.
func (h *WebHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var badReq *badRequestError
	switch {
	case errors.Is(err, apperror.ErrUnauthorized):
		clearSessionCookie(w, h.cookieSecure)
		http.Redirect(w, r, "/web/login", http.StatusSeeOther)
	case errors.Is(err, apperror.ErrNotFound):
		h.render(w, http.StatusNotFound, "error", pageData{Title: "Goal not found"})
	case errors.As(err, &badReq):
		h.render(w, http.StatusBadRequest, "error", pageData{Title: badReq.msg})
	default:
		h.logger.Error("web request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		h.render(w, http.StatusInternalServerError, "error", pageData{Title: "Something went wrong"})
	}
}

// render executes a page into a buffer first, so a template error can still
// become a clean 500 instead of half a page.
func (h *WebHandler) render(w http.ResponseWriter, status int, page string, data pageData) {
	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "base", data); err != nil {
		h.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func goalForm(g *model.Goal) map[string]string {
	form := map[string]string{"title": g.Title}
	if g.Description != nil {
		form["description"] = *g.Description
	}
	if g.DueDate != nil {
		form["due_date"] = *g.DueDate
	}
	return form
}
