package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// APIHandler serves the platform's REST endpoints under /api.
type APIHandler struct {
	platform *Platform
	issuer   *TokenIssuer
	logger   *log.Logger
}

func NewAPIHandler(platform *Platform, issuer *TokenIssuer, logger *log.Logger) *APIHandler {
	return &APIHandler{platform: platform, issuer: issuer, logger: logger}
}

// Register adds every endpoint to r. Auth endpoints other than login and register require a bearer token;
// /api/admin endpoints also require an administrator.
func (h *APIHandler) Register(r *BasicRouter) {
	authed := Authenticator(h.issuer, h.platform)
	user := func(fn http.HandlerFunc) http.Handler { return authed(fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return authed(RequireAdmin(fn)) }

	r.Handle(http.MethodPost, "/api/auth/register", http.HandlerFunc(h.register))
	r.Handle(http.MethodPost, "/api/auth/login", http.HandlerFunc(h.login))
	r.Handle(http.MethodGet, "/api/auth/me", user(h.me))
	r.Handle(http.MethodPost, "/api/auth/logout", user(h.logout))

	r.Handle(http.MethodGet, "/api/crawlers", http.HandlerFunc(h.crawlers))
	r.Handle(http.MethodGet, "/api/crawlers/{type}", http.HandlerFunc(h.crawler))
	r.Handle(http.MethodPost, "/api/crawlers/{type}/run", user(h.runCrawler))

	r.Handle(http.MethodGet, "/api/tasks", user(h.tasks))
	r.Handle(http.MethodGet, "/api/tasks/{id}", user(h.task))
	r.Handle(http.MethodPatch, "/api/tasks/{id}", user(h.updateTask))
	r.Handle(http.MethodDelete, "/api/tasks/{id}", user(h.deleteTask))

	r.Handle(http.MethodGet, "/api/monitoring/stats", http.HandlerFunc(h.stats))
	r.Handle(http.MethodGet, "/api/monitoring/health/detailed", http.HandlerFunc(h.health))

	r.Handle(http.MethodGet, "/api/admin/users", admin(h.adminUsers))
	r.Handle(http.MethodDelete, "/api/admin/users/{id}", admin(h.adminDeleteUser))
	r.Handle(http.MethodGet, "/api/admin/tasks", admin(h.adminTasks))
	r.Handle(http.MethodDelete, "/api/admin/tasks/{id}", admin(h.adminDeleteTask))
}

func (h *APIHandler) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := h.platform.Register(req, false)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("user registered", "username", u.Username)
	writeJSON(w, http.StatusOK, u)
}

func (h *APIHandler) login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := h.platform.Authenticate(req.Username, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp, err := h.issuer.Issue(u)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) me(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	writeJSON(w, http.StatusOK, u)
}

func (h *APIHandler) logout(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out", "username": u.Username})
}

func (h *APIHandler) crawlers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.platform.Crawlers())
}

func (h *APIHandler) crawler(w http.ResponseWriter, r *http.Request) {
	info, err := h.platform.Crawler(r.PathValue("type"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *APIHandler) runCrawler(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	params := models.RunCrawlerRequest{}
	if r.ContentLength != 0 && !decodeBody(w, r, &params) {
		return
	}
	crawlerType := r.PathValue("type")
	task, err := h.platform.RunCrawler(u.ID, crawlerType, params)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("crawl started", "task", task.ID, "crawler", crawlerType, "user", u.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"task_id":   task.ID,
		"message":   fmt.Sprintf("Task created successfully. Crawler '%s' is starting...", crawlerType),
		"timestamp": task.CreatedAt,
	})
}

func (h *APIHandler) tasks(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	q, err := parseTaskQuery(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.platform.Tasks(u.ID, q))
}

func (h *APIHandler) task(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	t, err := h.platform.Task(u.ID, r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *APIHandler) updateTask(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	var patch models.TaskPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	t, err := h.platform.UpdateTask(u.ID, r.PathValue("id"), patch)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *APIHandler) deleteTask(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	id := r.PathValue("id")
	if err := h.platform.DeleteTask(u.ID, id); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: fmt.Sprintf("Task %s deleted successfully", id)})
}

func (h *APIHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.platform.Stats())
}

func (h *APIHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.platform.Health())
}

func (h *APIHandler) adminUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := intParam(r, "skip", 0)
	if err != nil {
		h.fail(w, err)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.platform.Users(skip, limit))
}

func (h *APIHandler) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	if err := h.platform.DeleteUser(u.ID, r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "User deleted successfully"})
}

func (h *APIHandler) adminTasks(w http.ResponseWriter, r *http.Request) {
	q, err := parseTaskQuery(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.platform.Tasks("", q))
}

func (h *APIHandler) adminDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.platform.DeleteTask("", r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Task deleted successfully"})
}

// fail writes err as a {"detail": ...} body with the status matching its sentinel.
func (h *APIHandler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeDetail(w, status, detailFor(err))
}

var statusSentinels = []struct {
	err    error
	status int
}{
	{shared.ErrInvalidInput, http.StatusBadRequest},
	{shared.ErrAuthFailed, http.StatusUnauthorized},
	{shared.ErrNotAuthenticated, http.StatusUnauthorized},
	{shared.ErrForbidden, http.StatusForbidden},
	{shared.ErrTaskNotFound, http.StatusNotFound},
	{shared.ErrCrawlerNotFound, http.StatusNotFound},
	{shared.ErrNotFound, http.StatusNotFound},
}

func statusFor(err error) int {
	for _, s := range statusSentinels {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// detailFor strips the sentinel prefix from wrapped errors so clients see only the specific reason.
func detailFor(err error) string {
	msg := err.Error()
	for _, s := range statusSentinels {
		if rest, ok := strings.CutPrefix(msg, s.err.Error()+": "); ok {
			return rest
		}
	}
	if statusFor(err) == http.StatusInternalServerError {
		return "Internal server error"
	}
	return msg
}

func parseTaskQuery(r *http.Request) (models.TaskQuery, error) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		return models.TaskQuery{}, err
	}
	size, err := intParam(r, "page_size", 20)
	if err != nil {
		return models.TaskQuery{}, err
	}
	q := models.TaskQuery{
		Page:        page,
		PageSize:    size,
		Status:      r.URL.Query().Get("status"),
		CrawlerType: r.URL.Query().Get("crawler_type"),
	}
	if err := shared.ValidateStruct(q); err != nil {
		return models.TaskQuery{}, err
	}
	return q, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", shared.ErrInvalidInput, name)
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
