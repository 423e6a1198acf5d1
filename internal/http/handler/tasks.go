package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tms/internal/auth"
	"tms/internal/task"

	"github.com/go-chi/chi/v5"
)

type TaskHandler struct {
	Svc *task.Service
}

// taskReq doubles as the create and the partial-update payload; nil fields
// are absent from the request.
type taskReq struct {
	Title     *string `json:"title"`
	Content   *string `json:"content"`
	Completed *bool   `json:"completed"`
	Priority  *string `json:"priority"`
	DueDate   *string `json:"dueDate"`
}

type bulkUpdateReq struct {
	TaskIDs []uint64 `json:"taskIds"`
	Updates taskReq  `json:"updates"`
}

type listResp struct {
	Tasks      []task.Task `json:"tasks"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}

func parseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// validate checks the fields present in the payload; requireTitle is set for
// create, where title is mandatory.
func (req *taskReq) validate(requireTitle bool) []fieldError {
	var errs []fieldError
	if req.Title != nil {
		*req.Title = strings.TrimSpace(*req.Title)
	}
	if requireTitle && (req.Title == nil || *req.Title == "") {
		errs = append(errs, fieldError{Path: "title", Message: "Title is required"})
	} else if req.Title != nil && *req.Title == "" {
		errs = append(errs, fieldError{Path: "title", Message: "Title is required"})
	}
	if req.Priority != nil && !task.ValidPriority(*req.Priority) {
		errs = append(errs, fieldError{Path: "priority", Message: "Priority must be low, medium or high"})
	}
	if req.DueDate != nil {
		if _, err := parseDueDate(*req.DueDate); err != nil {
			errs = append(errs, fieldError{Path: "dueDate", Message: "Invalid date format"})
		}
	}
	return errs
}

func (req *taskReq) updateInput() task.UpdateInput {
	in := task.UpdateInput{
		Title:     req.Title,
		Content:   req.Content,
		Completed: req.Completed,
		Priority:  req.Priority,
	}
	if req.DueDate != nil {
		// an explicit empty dueDate clears the column
		if parsed, _ := parseDueDate(*req.DueDate); parsed != nil {
			in.DueDate = parsed
		} else {
			in.ClearDueDate = true
		}
	}
	return in
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := req.validate(true); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	in := task.CreateInput{Title: *req.Title}
	if req.Content != nil {
		in.Content = *req.Content
	}
	if req.Completed != nil {
		in.Completed = *req.Completed
	}
	if req.Priority != nil {
		in.Priority = *req.Priority
	}
	if req.DueDate != nil {
		in.DueDate, _ = parseDueDate(*req.DueDate)
	}

	t, err := h.Svc.Create(r.Context(), uid, in)
	if err != nil {
		writeServerError(w)
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	page := queryInt(r, "page", task.DefaultPage)
	limit := queryInt(r, "limit", task.DefaultLimit)
	if page < 1 {
		page = task.DefaultPage
	}
	if limit < 1 {
		limit = task.DefaultLimit
	}
	if limit > task.MaxLimit {
		limit = task.MaxLimit
	}

	rows, total, err := h.Svc.List(r.Context(), uid, page, limit)
	if err != nil {
		writeServerError(w)
		return
	}
	if rows == nil {
		rows = []task.Task{}
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))

	writeJSON(w, http.StatusOK, listResp{
		Tasks:      rows,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	})
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	t, err := h.Svc.GetByID(r.Context(), uid, id)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := req.validate(false); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	t, err := h.Svc.Update(r.Context(), uid, id, req.updateInput())
	if err != nil {
		writeTaskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Svc.Delete(r.Context(), uid, id); err != nil {
		writeTaskError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "task deleted")
}

func (h *TaskHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req bulkUpdateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var errs []fieldError
	if len(req.TaskIDs) == 0 {
		errs = append(errs, fieldError{Path: "taskIds", Message: "At least one task id is required"})
	}
	errs = append(errs, req.Updates.validate(false)...)
	in := req.Updates.updateInput()
	if in.Title == nil && in.Content == nil && in.Completed == nil && in.Priority == nil && in.DueDate == nil && !in.ClearDueDate {
		errs = append(errs, fieldError{Path: "updates", Message: "At least one field to update is required"})
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	count, err := h.Svc.BulkUpdate(r.Context(), uid, req.TaskIDs, in)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "tasks updated",
		"updatedCount": count,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, task.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Not authorized")
	default:
		writeServerError(w)
	}
}
