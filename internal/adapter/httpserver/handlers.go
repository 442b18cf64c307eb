package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/task-scheduler/internal/config"
	"github.com/fairyhunter13/task-scheduler/internal/domain"
	"github.com/fairyhunter13/task-scheduler/internal/usecase"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Tasks   *usecase.TaskService
	DBCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, tasks *usecase.TaskService, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Tasks: tasks, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decodeJSON parses and validates a JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %v: %w", err, domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}

// CreateTaskHandler handles POST /api/v1/tasks.
func (s *Server) CreateTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTaskRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		created, err := s.Tasks.Create(r.Context(), req.toInput())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, toTaskResponse(created))
	}
}

// CreateBatchHandler handles POST /api/v1/tasks/batch.
func (s *Server) CreateBatchHandler() http.HandlerFunc {
	type batchRequest struct {
		Tasks []createTaskRequest `json:"tasks" validate:"required,min=1,max=100,dive"`
	}
	type batchErrorItem struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	}
	type batchResponse struct {
		Created []taskResponse   `json:"created"`
		Errors  []batchErrorItem `json:"errors,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		ins := make([]usecase.CreateInput, len(req.Tasks))
		for i, t := range req.Tasks {
			ins[i] = t.toInput()
		}
		result, err := s.Tasks.CreateBatch(r.Context(), ins)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := batchResponse{Created: toTaskResponses(result.Created)}
		for _, be := range result.Errors {
			resp.Errors = append(resp.Errors, batchErrorItem{Index: be.Index, Error: be.Err.Error()})
		}
		status := http.StatusCreated
		if len(resp.Errors) > 0 {
			status = http.StatusMultiStatus
		}
		writeJSON(w, status, resp)
	}
}

// GetTaskHandler handles GET /api/v1/tasks/{id}, returning the task with
// its attempt history.
func (s *Server) GetTaskHandler() http.HandlerFunc {
	type response struct {
		Task       taskResponse           `json:"task"`
		Executions []executionLogResponse `json:"executions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		t, logs, err := s.Tasks.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, response{Task: toTaskResponse(t), Executions: toLogResponses(logs)})
	}
}

// SearchTasksHandler handles GET /api/v1/tasks with type/status/reference
// filters and offset pagination.
func (s *Server) SearchTasksHandler() http.HandlerFunc {
	type response struct {
		Tasks  []taskResponse `json:"tasks"`
		Total  int64          `json:"total"`
		Offset int            `json:"offset"`
		Limit  int            `json:"limit"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := domain.SearchFilter{ReferenceID: q.Get("reference_id")}
		if raw := q.Get("type"); raw != "" {
			t, err := domain.ParseTaskType(raw)
			if err != nil {
				writeError(w, r, fmt.Errorf("unknown type %q: %w", raw, domain.ErrInvalidArgument), nil)
				return
			}
			filter.Type = t
		}
		if raw := q.Get("status"); raw != "" {
			st, err := domain.ParseTaskStatus(raw)
			if err != nil {
				writeError(w, r, fmt.Errorf("unknown status %q: %w", raw, domain.ErrInvalidArgument), nil)
				return
			}
			filter.Status = st
		}
		filter.Offset, _ = strconv.Atoi(q.Get("offset"))
		filter.Limit, _ = strconv.Atoi(q.Get("limit"))

		// Normalize here so the response echoes the applied paging.
		filter = usecase.NormalizeSearchFilter(filter)
		tasks, total, err := s.Tasks.Search(r.Context(), filter)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, response{
			Tasks:  toTaskResponses(tasks),
			Total:  total,
			Offset: filter.Offset,
			Limit:  filter.Limit,
		})
	}
}

// ListByReferenceHandler handles GET /api/v1/references/{referenceID}/tasks.
func (s *Server) ListByReferenceHandler() http.HandlerFunc {
	type response struct {
		Tasks []taskResponse `json:"tasks"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := s.Tasks.ListByReference(r.Context(), chi.URLParam(r, "referenceID"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, response{Tasks: toTaskResponses(tasks)})
	}
}

// StatsHandler handles GET /api/v1/tasks/stats.
func (s *Server) StatsHandler() http.HandlerFunc {
	type response struct {
		StatusCounts    map[string]int64            `json:"status_counts"`
		TypeStatusCount map[string]map[string]int64 `json:"type_status_counts"`
		Pending         int64                       `json:"pending"`
		Processing      int64                       `json:"processing"`
		Failed          int64                       `json:"failed"`
		Completed       int64                       `json:"completed"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Tasks.Statistics(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := response{
			StatusCounts:    make(map[string]int64, len(stats.StatusCounts)),
			TypeStatusCount: make(map[string]map[string]int64, len(stats.TypeStatusCount)),
			Pending:         stats.PendingCount,
			Processing:      stats.ProcessingCount,
			Failed:          stats.FailedCount,
			Completed:       stats.CompletedCount,
		}
		for st, n := range stats.StatusCounts {
			resp.StatusCounts[string(st)] = n
		}
		for tt, m := range stats.TypeStatusCount {
			inner := make(map[string]int64, len(m))
			for st, n := range m {
				inner[string(st)] = n
			}
			resp.TypeStatusCount[string(tt)] = inner
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// CancelTaskHandler handles POST /api/v1/tasks/{id}/cancel.
func (s *Server) CancelTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, err, nil)
				return
			}
		}
		t, err := s.Tasks.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toTaskResponse(t))
	}
}

// CancelByReferenceHandler handles POST /api/v1/references/{referenceID}/cancel.
func (s *Server) CancelByReferenceHandler() http.HandlerFunc {
	type response struct {
		Cancelled int `json:"cancelled"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, err, nil)
				return
			}
		}
		n, err := s.Tasks.CancelByReference(r.Context(), chi.URLParam(r, "referenceID"), req.Reason)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, response{Cancelled: n})
	}
}

// PauseTaskHandler handles POST /api/v1/tasks/{id}/pause.
func (s *Server) PauseTaskHandler() http.HandlerFunc {
	return s.transitionHandler(s.Tasks.Pause)
}

// ResumeTaskHandler handles POST /api/v1/tasks/{id}/resume.
func (s *Server) ResumeTaskHandler() http.HandlerFunc {
	return s.transitionHandler(s.Tasks.Resume)
}

// RetryTaskHandler handles POST /api/v1/tasks/{id}/retry. The body may
// carry a scheduled_time to defer the requeued attempt.
func (s *Server) RetryTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retryRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, err, nil)
				return
			}
		}
		t, err := s.Tasks.Retry(r.Context(), chi.URLParam(r, "id"), req.ScheduledTime)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toTaskResponse(t))
	}
}

// RetryNowTaskHandler handles POST /api/v1/tasks/{id}/retry-now.
func (s *Server) RetryNowTaskHandler() http.HandlerFunc {
	return s.transitionHandler(s.Tasks.RetryNow)
}

func (s *Server) transitionHandler(op func(domain.Context, string) (domain.Task, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := op(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toTaskResponse(t))
	}
}

// ReadyzHandler reports readiness: the process is ready when the database
// answers.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DBCheck != nil {
			if err := s.DBCheck(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "db": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
