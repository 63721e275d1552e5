// internal/api/http/escalation_handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"business-escalation/internal/domain"
	"business-escalation/internal/metrics"
	"business-escalation/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// EscalationHandler serves the escalation engine's HTTP API.
type EscalationHandler struct {
	service  *usecase.EscalationService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewEscalationHandler creates a new EscalationHandler and registers the
// custom validation tags.
func NewEscalationHandler(service *usecase.EscalationService, logger *slog.Logger) *EscalationHandler {
	validate := validator.New()

	_ = validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		return v == "" || clockPattern.MatchString(v)
	})

	_ = validate.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, ok := weekday(fl.Field().String())
		return ok
	})

	return &EscalationHandler{
		service:  service,
		logger:   logger.With("component", "escalation-handler"),
		validate: validate,
		tracer:   otel.Tracer("business-escalation-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the escalation routes on mux.
func (h *EscalationHandler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "POST /sweeps", h.handleRunSweep)
	h.handle(mux, "GET /sweeps", h.handleListSweeps)
	h.handle(mux, "GET /sweeps/{id}", h.handleGetSweep)
	h.handle(mux, "GET /stats", h.handleGetStats)

	h.handle(mux, "PUT /businesses", h.handleSaveBusiness)
	h.handle(mux, "GET /businesses", h.handleListBusinesses)
	h.handle(mux, "POST /businesses/reset-load", h.handleResetLoad)
	h.handle(mux, "GET /businesses/{id}/eligibility", h.handleEligibility)

	h.handle(mux, "PUT /tasks", h.handleSaveTask)
	h.handle(mux, "POST /tasks/{id}/decline", h.handleDeclineTask)
	h.handle(mux, "POST /tasks/{id}/volunteer-info", h.handleFinalizeTask)
}

// handle wraps fn with a server span and the request counter, labelled by
// route pattern.
func (h *EscalationHandler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+pattern, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(pattern, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}))
}

// handleRunSweep triggers a manual sweep (POST /sweeps). The sweep is not
// tied to the client connection.
func (h *EscalationHandler) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.RunSweep")
	defer span.End()

	report, err := h.service.RunSweep(context.WithoutCancel(ctx))
	if err != nil {
		h.fail(w, span, "run sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListSweeps lists sweep history (GET /sweeps?page=&pageSize=).
func (h *EscalationHandler) handleListSweeps(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListSweeps")
	defer span.End()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	reports, err := h.service.ListSweeps(ctx, page, pageSize)
	if err != nil {
		h.fail(w, span, "list sweeps", err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *EscalationHandler) handleGetSweep(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetSweep")
	defer span.End()

	report, err := h.service.GetSweep(ctx, r.PathValue("id"))
	if err != nil {
		h.fail(w, span, "get sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *EscalationHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetStats")
	defer span.End()

	stats, err := h.service.GetStats(ctx)
	if err != nil {
		h.fail(w, span, "get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *EscalationHandler) handleSaveBusiness(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.SaveBusiness")
	defer span.End()

	var req SaveBusinessRequest
	if !h.decode(w, r, span, &req) {
		return
	}

	business := req.ToDomainBusiness()
	if err := h.service.SaveBusiness(ctx, business); err != nil {
		h.fail(w, span, "save business", err)
		return
	}
	span.SetAttributes(attribute.String("business.id", business.ID))
	writeJSON(w, http.StatusOK, business)
}

// handleListBusinesses lists businesses by reliability (GET /businesses?category=).
func (h *EscalationHandler) handleListBusinesses(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListBusinesses")
	defer span.End()

	businesses, err := h.service.ListBusinesses(ctx, r.URL.Query().Get("category"))
	if err != nil {
		h.fail(w, span, "list businesses", err)
		return
	}
	writeJSON(w, http.StatusOK, businesses)
}

func (h *EscalationHandler) handleResetLoad(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ResetLoad")
	defer span.End()

	n, err := h.service.ResetDailyLoad(ctx)
	if err != nil {
		h.fail(w, span, "reset load", err)
		return
	}
	writeJSON(w, http.StatusOK, ResetLoadResponse{Reset: n})
}

// handleEligibility checks one business against a category and location
// (GET /businesses/{id}/eligibility?category=&lat=&lng=).
func (h *EscalationHandler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Eligibility")
	defer span.End()

	q := r.URL.Query()
	resp := EligibilityResponse{
		BusinessID: r.PathValue("id"),
		Category:   q.Get("category"),
	}
	if resp.Category == "" {
		http.Error(w, "category is required", http.StatusBadRequest)
		return
	}
	var err error
	if resp.Lat, err = strconv.ParseFloat(q.Get("lat"), 64); err != nil {
		http.Error(w, "lat must be a number", http.StatusBadRequest)
		return
	}
	if resp.Lng, err = strconv.ParseFloat(q.Get("lng"), 64); err != nil {
		http.Error(w, "lng must be a number", http.StatusBadRequest)
		return
	}

	resp.CanHandle, err = h.service.CanBusinessHandle(ctx, resp.BusinessID, resp.Category, resp.Lat, resp.Lng)
	if err != nil {
		h.fail(w, span, "check eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *EscalationHandler) handleSaveTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.SaveTask")
	defer span.End()

	var req SaveTaskRequest
	if !h.decode(w, r, span, &req) {
		return
	}

	task := req.ToDomainTask()
	if err := h.service.SaveTask(ctx, task); err != nil {
		h.fail(w, span, "save task", err)
		return
	}
	span.SetAttributes(attribute.String("task.id", task.ID))
	writeJSON(w, http.StatusOK, task)
}

func (h *EscalationHandler) handleDeclineTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.DeclineTask")
	defer span.End()

	task, err := h.service.DeclineTask(ctx, r.PathValue("id"))
	if err != nil {
		h.fail(w, span, "decline task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *EscalationHandler) handleFinalizeTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.FinalizeTask")
	defer span.End()

	var info domain.VolunteerInfo
	if !h.decode(w, r, span, &info) {
		return
	}

	task, err := h.service.FinalizeTask(ctx, r.PathValue("id"), info)
	if err != nil {
		h.fail(w, span, "finalize task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// decode reads and validates a JSON body. It writes the 400 response itself
// and reports whether the handler should continue.
func (h *EscalationHandler) decode(w http.ResponseWriter, r *http.Request, span trace.Span, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}

	if err := h.validate.Struct(v); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var validationErrors []string
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				validationErrors = append(validationErrors,
					"Field '"+fe.Namespace()+"' failed on the '"+fe.Tag()+"' tag.",
				)
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Validation failed",
			"details": validationErrors,
		})
		return false
	}
	return true
}

// fail maps service errors to status codes.
func (h *EscalationHandler) fail(w http.ResponseWriter, span trace.Span, op string, err error) {
	span.RecordError(err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrBusinessNotFound),
		errors.Is(err, domain.ErrSweepNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSweepInProgress),
		errors.Is(err, domain.ErrLockNotAcquired),
		errors.Is(err, domain.ErrAlreadyContacted),
		errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrCapacityExhausted):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		span.SetStatus(codes.Error, "Failed to "+op)
		h.logger.Error("request failed", "operation", op, "error", err)
		http.Error(w, "Internal server error", status)
		return
	}
	h.logger.Warn("request rejected", "operation", op, "status", status, "error", err)
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
