package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/observability"
	"github.com/ocecdr/cdrpush/internal/queue"
	"github.com/ocecdr/cdrpush/internal/repository"
)

const maxListAge = 30 * 24 * time.Hour

type JobService interface {
	Create(ctx context.Context, name, command string, args domain.JobArgs, email string) (int64, error)
	Load(ctx context.Context, jobID int64) (*domain.BatchJob, error)
	Transition(ctx context.Context, jobID int64, newStatus domain.JobStatus, actor domain.Actor) error
	List(ctx context.Context, params repository.JobListParams) ([]domain.BatchJob, error)
	ActiveCount(ctx context.Context, namePattern string) (int64, error)
}

type JobHandler struct {
	service   JobService
	publisher queue.Publisher
	logger    *zap.Logger
}

func NewJobHandler(service JobService, publisher queue.Publisher, logger *zap.Logger) (*JobHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("job service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{service: service, publisher: publisher, logger: logger}, nil
}

func RegisterJobRoutes(router fiber.Router, service JobService, publisher queue.Publisher, logger *zap.Logger) error {
	h, err := NewJobHandler(service, publisher, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/jobs", h.CreateJob)
	v1.Get("/jobs", h.ListJobs)
	v1.Get("/jobs/active/count", h.ActiveJobCount)
	v1.Get("/jobs/:id", h.GetJob)
	v1.Post("/jobs/:id/stop", h.StopJob)

	return nil
}

type createJobRequest struct {
	Name    string         `json:"name"`
	Command string         `json:"command"`
	Args    domain.JobArgs `json:"args"`
	Email   string         `json:"email"`
}

type jobResponse struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Command  string         `json:"command"`
	Args     domain.JobArgs `json:"args,omitempty"`
	Email    string         `json:"email,omitempty"`
	Status   string         `json:"status"`
	Progress string         `json:"progress,omitempty"`
	Started  time.Time      `json:"started"`
	StatusAt time.Time      `json:"statusAt"`
}

type listJobsResponse struct {
	Data []jobResponse `json:"data"`
}

func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	correlationID := requestCorrelationID(c)
	ctx := observability.WithCorrelationID(c.Context(), correlationID)

	jobID, err := h.service.Create(ctx, req.Name, req.Command, req.Args, req.Email)
	if err != nil {
		return toHTTPError(err)
	}

	h.publishEvent(ctx, correlationID, jobID, req.Name, req.Command)

	job, err := h.service.Load(ctx, jobID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toJobResponse(job))
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	jobID, err := c.ParamsInt("id")
	if err != nil || jobID <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "job id must be a positive integer")
	}

	job, err := h.service.Load(c.Context(), int64(jobID))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

// StopJob requests an orderly stop of a running push. The running process
// notices the status change between document sends.
func (h *JobHandler) StopJob(c *fiber.Ctx) error {
	jobID, err := c.ParamsInt("id")
	if err != nil || jobID <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "job id must be a positive integer")
	}

	ctx := observability.WithCorrelationID(c.Context(), requestCorrelationID(c))
	if err := h.service.Transition(ctx, int64(jobID), domain.StatusStop, domain.ActorExternal); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"jobId":  jobID,
		"status": domain.StatusStop.String(),
	})
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	params, err := parseJobListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	jobs, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		j := job
		data = append(data, toJobResponse(&j))
	}
	return c.Status(fiber.StatusOK).JSON(listJobsResponse{Data: data})
}

func (h *JobHandler) ActiveJobCount(c *fiber.Ctx) error {
	count, err := h.service.ActiveCount(c.Context(), strings.TrimSpace(c.Query("name")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": count})
}

func (h *JobHandler) publishEvent(ctx context.Context, correlationID string, jobID int64, name, command string) {
	if h.publisher == nil {
		return
	}

	msg := queue.JobMessage{
		JobID:         jobID,
		Name:          name,
		Command:       command,
		Event:         queue.EventJobQueued,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
	}
	if err := h.publisher.Publish(ctx, queue.JobsQueueName, msg); err != nil {
		// Queue delivery is best effort; the job record is authoritative.
		observability.WithContextLogger(h.logger, ctx).Warn("failed to publish job event",
			zap.Int64("job_id", jobID),
			zap.Error(err),
		)
	}
}

func parseJobListParams(c *fiber.Ctx) (repository.JobListParams, error) {
	params := repository.JobListParams{
		Name: strings.TrimSpace(c.Query("name")),
	}

	if hours := c.QueryInt("maxAgeHours", 0); hours > 0 {
		age := time.Duration(hours) * time.Hour
		if age > maxListAge {
			return repository.JobListParams{}, fmt.Errorf(
				"%w: maxAgeHours must be at most %d", domain.ErrValidation, int(maxListAge.Hours()))
		}
		params.MaxAge = age
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		for _, item := range strings.Split(rawStatus, ",") {
			status, err := domain.ParseJobStatusFromString(item)
			if err != nil {
				return repository.JobListParams{}, err
			}
			params.Statuses = append(params.Statuses, status)
		}
	}

	if params.Name == "" && params.MaxAge == 0 && len(params.Statuses) == 0 {
		// Unfiltered scans are rejected downstream; default to the last day.
		params.MaxAge = 24 * time.Hour
	}

	return params, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return uuid.NewString()
}

func toJobResponse(job *domain.BatchJob) jobResponse {
	if job == nil {
		return jobResponse{}
	}

	return jobResponse{
		ID:       job.ID,
		Name:     job.Name,
		Command:  job.Command,
		Args:     job.Args,
		Email:    job.Email,
		Status:   job.Status.String(),
		Progress: job.Progress,
		Started:  job.Started,
		StatusAt: job.StatusAt,
	}
}

func toHTTPError(err error) error {
	var transitionErr *domain.InvalidTransitionError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.As(err, &transitionErr), errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
