package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/models"
	"github.com/ternarybob/taskbroker/internal/storage/badger"
)

// Service is the broker's core: durable task store, state machine
// enforcer, and consumer registry, grounded on the teacher's
// job_manager.go CRUD/transition conventions.
type Service struct {
	tasks             *badger.TaskStore
	consumers         *badger.ConsumerStore
	logger            arbor.ILogger
	processingTimeout time.Duration
}

// NewService constructs a Service over the given stores.
func NewService(tasks *badger.TaskStore, consumers *badger.ConsumerStore, logger arbor.ILogger, processingTimeout time.Duration) *Service {
	return &Service{
		tasks:             tasks,
		consumers:         consumers,
		logger:            logger,
		processingTimeout: processingTimeout,
	}
}

// CreateTask validates and durably stores a new task. Delivery is
// asynchronous: the delivery loop picks it up on its next tick.
func (s *Service) CreateTask(req models.CreateTaskRequest, idempotencyKey string) (*models.Task, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if !isJSONObject(req.Input) {
		return nil, fmt.Errorf("%w: input must be a JSON object", models.ErrValidation)
	}

	if idempotencyKey != "" {
		if existing, err := s.tasks.FindByIdempotencyKey(idempotencyKey); err == nil {
			s.logger.Debug().Str("idempotency_key", idempotencyKey).Str("task_id", existing.ID).
				Msg("create task: idempotency key already used, returning existing task")
			return existing, nil
		}
	}

	now := time.Now()
	task := &models.Task{
		ID:               uuid.New().String(),
		Name:             req.Name,
		ParentID:         req.ParentID,
		IdempotencyKey:   idempotencyKey,
		Input:            req.Input,
		StatusCode:       models.StatusWaiting,
		Status:           "waiting",
		CreatedAt:        now,
		ScheduledStartAt: req.ScheduledStartAt,
	}
	task.AppendLogTrail(now, "task created")

	if err := s.tasks.Create(task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Info().Str("task_id", task.ID).Str("name", task.Name).Msg("task created")
	return task, nil
}

// GetTask returns the full task record.
func (s *Service) GetTask(id string) (*models.Task, error) {
	return s.tasks.Get(id)
}

// GetStatus returns the status projection of a task.
func (s *Service) GetStatus(id string) (models.StatusView, error) {
	task, err := s.tasks.Get(id)
	if err != nil {
		return models.StatusView{}, err
	}
	return task.ToStatusView(), nil
}

// UpdateTask applies a caller-supplied subset of mutable fields, enforcing
// the monotone-transition and idempotent-terminal-update rules from §3/§4.1.
func (s *Service) UpdateTask(id string, req models.UpdateTaskRequest) (*models.Task, error) {
	return s.tasks.Update(id, func(task *models.Task) error {
		now := time.Now()

		if req.StatusCode != nil {
			next := *req.StatusCode

			if task.StatusCode.Terminal() {
				if next == task.StatusCode && bytes.Equal(task.Output, req.Output) {
					s.logger.Debug().Str("task_id", id).Msg("duplicate terminal update treated as no-op")
					return nil
				}
				return fmt.Errorf("%w: task %s is already terminal (%s)", models.ErrTerminalMismatch, id, task.StatusCode)
			}

			if !task.StatusCode.CanTransitionTo(next) {
				return fmt.Errorf("%w: %s -> %s is not monotone", models.ErrInvalidTransition, task.StatusCode, next)
			}

			task.StatusCode = next
			task.AppendLogTrail(now, fmt.Sprintf("status -> %s", next))
			if next == models.StatusProcessing {
				task.StartedAt = &now
				deadline := now.Add(s.processingTimeout)
				task.ProcessingDeadline = &deadline
			}
			if next.Terminal() {
				task.EndedAt = &now
			}
		}

		if req.Output != nil {
			if task.StatusCode != models.StatusCompleted {
				return fmt.Errorf("%w: output may only be set when status_code=completed", models.ErrValidation)
			}
			task.Output = req.Output
		}

		if req.Status != nil {
			task.Status = *req.Status
		}
		if req.Progress != nil {
			task.Progress = *req.Progress
		}
		if req.State != nil {
			task.State = req.State
		}
		if req.ScheduledStartAt != nil {
			task.ScheduledStartAt = req.ScheduledStartAt
		}

		return nil
	})
}

// UpsertConsumer registers or updates a consumer row.
func (s *Service) UpsertConsumer(req models.UpsertConsumerRequest) error {
	if req.Topic == "" || req.EndpointURL == "" {
		return fmt.Errorf("%w: topic and endpoint_url are required", models.ErrValidation)
	}
	c := &models.Consumer{
		Topic:       req.Topic,
		EndpointURL: req.EndpointURL,
		HealthURL:   req.HealthURL,
		Ready:       req.Ready,
		LastSeenAt:  time.Now(),
	}
	if err := s.consumers.Upsert(c); err != nil {
		return err
	}
	s.logger.Info().Str("topic", c.Topic).Str("endpoint", c.EndpointURL).Bool("ready", c.Ready).Msg("consumer upserted")
	return nil
}

// RemoveConsumer deregisters a consumer row.
func (s *Service) RemoveConsumer(topic, endpointURL string) error {
	return s.consumers.Remove(topic, endpointURL)
}

func isJSONObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	_, ok := v.(map[string]interface{})
	return ok
}
