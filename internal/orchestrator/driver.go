// Package orchestrator drives the index-document pipeline described in
// §4.2: sequential steps, per-step fan-in/fan-out child tasks, polling,
// retries, and aggregate result propagation into the root task.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/brokerclient"
	"github.com/ternarybob/taskbroker/internal/models"
)

// Config tunes the driver's polling cadence and fan-out concurrency.
type Config struct {
	FanOutConcurrency  int
	PollInterval       time.Duration
	MaxPollInterval    time.Duration
	DefaultStepTimeout time.Duration
	DefaultRetryCap    int
}

// Driver executes one root index-document task's pipeline to completion.
type Driver struct {
	broker *brokerclient.Client
	logger arbor.ILogger
	cfg    Config
}

// New constructs a Driver.
func New(broker *brokerclient.Client, logger arbor.ILogger, cfg Config) *Driver {
	return &Driver{broker: broker, logger: logger, cfg: cfg}
}

// stepFailure carries the reason a step could not be completed, for
// inclusion in the root task's terminal status string.
type stepFailure struct {
	step   models.StepName
	reason string
}

func (f *stepFailure) Error() string {
	return fmt.Sprintf("step=%s failed: %s", f.step, f.reason)
}

// Run executes the full pipeline for rootTaskID, per §4.2's 5-step
// algorithm, and concludes the root task with success or failure.
func (d *Driver) Run(ctx context.Context, rootTaskID string, def models.PipelineDefinition) {
	logger := d.logger.WithCorrelationId(rootTaskID)

	processing := models.StatusProcessing
	if _, err := d.broker.UpdateTask(ctx, rootTaskID, models.UpdateTaskRequest{StatusCode: &processing}); err != nil {
		logger.Error().Err(err).Msg("orchestrator: failed to mark root task processing")
		return
	}

	carry := models.NewCarry(def)

	var lastChunks []map[string]interface{}
	for _, step := range def.Steps {
		if d.rootCancelled(ctx, rootTaskID) {
			logger.Info().Msg("orchestrator: root task cancelled, stopping before next step")
			return
		}

		if step.Name.FanOut() {
			outputs, failure := d.runFanOutStep(ctx, rootTaskID, step, lastChunks)
			if failure != nil {
				if step.Options.OnError() == models.OnErrorContinue {
					logger.Warn().Str("step", string(step.Name)).Msg("orchestrator: step failed, continuing per on_error=continue")
					continue
				}
				d.failRoot(ctx, rootTaskID, failure)
				return
			}
			_ = outputs // fan-out outputs are not merged back into carry, per §4.2.
			continue
		}

		merged, failure := d.runFanInStep(ctx, rootTaskID, step, carry)
		if failure != nil {
			if step.Options.OnError() == models.OnErrorContinue {
				logger.Warn().Str("step", string(step.Name)).Msg("orchestrator: step failed, continuing per on_error=continue")
				continue
			}
			d.failRoot(ctx, rootTaskID, failure)
			return
		}
		carry = merged
		if step.Name == models.StepChunk {
			lastChunks = carry.Chunks()
		}
	}

	completed := models.StatusCompleted
	output, _ := json.Marshal(map[string]interface{}{
		"chunks_indexed": len(lastChunks),
	})
	status := "pipeline completed"
	if _, err := d.broker.UpdateTask(ctx, rootTaskID, models.UpdateTaskRequest{
		StatusCode: &completed,
		Status:     &status,
		Output:     output,
	}); err != nil {
		logger.Error().Err(err).Msg("orchestrator: failed to mark root task completed")
	}
}

// runFanInStep creates exactly one child task with merge(carry, options),
// awaits it with retries, and returns the merged carry.
func (d *Driver) runFanInStep(ctx context.Context, rootTaskID string, step models.PipelineStep, carry models.Carry) (models.Carry, *stepFailure) {
	input := carry.Merge(step.Options)
	if step.Name == models.StepRedact || step.Name == models.StepChunk {
		input["s3_key"] = carry.ResolvedS3Key()
	}

	output, err := d.createAndAwaitWithRetry(ctx, rootTaskID, step, input)
	if err != nil {
		return nil, &stepFailure{step: step.Name, reason: err.Error()}
	}

	var overlay map[string]interface{}
	if len(output) > 0 {
		if unmarshalErr := json.Unmarshal(output, &overlay); unmarshalErr != nil {
			return nil, &stepFailure{step: step.Name, reason: "output not a JSON object: " + unmarshalErr.Error()}
		}
	}
	return carry.Merge(overlay), nil
}

// runFanOutStep creates one child task per chunk, bounded by
// cfg.FanOutConcurrency, and awaits all of them. Once every chunk has
// finished, the step is reported failed if more chunks failed than
// max_child_failures allows (whatever on_error says); when unset, the first
// chunk failure fails the step. A "fatal" step cancels the remaining
// in-flight chunks on the first failure instead of letting siblings run to
// completion.
func (d *Driver) runFanOutStep(ctx context.Context, rootTaskID string, step models.PipelineStep, chunks []map[string]interface{}) ([]json.RawMessage, *stepFailure) {
	if len(chunks) == 0 {
		return nil, nil
	}

	concurrency := d.cfg.FanOutConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	fanCtx := ctx
	cancel := func() {}
	if step.Options.OnError() == models.OnErrorFatal {
		fanCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	outputs := make([]json.RawMessage, len(chunks))
	failures := make([]*stepFailure, len(chunks))
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, chunk map[string]interface{}) {
			defer wg.Done()
			defer func() { <-sem }()

			input := map[string]interface{}{"chunk_id": chunk["chunk_id"]}
			if v, ok := chunk["workspace_id"]; ok {
				input["workspace_id"] = v
			}

			out, err := d.createAndAwaitWithRetry(fanCtx, rootTaskID, step, input)
			if err != nil {
				failures[i] = &stepFailure{step: step.Name, reason: err.Error()}
				cancel()
				return
			}
			outputs[i] = out
		}(i, chunk)
	}
	wg.Wait()

	failureCount := 0
	var firstFailure *stepFailure
	for _, f := range failures {
		if f == nil {
			continue
		}
		failureCount++
		if firstFailure == nil {
			firstFailure = f
		}
	}
	if failureCount == 0 {
		return outputs, nil
	}

	maxFailures := step.Options.MaxChildFailures()
	if maxFailures >= 0 && failureCount <= maxFailures {
		return outputs, nil
	}
	return outputs, firstFailure
}

// createAndAwaitWithRetry creates a child task and polls it to completion,
// retrying on failure up to the step's retry cap with exponential backoff,
// per §4.2 step 3's bullet on worker-reported failure. When the step sets
// options.schedule, the first attempt's child is held back via
// ScheduledStartAt until the next occurrence of that cron expression;
// retries after a failure are not re-gated.
func (d *Driver) createAndAwaitWithRetry(ctx context.Context, rootTaskID string, step models.PipelineStep, input map[string]interface{}) (json.RawMessage, error) {
	retryCap := step.Options.RetryCap()
	if retryCap < 0 {
		retryCap = d.cfg.DefaultRetryCap
	}
	timeout := d.cfg.DefaultStepTimeout
	if _, set := step.Options["timeout_seconds"]; set && step.Options.TimeoutSeconds() > 0 {
		timeout = time.Duration(step.Options.TimeoutSeconds()) * time.Second
	}
	if timeout <= 0 {
		timeout = time.Duration(models.StepOptions(nil).TimeoutSeconds()) * time.Second
	}

	var scheduledStartAt *time.Time
	if expr, ok := step.Options.Schedule(); ok {
		sched, parseErr := cron.ParseStandard(expr)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid options.schedule %q: %w", expr, parseErr)
		}
		next := sched.Next(time.Now())
		scheduledStartAt = &next
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal child input: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= retryCap; attempt++ {
		if attempt > 0 {
			time.Sleep(d.retryBackoff(attempt))
		}

		createReq := models.CreateTaskRequest{
			Name:     string(step.Name),
			Input:    body,
			ParentID: rootTaskID,
		}
		if attempt == 0 {
			createReq.ScheduledStartAt = scheduledStartAt
		}

		child, createErr := d.broker.CreateTask(ctx, createReq, uuid.New().String())
		if createErr != nil {
			lastErr = createErr
			continue
		}

		output, awaitErr := d.awaitChild(ctx, child.ID, timeout)
		if awaitErr == nil {
			return output, nil
		}
		lastErr = awaitErr
	}

	if retryCap == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", retryCap, lastErr)
}

// awaitChild polls a child task's status at a jittered cadence between
// cfg.PollInterval and cfg.MaxPollInterval until it reaches a terminal
// state or timeout elapses.
func (d *Driver) awaitChild(ctx context.Context, childID string, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.Now().Add(timeout)
	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	maxInterval := d.cfg.MaxPollInterval
	if maxInterval <= 0 {
		maxInterval = 5 * time.Second
	}

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("child task %s exceeded step timeout", childID)
		}

		view, err := d.broker.GetStatus(ctx, childID)
		if err != nil {
			d.logger.Debug().Err(err).Str("child_id", childID).Msg("orchestrator: status poll failed, retrying")
		} else {
			switch view.StatusCode {
			case models.StatusCompleted:
				return view.Output, nil
			case models.StatusFailed:
				return nil, fmt.Errorf("child task %s failed: %s", childID, view.Status)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(interval)):
		}

		interval = interval * 2
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}

// retryBackoff is the inter-retry delay for a fresh child task attempt.
func (d *Driver) retryBackoff(attempt int) time.Duration {
	base := d.cfg.PollInterval
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoff := base * time.Duration(1<<uint(attempt))
	if d.cfg.MaxPollInterval > 0 && backoff > d.cfg.MaxPollInterval {
		backoff = d.cfg.MaxPollInterval
	}
	return jitter(backoff)
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.2 * (rand.Float64()*2 - 1)
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		result = 0
	}
	return result
}

// rootCancelled reports whether the root task was externally failed,
// signalling best-effort cancellation per §4.2's cancellation clause.
func (d *Driver) rootCancelled(ctx context.Context, rootTaskID string) bool {
	task, err := d.broker.GetTask(ctx, rootTaskID)
	if err != nil {
		return false
	}
	return task.StatusCode == models.StatusFailed
}

// failRoot marks the root task terminally failed, naming the failing step,
// per §7's user-visible failure format.
func (d *Driver) failRoot(ctx context.Context, rootTaskID string, failure *stepFailure) {
	failed := models.StatusFailed
	status := failure.Error()
	if _, err := d.broker.UpdateTask(ctx, rootTaskID, models.UpdateTaskRequest{
		StatusCode: &failed,
		Status:     &status,
	}); err != nil {
		d.logger.Error().Err(err).Str("task_id", rootTaskID).Msg("orchestrator: failed to mark root task failed")
	}
}
