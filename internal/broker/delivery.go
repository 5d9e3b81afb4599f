package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/httpclient"
	"github.com/ternarybob/taskbroker/internal/models"
	"github.com/ternarybob/taskbroker/internal/storage/badger"
)

// DeliveryConfig tunes the delivery loop's cadence and retry behavior.
type DeliveryConfig struct {
	PollInterval      time.Duration
	Concurrency       int
	AttemptCeiling    int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	RequestTimeout    time.Duration
	ProcessingTimeout time.Duration
	// SelfBaseURL is this broker's own externally-reachable base URL, used
	// to build each delivered task's status_callback_url.
	SelfBaseURL string
}

// DeliveryLoop implements §4.1's delivery algorithm: select waiting tasks
// with a ready consumer, POST them, and apply backoff or terminal failure
// based on the observed outcome. Every mutation goes through
// TaskStore.Update's per-task lock, but selecting a task takes no claim:
// two loops running over the same store would each deliver the same
// waiting task. A single instance never does, because each tick waits for
// all of its deliveries before the next selection.
type DeliveryLoop struct {
	tasks     *badger.TaskStore
	consumers *badger.ConsumerStore
	client    *httpclient.DeliveryClient
	logger    arbor.ILogger
	cfg       DeliveryConfig

	rrMu sync.Mutex
	rr   map[string]int // round-robin cursor per topic
}

// NewDeliveryLoop constructs a DeliveryLoop.
func NewDeliveryLoop(tasks *badger.TaskStore, consumers *badger.ConsumerStore, logger arbor.ILogger, cfg DeliveryConfig) *DeliveryLoop {
	return &DeliveryLoop{
		tasks:     tasks,
		consumers: consumers,
		client:    httpclient.NewDeliveryClient(cfg.RequestTimeout),
		logger:    logger,
		cfg:       cfg,
		rr:        make(map[string]int),
	}
}

// Run blocks, ticking the delivery loop at cfg.PollInterval until ctx is
// cancelled.
func (d *DeliveryLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info().Dur("poll_interval", d.cfg.PollInterval).Msg("delivery loop started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("delivery loop stopped")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs one selection-and-delivery pass, bounded by cfg.Concurrency
// concurrent deliveries.
func (d *DeliveryLoop) tick(ctx context.Context) {
	candidates, err := d.tasks.ListWaitingReady(time.Now())
	if err != nil {
		d.logger.Warn().Err(err).Msg("delivery loop: failed to list waiting tasks")
		return
	}
	if len(candidates) == 0 {
		return
	}

	concurrency := d.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, task := range candidates {
		consumer := d.pickReadyConsumer(task.Name)
		if consumer == nil {
			// No ready consumer: remains status_code=0 per §3, retried
			// next tick.
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(task *models.Task, consumer *models.Consumer) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, task, consumer)
		}(task, consumer)
	}

	wg.Wait()
}

// pickReadyConsumer round-robins across the ready consumers registered for
// a topic.
func (d *DeliveryLoop) pickReadyConsumer(topic string) *models.Consumer {
	all, err := d.consumers.ListByTopic(topic)
	if err != nil {
		d.logger.Warn().Err(err).Str("topic", topic).Msg("delivery loop: failed to list consumers")
		return nil
	}

	ready := make([]*models.Consumer, 0, len(all))
	for _, c := range all {
		if c.Ready {
			ready = append(ready, c)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	d.rrMu.Lock()
	idx := d.rr[topic] % len(ready)
	d.rr[topic]++
	d.rrMu.Unlock()

	return ready[idx]
}

// deliver performs one delivery attempt for a single task, per §4.1 steps
// 1-5.
func (d *DeliveryLoop) deliver(ctx context.Context, task *models.Task, consumer *models.Consumer) {
	updated, err := d.tasks.Update(task.ID, func(t *models.Task) error {
		t.Attempts++
		return nil
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("task_id", task.ID).Msg("delivery loop: failed to increment attempts")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	payload := models.WorkerDeliveryPayload{
		TaskID:            task.ID,
		Name:              task.Name,
		Input:             task.Input,
		StatusCallbackURL: fmt.Sprintf("%s/task/%s", d.cfg.SelfBaseURL, task.ID),
	}

	status, body, postErr := d.client.PostJSON(reqCtx, consumer.EndpointURL, payload)

	switch {
	case postErr != nil:
		d.logger.Debug().Err(postErr).Str("task_id", task.ID).Str("endpoint", consumer.EndpointURL).Msg("delivery transport error")
		d.backoffOrFail(updated)

	case status >= 200 && status < 300:
		d.logger.Debug().Str("task_id", task.ID).Str("endpoint", consumer.EndpointURL).Msg("task delivered")
		// Worker now owns the task; it reports processing/terminal state
		// itself via Update task.

	case status == 429 || (status >= 500 && status < 600):
		d.logger.Debug().Int("status", status).Str("task_id", task.ID).Msg("delivery transient failure, backing off")
		d.backoffOrFail(updated)

	default:
		// Non-retryable 4xx: malformed contract, fail immediately.
		if _, err := d.tasks.Update(task.ID, func(t *models.Task) error {
			if t.StatusCode.Terminal() {
				return nil
			}
			t.StatusCode = models.StatusFailed
			t.Status = fmt.Sprintf("delivery rejected (status %d): %s", status, truncate(body, 200))
			now := time.Now()
			t.EndedAt = &now
			return nil
		}); err != nil {
			d.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to mark task failed after non-retryable delivery response")
		}
	}
}

// backoffOrFail schedules the next delivery attempt with exponential
// backoff and jitter, or marks the task terminally failed as
// "undeliverable" once the attempt ceiling is reached.
func (d *DeliveryLoop) backoffOrFail(task *models.Task) {
	if task.Attempts >= d.cfg.AttemptCeiling {
		if _, err := d.tasks.Update(task.ID, func(t *models.Task) error {
			if t.StatusCode.Terminal() {
				return nil
			}
			t.StatusCode = models.StatusFailed
			t.Status = "undeliverable"
			now := time.Now()
			t.EndedAt = &now
			return nil
		}); err != nil {
			d.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to mark task undeliverable")
		}
		return
	}

	backoff := d.calculateBackoff(task.Attempts)
	nextAttempt := time.Now().Add(backoff)
	if _, err := d.tasks.Update(task.ID, func(t *models.Task) error {
		t.ScheduledStartAt = &nextAttempt
		return nil
	}); err != nil {
		d.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to schedule retry backoff")
	}
}

// calculateBackoff implements base*2^min(attempts,cap) with ±20% jitter,
// per §4.1.
func (d *DeliveryLoop) calculateBackoff(attempts int) time.Duration {
	base := d.cfg.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	backoff := float64(base) * pow2(attempts)
	if max := float64(d.cfg.MaxBackoff); max > 0 && backoff > max {
		backoff = max
	}
	jitter := backoff * 0.2 * (rand.Float64()*2 - 1)
	result := time.Duration(backoff + jitter)
	if result < 0 {
		result = 0
	}
	return result
}

func pow2(exp int) float64 {
	const cap = 10
	if exp > cap {
		exp = cap
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= 2
	}
	return result
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
