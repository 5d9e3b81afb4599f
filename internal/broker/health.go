package broker

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/httpclient"
	"github.com/ternarybob/taskbroker/internal/storage/badger"
)

// HealthProbeConfig tunes the consumer health-probe loop.
type HealthProbeConfig struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// HealthProbeLoop periodically GETs every registered consumer's health URL
// and flips its ready flag, per §5's "consumer readiness" model: ready
// flips false after FailureThreshold consecutive probe failures, and back
// to true on a single success.
//
// Consumer records returned by ConsumerStore.ListAll are freshly
// deserialized on every tick, so the failure streak cannot live on the
// Consumer value itself — it's tracked here, keyed by Consumer.Key(), and
// survives across ticks for the lifetime of the loop.
type HealthProbeLoop struct {
	consumers *badger.ConsumerStore
	client    *httpclient.DeliveryClient
	logger    arbor.ILogger
	cfg       HealthProbeConfig
	failures  map[string]int
}

// NewHealthProbeLoop constructs a HealthProbeLoop.
func NewHealthProbeLoop(consumers *badger.ConsumerStore, logger arbor.ILogger, cfg HealthProbeConfig) *HealthProbeLoop {
	return &HealthProbeLoop{
		consumers: consumers,
		client:    httpclient.NewDeliveryClient(cfg.Timeout),
		logger:    logger,
		cfg:       cfg,
		failures:  make(map[string]int),
	}
}

// Run blocks, probing at cfg.Interval until ctx is cancelled.
func (h *HealthProbeLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.logger.Info().Dur("interval", h.cfg.Interval).Msg("health probe loop started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("health probe loop stopped")
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *HealthProbeLoop) tick(ctx context.Context) {
	consumers, err := h.consumers.ListAll()
	if err != nil {
		h.logger.Warn().Err(err).Msg("health probe: failed to list consumers")
		return
	}

	seen := make(map[string]bool, len(consumers))
	for _, c := range consumers {
		key := c.Key()
		seen[key] = true

		reqCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
		status, _, err := h.client.GetJSON(reqCtx, c.ResolvedHealthURL())
		cancel()

		healthy := err == nil && status >= 200 && status < 300
		wasReady := c.Ready

		nowReady := c.Ready
		if healthy {
			h.failures[key] = 0
			nowReady = true
		} else {
			h.failures[key]++
			if h.failures[key] >= h.cfg.FailureThreshold {
				nowReady = false
			}
		}

		if nowReady != wasReady {
			if err := h.consumers.UpdateReady(c.Topic, c.EndpointURL, nowReady); err != nil {
				h.logger.Warn().Err(err).Str("topic", c.Topic).Str("endpoint", c.EndpointURL).
					Msg("health probe: failed to update consumer readiness")
				continue
			}
			h.logger.Info().Str("topic", c.Topic).Str("endpoint", c.EndpointURL).Bool("ready", nowReady).
				Msg("consumer readiness changed")
		}
	}

	for key := range h.failures {
		if !seen[key] {
			delete(h.failures, key)
		}
	}
}
