package models

import (
	"net/url"
	"time"
)

// Consumer is a registered HTTP worker for a topic (task name).
//
// Invariant: at most one Consumer row per (Topic, EndpointURL); a topic may
// have several consumers registered against different endpoints, in which
// case the delivery loop round-robins between the ready ones.
type Consumer struct {
	Topic       string    `json:"topic" badgerhold:"index"`
	EndpointURL string    `json:"endpoint_url"`
	HealthURL   string    `json:"health_url,omitempty"`
	Ready       bool      `json:"ready"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Key returns the composite primary key used by the consumer store.
func (c *Consumer) Key() string {
	return c.Topic + "|" + c.EndpointURL
}

// ResolvedHealthURL returns HealthURL, or endpoint host + /health when unset,
// per §3 "health_url (optional; defaults to endpoint host + /health)".
func (c *Consumer) ResolvedHealthURL() string {
	if c.HealthURL != "" {
		return c.HealthURL
	}
	return deriveHealthURL(c.EndpointURL)
}

// deriveHealthURL builds host + /health from an endpoint URL, falling back
// to the raw endpoint if it fails to parse.
func deriveHealthURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return endpoint
	}
	return u.Scheme + "://" + u.Host + "/health"
}
