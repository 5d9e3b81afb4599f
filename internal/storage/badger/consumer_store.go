package badger

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ConsumerStore is the durable consumer registry, keyed by the composite
// (topic, endpoint_url). Writes are serialized per key, per §5's "consumer
// registry is read-mostly; writes are serialized per (topic, endpoint_url)".
type ConsumerStore struct {
	db     *DB
	logger arbor.ILogger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewConsumerStore constructs a ConsumerStore over an open DB.
func NewConsumerStore(db *DB, logger arbor.ILogger) *ConsumerStore {
	return &ConsumerStore{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *ConsumerStore) lockFor(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Upsert creates or replaces a consumer row for (topic, endpoint_url).
func (s *ConsumerStore) Upsert(c *models.Consumer) error {
	key := c.Key()
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.db.Store().Upsert(key, c); err != nil {
		return fmt.Errorf("failed to upsert consumer %s: %w", key, err)
	}
	return nil
}

// Remove deletes a consumer row by (topic, endpoint_url).
func (s *ConsumerStore) Remove(topic, endpointURL string) error {
	key := topic + "|" + endpointURL
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.db.Store().Delete(key, &models.Consumer{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrConsumerNotFound
		}
		return fmt.Errorf("failed to remove consumer %s: %w", key, err)
	}
	return nil
}

// ListByTopic returns every registered consumer for a topic, ready or not;
// callers filter for readiness themselves.
func (s *ConsumerStore) ListByTopic(topic string) ([]*models.Consumer, error) {
	var consumers []models.Consumer
	if err := s.db.Store().Find(&consumers, badgerhold.Where("Topic").Eq(topic)); err != nil {
		return nil, fmt.Errorf("failed to list consumers for topic %s: %w", topic, err)
	}
	out := make([]*models.Consumer, len(consumers))
	for i := range consumers {
		out[i] = &consumers[i]
	}
	return out, nil
}

// ListAll returns every registered consumer, the health prober's sweep set.
func (s *ConsumerStore) ListAll() ([]*models.Consumer, error) {
	var consumers []models.Consumer
	if err := s.db.Store().Find(&consumers, &badgerhold.Query{}); err != nil {
		return nil, fmt.Errorf("failed to list consumers: %w", err)
	}
	out := make([]*models.Consumer, len(consumers))
	for i := range consumers {
		out[i] = &consumers[i]
	}
	return out, nil
}

// UpdateReady mutates a single consumer's Ready flag under its per-key lock.
func (s *ConsumerStore) UpdateReady(topic, endpointURL string, ready bool) error {
	key := topic + "|" + endpointURL
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var c models.Consumer
	if err := s.db.Store().Get(key, &c); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrConsumerNotFound
		}
		return fmt.Errorf("failed to get consumer %s: %w", key, err)
	}
	c.Ready = ready
	if err := s.db.Store().Update(key, &c); err != nil {
		return fmt.Errorf("failed to update consumer %s: %w", key, err)
	}
	return nil
}
