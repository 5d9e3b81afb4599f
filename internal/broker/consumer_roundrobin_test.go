package broker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/models"
	"github.com/ternarybob/taskbroker/internal/storage/badger"
)

func newTestConsumerStore(t *testing.T) *badger.ConsumerStore {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badger.Open(logger, badger.Options{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return badger.NewConsumerStore(db, logger)
}

func TestPickReadyConsumerRoundRobins(t *testing.T) {
	consumers := newTestConsumerStore(t)
	require.NoError(t, consumers.Upsert(&models.Consumer{Topic: "embed", EndpointURL: "http://a", Ready: true}))
	require.NoError(t, consumers.Upsert(&models.Consumer{Topic: "embed", EndpointURL: "http://b", Ready: true}))

	d := &DeliveryLoop{consumers: consumers, logger: arbor.NewLogger(), rr: make(map[string]int)}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		c := d.pickReadyConsumer("embed")
		require.NotNil(t, c)
		seen[c.EndpointURL] = true
	}
	require.Len(t, seen, 2)
}

func TestPickReadyConsumerSkipsUnready(t *testing.T) {
	consumers := newTestConsumerStore(t)
	require.NoError(t, consumers.Upsert(&models.Consumer{Topic: "embed", EndpointURL: "http://a", Ready: false}))

	d := &DeliveryLoop{consumers: consumers, logger: arbor.NewLogger(), rr: make(map[string]int)}
	require.Nil(t, d.pickReadyConsumer("embed"))
}

func TestPickReadyConsumerUnknownTopicReturnsNil(t *testing.T) {
	consumers := newTestConsumerStore(t)
	d := &DeliveryLoop{consumers: consumers, logger: arbor.NewLogger(), rr: make(map[string]int)}
	require.Nil(t, d.pickReadyConsumer("unregistered"))
}
