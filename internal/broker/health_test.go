package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/models"
)

func TestTickFlipsReadyFalseOnlyAfterConsecutiveFailures(t *testing.T) {
	consumers := newTestConsumerStore(t)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	c := &models.Consumer{Topic: "embed", EndpointURL: "http://worker", HealthURL: down.URL, Ready: true}
	require.NoError(t, consumers.Upsert(c))

	h := NewHealthProbeLoop(consumers, arbor.NewLogger(), HealthProbeConfig{FailureThreshold: 3, Timeout: 2 * time.Second})

	h.tick(context.Background())
	got, err := consumers.ListByTopic("embed")
	require.NoError(t, err)
	require.True(t, got[0].Ready, "should stay ready below the failure threshold")

	h.tick(context.Background())
	got, err = consumers.ListByTopic("embed")
	require.NoError(t, err)
	require.True(t, got[0].Ready, "should stay ready at 2 of 3 failures")

	h.tick(context.Background())
	got, err = consumers.ListByTopic("embed")
	require.NoError(t, err)
	require.False(t, got[0].Ready, "should flip unready at the 3rd consecutive failure")
}

func TestTickFlipsReadyTrueOnSingleSuccess(t *testing.T) {
	consumers := newTestConsumerStore(t)
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	c := &models.Consumer{Topic: "embed", EndpointURL: "http://worker", HealthURL: up.URL, Ready: false}
	require.NoError(t, consumers.Upsert(c))

	h := NewHealthProbeLoop(consumers, arbor.NewLogger(), HealthProbeConfig{FailureThreshold: 3, Timeout: 2 * time.Second})
	h.failures[c.Key()] = 2

	h.tick(context.Background())
	got, err := consumers.ListByTopic("embed")
	require.NoError(t, err)
	require.True(t, got[0].Ready)
	require.Equal(t, 0, h.failures[c.Key()])
}

func TestTickPrunesStaleFailureEntries(t *testing.T) {
	consumers := newTestConsumerStore(t)
	h := NewHealthProbeLoop(consumers, arbor.NewLogger(), HealthProbeConfig{FailureThreshold: 3, Timeout: 2 * time.Second})
	h.failures["embed|http://gone"] = 2

	h.tick(context.Background())
	_, stillPresent := h.failures["embed|http://gone"]
	require.False(t, stillPresent)
}
