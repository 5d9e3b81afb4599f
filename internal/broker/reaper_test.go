package broker

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestNewReaperParsesValidSchedule(t *testing.T) {
	r := NewReaper(nil, arbor.NewLogger(), ReaperConfig{Interval: time.Minute, Schedule: "*/5 * * * *"})
	require.NotNil(t, r.schedule)
}

func TestNewReaperFallsBackToIntervalOnInvalidSchedule(t *testing.T) {
	r := NewReaper(nil, arbor.NewLogger(), ReaperConfig{Interval: time.Minute, Schedule: "not a cron expression"})
	require.Nil(t, r.schedule)
}

func TestNewReaperHasNoScheduleWhenUnset(t *testing.T) {
	r := NewReaper(nil, arbor.NewLogger(), ReaperConfig{Interval: time.Minute})
	require.Nil(t, r.schedule)
}

func TestReaperScheduleNextAdvancesPastOccurrence(t *testing.T) {
	sched, err := cron.ParseStandard("*/5 * * * *")
	require.NoError(t, err)
	r := NewReaper(nil, arbor.NewLogger(), ReaperConfig{Interval: time.Minute, Schedule: "*/5 * * * *"})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := sched.Next(now)
	require.Equal(t, want, r.schedule.Next(now))
	require.True(t, r.schedule.Next(want).After(want), "next occurrence must advance past the one just reached")
}
