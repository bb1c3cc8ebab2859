package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func TestIntervalSchedule_Next(t *testing.T) {
	s := NewIntervalSchedule(30 * time.Second)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(30*time.Second), s.Next(now))
	assert.Equal(t, "@every 30s", s.String())
}

func TestDailyAtSchedule_NextIsStrictlyAfter(t *testing.T) {
	s := NewMidnightSchedule(time.UTC)

	// Shortly before midnight: fires at the coming boundary.
	beforeMidnight := time.Date(2026, 3, 10, 23, 59, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), s.Next(beforeMidnight))

	// Exactly at midnight: fires at the next day's boundary, never again
	// for the same instant.
	atMidnight := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), s.Next(atMidnight))
}

func TestDailyAtSchedule_FixedTime(t *testing.T) {
	s := NewDailyAtSchedule(4, 30, time.UTC)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 11, 4, 30, 0, 0, time.UTC), s.Next(now))
}

func TestScheduler_RegisterRejectsDuplicates(t *testing.T) {
	s := New(Config{})
	job := &countingJob{name: "sweep"}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	err := s.Register(job, NewIntervalSchedule(time.Minute))
	assert.ErrorIs(t, err, ErrJobAlreadyExists)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(Config{})
	job := &countingJob{name: "rollover"}
	require.NoError(t, s.Register(job, NewMidnightSchedule(time.UTC)))

	result, err := s.RunNow(context.Background(), "rollover")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, job.runs)

	last := s.LastRun("rollover")
	require.NotNil(t, last)
	assert.Equal(t, "rollover", last.JobName)
}

func TestScheduler_RunNowPropagatesJobError(t *testing.T) {
	s := New(Config{})
	jobErr := errors.New("store down")
	job := &countingJob{name: "sweep", err: jobErr}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))

	result, err := s.RunNow(context.Background(), "sweep")
	assert.ErrorIs(t, err, jobErr)
	assert.False(t, result.Success)
}

func TestScheduler_RunNowUnknownJob(t *testing.T) {
	s := New(Config{})

	_, err := s.RunNow(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Register(&countingJob{name: "sweep"}, NewIntervalSchedule(time.Hour)))

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
