package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

// scriptedApplier returns the scripted errors in order, then succeeds.
type scriptedApplier struct {
	mu     sync.Mutex
	errs   []error
	always error
	calls  int
}

func (s *scriptedApplier) Apply(ctx context.Context, req dto.ApplyPointsRequest) (*dto.ApplyPointsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.always != nil {
		return nil, s.always
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &dto.ApplyPointsResult{EffectiveAmount: req.Amount, BalanceAfter: req.Amount}, nil
}

func (s *scriptedApplier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{MaxAttempts: 3, RetryDelay: time.Millisecond, BreakerFailures: 10, BreakerTimeout: time.Minute}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	applier := &scriptedApplier{errs: []error{errors.New("connection reset"), errors.New("connection reset")}}
	sink := repository.NewMemoryDeadLetterStore()
	d := NewPointsDispatcher(applier, sink, nil, NewMetricsService(), testDispatcherConfig())

	res, err := d.Dispatch(context.Background(), "attendance", earnRequest("stu-1", 5, models.SourceAttendance))
	require.NoError(t, err)
	assert.Equal(t, 5, res.EffectiveAmount)
	assert.Equal(t, 3, applier.callCount())

	letters, _, err := sink.List(context.Background(), models.DeadLetterFilter{})
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestDispatchDoesNotRetryBusinessRejections(t *testing.T) {
	applier := &scriptedApplier{always: appErrors.Clone(appErrors.ErrLimitReached, "daily points limit reached")}
	sink := repository.NewMemoryDeadLetterStore()
	d := NewPointsDispatcher(applier, sink, nil, nil, testDispatcherConfig())

	_, err := d.Dispatch(context.Background(), "attendance", earnRequest("stu-1", 5, models.SourceAttendance))
	require.ErrorIs(t, err, appErrors.ErrLimitReached)
	assert.NotErrorIs(t, err, ErrDeadLettered)
	assert.Equal(t, 1, applier.callCount())

	letters, _, err := sink.List(context.Background(), models.DeadLetterFilter{})
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestDispatchDeadLettersAfterExhaustion(t *testing.T) {
	applier := &scriptedApplier{always: errors.New("connection refused")}
	sink := repository.NewMemoryDeadLetterStore()
	d := NewPointsDispatcher(applier, sink, nil, nil, testDispatcherConfig())

	req := earnRequest("stu-1", 5, models.SourceAttendance)
	ref := "check-in-1"
	req.SourceRef = &ref
	_, err := d.Dispatch(context.Background(), "attendance", req)
	require.ErrorIs(t, err, ErrDeadLettered)
	assert.Equal(t, 3, applier.callCount())

	letters, total, err := sink.List(context.Background(), models.DeadLetterFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	letter := letters[0]
	assert.Equal(t, "attendance", letter.Collaborator)
	assert.Equal(t, "stu-1", letter.StudentID)
	assert.Equal(t, 3, letter.Attempts)
	assert.Equal(t, models.DeadLetterPending, letter.Status)
	assert.Contains(t, letter.LastError, "connection refused")

	var payload awardPayload
	require.NoError(t, json.Unmarshal(letter.Payload, &payload))
	assert.Equal(t, 5, payload.Amount)
	require.NotNil(t, payload.SourceRef)
	assert.Equal(t, "check-in-1", *payload.SourceRef)
}

// strictSink refuses writes on a done context, like a database driver would.
type strictSink struct {
	*repository.MemoryDeadLetterStore
}

func (s strictSink) Create(ctx context.Context, letter *models.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryDeadLetterStore.Create(ctx, letter)
}

func TestDispatchDeadLettersWhenCallerCancelsDuringBackoff(t *testing.T) {
	applier := &scriptedApplier{always: errors.New("connection refused")}
	store := repository.NewMemoryDeadLetterStore()
	cfg := testDispatcherConfig()
	cfg.RetryDelay = time.Second
	d := NewPointsDispatcher(applier, strictSink{store}, nil, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := d.Dispatch(ctx, "attendance", earnRequest("stu-1", 5, models.SourceAttendance))
	require.ErrorIs(t, err, ErrDeadLettered)
	assert.Equal(t, 1, applier.callCount())

	letters, total, err := store.List(context.Background(), models.DeadLetterFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, 1, letters[0].Attempts)
	assert.Contains(t, letters[0].LastError, "context canceled")
}

func TestDispatchOpensBreaker(t *testing.T) {
	applier := &scriptedApplier{always: errors.New("connection refused")}
	cfg := testDispatcherConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerFailures = 2
	d := NewPointsDispatcher(applier, repository.NewMemoryDeadLetterStore(), nil, nil, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := d.Dispatch(ctx, "attendance", earnRequest("stu-1", 5, models.SourceAttendance))
		require.ErrorIs(t, err, ErrDeadLettered)
	}
	_, err := d.Dispatch(ctx, "attendance", earnRequest("stu-1", 5, models.SourceAttendance))
	require.ErrorIs(t, err, ErrDeadLettered)
	assert.Equal(t, 2, applier.callCount())
}

func TestDispatchBusinessRejectionsKeepBreakerClosed(t *testing.T) {
	applier := &scriptedApplier{always: appErrors.Clone(appErrors.ErrInsufficientPoints, "")}
	cfg := testDispatcherConfig()
	cfg.BreakerFailures = 1
	d := NewPointsDispatcher(applier, nil, nil, nil, cfg)

	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(context.Background(), "attendance", spendRequest("stu-1", 5))
		require.ErrorIs(t, err, appErrors.ErrInsufficientPoints)
	}
	assert.Equal(t, 3, applier.callCount())
}

func TestEnqueueAppliesInBackground(t *testing.T) {
	applier := &scriptedApplier{errs: []error{errors.New("timeout")}}
	d := NewPointsDispatcher(applier, repository.NewMemoryDeadLetterStore(), nil, nil, testDispatcherConfig())
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Enqueue("badge", earnRequest("stu-1", 25, models.SourceBadge)))
	d.Drain()
	assert.Equal(t, 2, applier.callCount())
}

func TestEnqueueDeadLettersExhaustedJobs(t *testing.T) {
	applier := &scriptedApplier{always: errors.New("timeout")}
	sink := repository.NewMemoryDeadLetterStore()
	d := NewPointsDispatcher(applier, sink, nil, nil, testDispatcherConfig())
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Enqueue("badge", earnRequest("stu-1", 25, models.SourceBadge)))
	d.Drain()

	letters, _, err := sink.List(context.Background(), models.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "badge", letters[0].Collaborator)
	assert.Equal(t, 3, letters[0].Attempts)
}

func TestEnqueueDropsBusinessRejections(t *testing.T) {
	applier := &scriptedApplier{always: appErrors.Clone(appErrors.ErrLimitReached, "")}
	sink := repository.NewMemoryDeadLetterStore()
	d := NewPointsDispatcher(applier, sink, nil, nil, testDispatcherConfig())
	d.Start(context.Background())
	defer d.Stop()

	require.NoError(t, d.Enqueue("badge", earnRequest("stu-1", 25, models.SourceBadge)))
	d.Drain()

	assert.Equal(t, 1, applier.callCount())
	letters, _, err := sink.List(context.Background(), models.DeadLetterFilter{})
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestEnqueueRequiresStartedQueue(t *testing.T) {
	d := NewPointsDispatcher(&scriptedApplier{}, nil, nil, nil, testDispatcherConfig())
	assert.Error(t, d.Enqueue("badge", earnRequest("stu-1", 25, models.SourceBadge)))
}
