package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

func seedDeadLetter(t *testing.T, sink *repository.MemoryDeadLetterStore) models.DeadLetter {
	t.Helper()
	d := NewPointsDispatcher(&scriptedApplier{always: errors.New("connection refused")}, sink, nil, nil, DispatcherConfig{MaxAttempts: 1})
	_, err := d.Dispatch(context.Background(), "attendance", earnRequest("stu-1", 5, models.SourceBehavior))
	require.ErrorIs(t, err, ErrDeadLettered)
	letters, _, err := sink.List(context.Background(), models.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, letters, 1)
	return letters[0]
}

func TestReplayAppliesAndResolves(t *testing.T) {
	sink := repository.NewMemoryDeadLetterStore()
	letter := seedDeadLetter(t, sink)
	points, store, _ := newTestPointsService(dailyPolicy(100))
	audit := &recordingAudit{}
	svc := NewDeadLetterService(sink, points, audit, nil)
	ctx := context.Background()

	res, err := svc.Replay(ctx, letter.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, 5, res.EffectiveAmount)

	account, err := store.GetAccount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 5, account.CurrentBalance)

	stored, err := sink.Get(ctx, letter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterResolved, stored.Status)
	assert.NotNil(t, stored.ResolvedAt)
	assert.Equal(t, []string{models.AuditActionDeadLetterReplay}, audit.actions())

	_, err = svc.Replay(ctx, letter.ID, admin)
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestReplayKeepsLetterPendingOnFailure(t *testing.T) {
	sink := repository.NewMemoryDeadLetterStore()
	letter := seedDeadLetter(t, sink)
	svc := NewDeadLetterService(sink, &scriptedApplier{always: appErrors.Clone(appErrors.ErrLimitReached, "")}, nil, nil)
	ctx := context.Background()

	_, err := svc.Replay(ctx, letter.ID, admin)
	require.ErrorIs(t, err, appErrors.ErrLimitReached)

	stored, err := sink.Get(ctx, letter.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterPending, stored.Status)

	_, err = svc.Replay(ctx, "missing", admin)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListDeadLettersFiltersByStatus(t *testing.T) {
	sink := repository.NewMemoryDeadLetterStore()
	seedDeadLetter(t, sink)
	svc := NewDeadLetterService(sink, &scriptedApplier{}, nil, nil)
	ctx := context.Background()

	letters, page, err := svc.List(ctx, dto.DeadLetterQuery{Status: "PENDING"})
	require.NoError(t, err)
	assert.Len(t, letters, 1)
	assert.Equal(t, 1, page.TotalCount)

	letters, _, err = svc.List(ctx, dto.DeadLetterQuery{Status: "RESOLVED"})
	require.NoError(t, err)
	assert.Empty(t, letters)

	_, _, err = svc.List(ctx, dto.DeadLetterQuery{Status: "LOST"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}
