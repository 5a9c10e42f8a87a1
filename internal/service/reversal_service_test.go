package service

import (
	"context"
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

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

type ledgerFixture struct {
	points   *PointsService
	reversal *ReversalService
	store    *repository.MemoryLedgerStore
	audit    *recordingAudit
}

func newLedgerFixture(policy *models.LimitPolicy) *ledgerFixture {
	points, store, clock := newTestPointsService(policy)
	audit := &recordingAudit{}
	reversal := NewReversalService(store, audit, nil, nil, nil, LedgerConfig{Location: clock.now.Location(), Now: clock.Now})
	return &ledgerFixture{points: points, reversal: reversal, store: store, audit: audit}
}

func reverseRequest(entryID string) dto.ReversePointsRequest {
	return dto.ReversePointsRequest{EntryID: entryID, Reason: "entered twice", ReversedBy: "admin-1", ReversedByRole: "ADMIN"}
}

func TestReverseEarnedRestoresAccount(t *testing.T) {
	f := newLedgerFixture(dailyPolicy(1000))
	ctx := context.Background()

	_, err := f.points.Apply(ctx, earnRequest("stu-1", 20, models.SourceBehavior))
	require.NoError(t, err)
	before, err := f.store.GetAccount(ctx, "stu-1")
	require.NoError(t, err)

	res, err := f.points.Apply(ctx, earnRequest("stu-1", 120, models.SourceBehavior))
	require.NoError(t, err)

	reversed, err := f.reversal.Reverse(ctx, reverseRequest(res.Entry.ID))
	require.NoError(t, err)
	assert.Equal(t, -120, reversed.ReversalEntry.Amount)
	assert.Equal(t, models.KindAdjusted, reversed.ReversalEntry.Kind)
	assert.Equal(t, models.SourceManualAdjustment, reversed.ReversalEntry.Source)
	assert.Equal(t, "correction", reversed.ReversalEntry.Metadata.String(models.MetaSourceType))
	assert.Equal(t, res.Entry.ID, reversed.ReversalEntry.Metadata.String(models.MetaReversedTransactionID))
	assert.Equal(t, "earned", reversed.ReversalEntry.Metadata.String(models.MetaOriginalType))
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), reversed.ReversalEntry.DayBucket)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), reversed.ReversalEntry.WeekBucket)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), reversed.ReversalEntry.MonthBucket)

	after, err := f.store.GetAccount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, before.CurrentBalance, after.CurrentBalance)
	assert.Equal(t, before.TotalEarned, after.TotalEarned)
	assert.Equal(t, before.TotalSpent, after.TotalSpent)
	assert.Equal(t, before.Level, after.Level)

	view, err := f.store.GetEntry(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.True(t, view.Reversed)
	require.NotNil(t, view.ReversalEntryID)
	assert.Equal(t, reversed.ReversalEntry.ID, *view.ReversalEntryID)
	assert.Equal(t, []string{models.AuditActionReversal}, f.audit.actions())
}

func TestReverseSpentRefundsBalance(t *testing.T) {
	f := newLedgerFixture(dailyPolicy(1000))
	ctx := context.Background()

	_, err := f.points.Apply(ctx, earnRequest("stu-1", 50, models.SourceBehavior))
	require.NoError(t, err)
	spent, err := f.points.Apply(ctx, spendRequest("stu-1", 30))
	require.NoError(t, err)

	reversed, err := f.reversal.Reverse(ctx, reverseRequest(spent.Entry.ID))
	require.NoError(t, err)
	assert.Equal(t, 30, reversed.ReversalEntry.Amount)
	assert.Equal(t, 50, reversed.BalanceAfter)

	account, err := f.store.GetAccount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Zero(t, account.TotalSpent)
	assert.Equal(t, 50, account.TotalEarned)
}

func TestReverseTwiceFails(t *testing.T) {
	f := newLedgerFixture(dailyPolicy(1000))
	ctx := context.Background()

	res, err := f.points.Apply(ctx, earnRequest("stu-1", 10, models.SourceBehavior))
	require.NoError(t, err)
	first, err := f.reversal.Reverse(ctx, reverseRequest(res.Entry.ID))
	require.NoError(t, err)

	_, err = f.reversal.Reverse(ctx, reverseRequest(res.Entry.ID))
	require.ErrorIs(t, err, appErrors.ErrAlreadyReversed)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, first.ReversalEntry.ID, appErr.Details["reversal_entry_id"])

	account, err := f.store.GetAccount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Zero(t, account.CurrentBalance)
}

func TestReverseRejectsWhenBalanceWouldGoNegative(t *testing.T) {
	f := newLedgerFixture(dailyPolicy(1000))
	ctx := context.Background()

	res, err := f.points.Apply(ctx, earnRequest("stu-1", 10, models.SourceBehavior))
	require.NoError(t, err)
	_, err = f.points.Apply(ctx, spendRequest("stu-1", 8))
	require.NoError(t, err)

	_, err = f.reversal.Reverse(ctx, reverseRequest(res.Entry.ID))
	require.ErrorIs(t, err, appErrors.ErrWouldGoNegative)

	account, err := f.store.GetAccount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 2, account.CurrentBalance)
	view, err := f.store.GetEntry(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.False(t, view.Reversed)
}

func TestReverseRejectsAdjustmentsAndUnknownEntries(t *testing.T) {
	f := newLedgerFixture(dailyPolicy(1000))
	ctx := context.Background()

	res, err := f.points.Apply(ctx, earnRequest("stu-1", 10, models.SourceBehavior))
	require.NoError(t, err)
	reversed, err := f.reversal.Reverse(ctx, reverseRequest(res.Entry.ID))
	require.NoError(t, err)

	_, err = f.reversal.Reverse(ctx, reverseRequest(reversed.ReversalEntry.ID))
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.reversal.Reverse(ctx, reverseRequest("missing"))
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	req := reverseRequest(res.Entry.ID)
	req.Reason = "   "
	_, err = f.reversal.Reverse(ctx, req)
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

// The balance always equals the sum of the student's entry amounts.
func TestLedgerBalanceMatchesEntrySum(t *testing.T) {
	f := newLedgerFixture(dailyPolicy(1000))
	ctx := context.Background()

	first, err := f.points.Apply(ctx, earnRequest("stu-1", 40, models.SourceBehavior))
	require.NoError(t, err)
	_, err = f.points.Apply(ctx, earnRequest("stu-1", 30, models.SourceTask))
	require.NoError(t, err)
	spent, err := f.points.Apply(ctx, spendRequest("stu-1", 25))
	require.NoError(t, err)
	_, err = f.reversal.Reverse(ctx, reverseRequest(first.Entry.ID))
	require.NoError(t, err)
	_, err = f.points.Apply(ctx, adjustRequest("stu-1", 7))
	require.NoError(t, err)
	_, err = f.reversal.Reverse(ctx, reverseRequest(spent.Entry.ID))
	require.NoError(t, err)
	_, err = f.points.Apply(ctx, spendRequest("stu-1", 1000))
	require.ErrorIs(t, err, appErrors.ErrInsufficientPoints)

	entries, total, err := f.store.ListEntries(ctx, models.LedgerFilter{StudentID: "stu-1", PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	sum := 0
	for _, e := range entries {
		sum += e.Amount
	}
	account, err := f.store.GetAccount(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, sum, account.CurrentBalance)
	assert.Equal(t, 37, account.CurrentBalance)
	assert.Equal(t, account.TotalEarned-account.TotalSpent, account.CurrentBalance)
}

// Reversed awards still count toward the window they were earned in.
func TestReversedAwardStillConsumesQuota(t *testing.T) {
	f := newLedgerFixture(dailyPolicy(50))
	ctx := context.Background()

	res, err := f.points.Apply(ctx, earnRequest("stu-1", 50, models.SourceBehavior))
	require.NoError(t, err)
	_, err = f.reversal.Reverse(ctx, reverseRequest(res.Entry.ID))
	require.NoError(t, err)

	_, err = f.points.Apply(ctx, earnRequest("stu-1", 10, models.SourceBehavior))
	require.ErrorIs(t, err, appErrors.ErrLimitReached)
}
