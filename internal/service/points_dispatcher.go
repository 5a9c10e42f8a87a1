package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/dto"
	"github.com/noah-isme/sma-points-api/internal/models"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
	"github.com/noah-isme/sma-points-api/pkg/jobs"
)

// ErrDeadLettered is returned when an award failed on every attempt and was written to the dead-letter sink.
var ErrDeadLettered = errors.New("points award dead-lettered")

type pointsApplier interface {
	Apply(ctx context.Context, req dto.ApplyPointsRequest) (*dto.ApplyPointsResult, error)
}

type deadLetterSink interface {
	Create(ctx context.Context, letter *models.DeadLetter) error
}

// DispatcherConfig bounds retries and the circuit breaker.
type DispatcherConfig struct {
	MaxAttempts     int
	RetryDelay      time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
	Workers         int
	BufferSize      int
}

// awardPayload is the dead-letter and job representation of an award.
type awardPayload struct {
	Collaborator  string                 `json:"collaborator"`
	StudentID     string                 `json:"student_id"`
	SchoolID      string                 `json:"school_id,omitempty"`
	Amount        int                    `json:"amount"`
	Kind          models.TransactionKind `json:"kind"`
	Source        models.PointSource     `json:"source"`
	SourceRef     *string                `json:"source_ref,omitempty"`
	Description   string                 `json:"description"`
	AwardedBy     string                 `json:"awarded_by"`
	AwardedByRole string                 `json:"awarded_by_role"`
	Metadata      models.Metadata        `json:"metadata,omitempty"`
}

func newAwardPayload(collaborator string, req dto.ApplyPointsRequest) awardPayload {
	return awardPayload{
		Collaborator:  collaborator,
		StudentID:     req.StudentID,
		SchoolID:      req.SchoolID,
		Amount:        req.Amount,
		Kind:          req.Kind,
		Source:        req.Source,
		SourceRef:     req.SourceRef,
		Description:   req.Description,
		AwardedBy:     req.AwardedBy,
		AwardedByRole: req.AwardedByRole,
		Metadata:      req.Metadata,
	}
}

func (p awardPayload) request() dto.ApplyPointsRequest {
	return dto.ApplyPointsRequest{
		StudentID:     p.StudentID,
		SchoolID:      p.SchoolID,
		Amount:        p.Amount,
		Kind:          p.Kind,
		Source:        p.Source,
		SourceRef:     p.SourceRef,
		Description:   p.Description,
		AwardedBy:     p.AwardedBy,
		AwardedByRole: p.AwardedByRole,
		Metadata:      p.Metadata,
	}
}

// PointsDispatcher calls the ledger on behalf of collaborators with bounded retries, a circuit
// breaker and a dead-letter sink. Business rejections are returned immediately and never retried.
type PointsDispatcher struct {
	points  pointsApplier
	sink    deadLetterSink
	breaker *gobreaker.CircuitBreaker[*dto.ApplyPointsResult]
	queue   *jobs.Queue
	logger  *zap.Logger
	metrics *MetricsService
	cfg     DispatcherConfig
}

// NewPointsDispatcher constructs the dispatcher and its background queue. The queue must be started
// before Enqueue is used.
func NewPointsDispatcher(points pointsApplier, sink deadLetterSink, logger *zap.Logger, metrics *MetricsService, cfg DispatcherConfig) *PointsDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	d := &PointsDispatcher{points: points, sink: sink, logger: logger, metrics: metrics, cfg: cfg}
	failures := uint32(cfg.BreakerFailures)
	d.breaker = gobreaker.NewCircuitBreaker[*dto.ApplyPointsResult](gobreaker.Settings{
		Name:        "points-apply",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || appErrors.IsBusiness(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	d.queue = jobs.NewQueue("points-dispatch", d.handleJob, jobs.QueueConfig{
		Workers:     cfg.Workers,
		BufferSize:  cfg.BufferSize,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		ShouldRetry: retryable,
		OnExhausted: d.onExhausted,
		Logger:      logger,
	})
	return d
}

func retryable(err error) bool {
	return err != nil && !appErrors.IsBusiness(err)
}

// Start runs the background queue until ctx is cancelled or Stop is called.
func (d *PointsDispatcher) Start(ctx context.Context) { d.queue.Start(ctx) }

// Stop halts the background workers.
func (d *PointsDispatcher) Stop() { d.queue.Stop() }

// Drain waits until every enqueued award has been applied or dead-lettered.
func (d *PointsDispatcher) Drain() { d.queue.Drain() }

// Dispatch applies req synchronously. After MaxAttempts transport failures the award is
// dead-lettered and an error wrapping ErrDeadLettered is returned.
func (d *PointsDispatcher) Dispatch(ctx context.Context, collaborator string, req dto.ApplyPointsRequest) (*dto.ApplyPointsResult, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		result, err := d.call(ctx, req)
		if err == nil {
			return result, nil
		}
		if appErrors.IsBusiness(err) {
			return nil, err
		}
		lastErr = err
		if attempt == d.cfg.MaxAttempts {
			break
		}
		delay := jobs.Backoff(attempt, d.cfg.RetryDelay)
		d.metrics.RecordDispatchAttempt("retry")
		d.logger.Warn("points award failed, retrying",
			zap.String("collaborator", collaborator),
			zap.String("student_id", req.StudentID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleepContext(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	d.deadLetter(ctx, collaborator, req, attempts, lastErr)
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrDeadLettered, attempts, lastErr)
}

// Enqueue hands req to the background queue; the caller does not wait for the ledger.
func (d *PointsDispatcher) Enqueue(collaborator string, req dto.ApplyPointsRequest) error {
	return d.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    collaborator,
		Payload: newAwardPayload(collaborator, req),
	})
}

func (d *PointsDispatcher) call(ctx context.Context, req dto.ApplyPointsRequest) (*dto.ApplyPointsResult, error) {
	result, err := d.breaker.Execute(func() (*dto.ApplyPointsResult, error) {
		return d.points.Apply(ctx, req)
	})
	switch {
	case err == nil:
		d.metrics.RecordDispatchAttempt("success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.metrics.RecordDispatchAttempt("open")
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "points ledger temporarily unavailable")
	case appErrors.IsBusiness(err):
		d.metrics.RecordDispatchAttempt("rejected")
	default:
		d.metrics.RecordDispatchAttempt("failure")
	}
	return result, err
}

func (d *PointsDispatcher) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(awardPayload)
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unexpected job payload %T", job.Payload))
	}
	result, err := d.call(ctx, payload.request())
	if err != nil {
		return err
	}
	d.logger.Info("queued points award applied",
		zap.String("collaborator", payload.Collaborator),
		zap.String("student_id", payload.StudentID),
		zap.Int("effective", result.EffectiveAmount),
		zap.Bool("duplicate", result.Duplicate),
		zap.Int("attempt", job.Attempt))
	return nil
}

func (d *PointsDispatcher) onExhausted(ctx context.Context, job jobs.Job, err error) {
	payload, ok := job.Payload.(awardPayload)
	if !ok {
		return
	}
	if appErrors.IsBusiness(err) {
		d.logger.Info("queued points award rejected",
			zap.String("collaborator", payload.Collaborator),
			zap.String("student_id", payload.StudentID),
			zap.Error(err))
		return
	}
	d.deadLetter(ctx, payload.Collaborator, payload.request(), job.Attempt, err)
}

// deadLetter records an exhausted award. The write ignores cancellation of ctx: a caller
// that gave up or a queue shutting down must not lose the award.
func (d *PointsDispatcher) deadLetter(ctx context.Context, collaborator string, req dto.ApplyPointsRequest, attempts int, cause error) {
	ctx = context.WithoutCancel(ctx)
	d.metrics.RecordDispatchAttempt("exhausted")
	raw, err := json.Marshal(newAwardPayload(collaborator, req))
	if err != nil {
		d.logger.Error("failed to encode dead letter", zap.Error(err))
		return
	}
	letter := &models.DeadLetter{
		Collaborator: collaborator,
		StudentID:    req.StudentID,
		Source:       req.Source,
		SourceRef:    req.SourceRef,
		Payload:      raw,
		Attempts:     attempts,
	}
	if cause != nil {
		letter.LastError = cause.Error()
	}
	if d.sink == nil {
		d.logger.Error("points award lost, no dead-letter sink", zap.String("collaborator", collaborator), zap.String("student_id", req.StudentID))
		return
	}
	if err := d.sink.Create(ctx, letter); err != nil {
		d.logger.Error("failed to write dead letter",
			zap.String("collaborator", collaborator),
			zap.String("student_id", req.StudentID),
			zap.Error(err))
		return
	}
	d.metrics.RecordDeadLetter(collaborator)
	d.logger.Error("points award dead-lettered",
		zap.String("collaborator", collaborator),
		zap.String("student_id", req.StudentID),
		zap.String("dead_letter_id", letter.ID),
		zap.Int("attempts", attempts),
		zap.String("last_error", letter.LastError))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
