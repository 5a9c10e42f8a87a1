package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-points-api/api/swagger"
	"github.com/noah-isme/sma-points-api/internal/handler"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/repository"
	"github.com/noah-isme/sma-points-api/internal/service"
	"github.com/noah-isme/sma-points-api/pkg/cache"
	"github.com/noah-isme/sma-points-api/pkg/config"
	"github.com/noah-isme/sma-points-api/pkg/database"
	"github.com/noah-isme/sma-points-api/pkg/logger"
)

// @title SMA Points API
// @version 1.0.0
// @description Points ledger and limit enforcement for the school platform.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type ledgerBackend interface {
	WithinStudent(ctx context.Context, studentID string, fn repository.StudentFunc) error
	GetAccount(ctx context.Context, studentID string) (*models.Account, error)
	GetEntry(ctx context.Context, id string) (*models.LedgerEntryView, error)
	ListEntries(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntryView, int, error)
	SumEarned(ctx context.Context, q models.QuotaQuery) (int, error)
}

type policyBackend interface {
	FindByScope(ctx context.Context, scope models.PolicyScope, entityID *string) (*models.LimitPolicy, error)
	EnsureGlobal(ctx context.Context, defaults *models.LimitPolicy) (*models.LimitPolicy, error)
	List(ctx context.Context, scope *models.PolicyScope) ([]models.LimitPolicy, error)
	Upsert(ctx context.Context, policy *models.LimitPolicy) error
	Delete(ctx context.Context, scope models.PolicyScope, entityID string) error
}

type schoolRuleBackend interface {
	Get(ctx context.Context, schoolID string) (*models.SchoolPointRule, error)
	Upsert(ctx context.Context, rule *models.SchoolPointRule) error
}

type deadLetterSink interface {
	Create(ctx context.Context, letter *models.DeadLetter) error
}

type deadLetterBackend interface {
	deadLetterSink
	Get(ctx context.Context, id string) (*models.DeadLetter, error)
	List(ctx context.Context, filter models.DeadLetterFilter) ([]models.DeadLetter, int, error)
	MarkResolved(ctx context.Context, id string, at time.Time) error
}

type auditBackend interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// stores groups the persistence backends selected by POINTS_STORE.
type stores struct {
	db          *sqlx.DB
	ledger      ledgerBackend
	policies    policyBackend
	schoolRules schoolRuleBackend
	deadLetters deadLetterBackend
	audit       auditBackend
}

// app holds the assembled process: the HTTP handler plus resources main must release.
type app struct {
	handler    http.Handler
	dispatcher *service.PointsDispatcher
	closers    []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to assemble service", zap.Error(err))
	}
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Points.Store, "dead_letter_sink", cfg.DeadLetter.Sink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	drainDispatcher(shutdownCtx, a.dispatcher, logr)
}

// newApp opens the configured backends and wires services, handlers and routes.
// Dispatcher workers outlive ctx so queued awards can drain on shutdown; Stop ends them.
func newApp(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*app, error) {
	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		return nil, err
	}
	a := &app{}
	if st.db != nil {
		a.closers = append(a.closers, st.db.Close)
	}

	metricsSvc := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}
	if st.db != nil {
		checks["database"] = st.db.PingContext
	}

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, policy cache disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, client.Close)
			cacheRepo = repository.NewCacheRepository(client)
			checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Points.PolicyCacheTTL, logr, cacheRepo != nil)

	sink, err := deadLetterSinkFor(ctx, cfg, st)
	if err != nil {
		a.close()
		return nil, err
	}

	validate := validator.New()
	ledgerCfg := service.LedgerConfig{Location: cfg.Points.Location(), LevelStep: cfg.Points.LevelStep}

	policySvc := service.NewLimitPolicyService(st.policies, cacheSvc, st.audit, logr)
	pointsSvc := service.NewPointsService(st.ledger, policySvc, validate, logr, metricsSvc, ledgerCfg)
	reversalSvc := service.NewReversalService(st.ledger, st.audit, validate, logr, metricsSvc, ledgerCfg)
	schoolRuleSvc := service.NewSchoolRuleService(st.schoolRules, st.ledger, st.audit, validate, logr, ledgerCfg)
	dispatcher := service.NewPointsDispatcher(pointsSvc, sink, logr, metricsSvc, service.DispatcherConfig{
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		RetryDelay:      cfg.Dispatch.RetryDelay,
		BreakerFailures: cfg.Dispatch.BreakerFailures,
		BreakerTimeout:  cfg.Dispatch.BreakerTimeout,
		Workers:         cfg.Dispatch.Workers,
		BufferSize:      cfg.Dispatch.BufferSize,
	})
	dispatcher.Start(context.WithoutCancel(ctx))
	a.dispatcher = dispatcher

	var deadLetters *handler.DeadLetterHandler
	if cfg.DeadLetter.Sink != config.SinkSQS {
		deadLetters = handler.NewDeadLetterHandler(service.NewDeadLetterService(st.deadLetters, pointsSvc, st.audit, logr))
	}

	router := newRouter(cfg, logr, routes{
		tokens:      service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer),
		metrics:     metricsSvc,
		checks:      checks,
		points:      handler.NewPointsHandler(pointsSvc, reversalSvc, schoolRuleSvc),
		collab:      handler.NewCollaboratorHandler(service.NewAttendancePointsService(schoolRuleSvc, dispatcher, validate, logr), service.NewBadgePointsService(schoolRuleSvc, dispatcher, validate, logr)),
		policies:    handler.NewPolicyHandler(policySvc),
		schoolRules: handler.NewSchoolRuleHandler(schoolRuleSvc),
		deadLetters: deadLetters,
	})
	a.handler = withCORS(router, cfg.CORS.AllowedOrigins)
	return a, nil
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*stores, error) {
	if cfg.Points.Store == config.StoreMemory {
		logr.Warn("using in-memory points store; data is lost on restart")
		return &stores{
			ledger:      repository.NewMemoryLedgerStore(),
			policies:    repository.NewMemoryPolicyStore(),
			schoolRules: repository.NewMemorySchoolRuleStore(),
			deadLetters: repository.NewMemoryDeadLetterStore(),
		}, nil
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			logr.Info("migrations applied", zap.Strings("versions", applied))
		}
	}
	return &stores{
		db:          db,
		ledger:      repository.NewLedgerRepository(db),
		policies:    repository.NewLimitPolicyRepository(db),
		schoolRules: repository.NewSchoolRuleRepository(db),
		deadLetters: repository.NewDeadLetterRepository(db),
		audit:       repository.NewAuditRepository(db),
	}, nil
}

func deadLetterSinkFor(ctx context.Context, cfg *config.Config, st *stores) (deadLetterSink, error) {
	if cfg.DeadLetter.Sink != config.SinkSQS {
		return st.deadLetters, nil
	}
	if cfg.DeadLetter.SQSQueueURL == "" {
		return nil, errors.New("DEAD_LETTER_SQS_QUEUE_URL is required for the sqs sink")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DeadLetter.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return repository.NewSQSDeadLetterPublisher(sqs.NewFromConfig(awsCfg), cfg.DeadLetter.SQSQueueURL), nil
}

// drainDispatcher gives queued badge awards until ctx expires to reach the ledger.
func drainDispatcher(ctx context.Context, dispatcher *service.PointsDispatcher, logr *zap.Logger) {
	done := make(chan struct{})
	go func() {
		dispatcher.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logr.Warn("dispatcher drain timed out; queued awards dropped")
	}
	dispatcher.Stop()
}
