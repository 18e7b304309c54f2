// Package service wires the pipeline stages (collector, aggregator and
// ranker) onto the store and provider clients, and exposes them to the
// CLI and the HTTP API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/popscore/internal/adapters/provider"
	"github.com/okian/popscore/internal/adapters/repository"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/internal/domain/scoring"
	"github.com/okian/popscore/pkg/logger"
)

// Default service configuration constants.
const (
	defaultWorkerCount = 4
	defaultBatchSize   = 50
	defaultStorePath   = "data/popscore"
)

// Stores groups the durable tables the stages read and write.
type Stores struct {
	Entities    *repository.EntityStore
	Metrics     *repository.MetricStore
	Checkpoints *repository.CheckpointStore
	Aggregates  *repository.AggregateStore
	Ranks       *repository.RankStore
}

// NewStores returns every typed store on db.
func NewStores(db *repository.DB) Stores {
	return Stores{
		Entities:    repository.NewEntityStore(db),
		Metrics:     repository.NewMetricStore(db),
		Checkpoints: repository.NewCheckpointStore(db),
		Aggregates:  repository.NewAggregateStore(db),
		Ranks:       repository.NewRankStore(db),
	}
}

// Service owns the store and the pipeline stages.
type Service struct {
	mu sync.RWMutex

	// Core components
	db         *repository.DB
	stores     Stores
	providers  *provider.Registry
	composer   *scoring.Composer
	collector  *Collector
	aggregator *Aggregator
	ranker     *Ranker
	validate   *validator.Validate

	// Configuration
	storePath        string
	inMemory         bool
	workerCount      int
	batchSizes       map[string]int
	scoreWeights     map[string]float64
	uiScale          float64
	providerSettings provider.Settings
	now              func() time.Time

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStorePath sets the badger directory.
func WithStorePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.storePath = path
		}
	}
}

// WithInMemory keeps the store in memory only.
func WithInMemory(inMemory bool) Option {
	return func(s *Service) {
		s.inMemory = inMemory
	}
}

// WithWorkerCount sets the number of concurrent fetch workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithBatchSizes sets the per-provider batch sizes.
func WithBatchSizes(sizes map[string]int) Option {
	return func(s *Service) {
		s.batchSizes = sizes
	}
}

// WithScoreWeights sets the per-provider weights of the composed total.
func WithScoreWeights(weights map[string]float64) Option {
	return func(s *Service) {
		s.scoreWeights = weights
	}
}

// WithUIScale sets the display normalisation multiplier.
func WithUIScale(scale float64) Option {
	return func(s *Service) {
		if scale > 0 {
			s.uiScale = scale
		}
	}
}

// WithProviderSettings configures the default provider clients.
func WithProviderSettings(settings provider.Settings) Option {
	return func(s *Service) {
		s.providerSettings = settings
	}
}

// WithProviders replaces the provider clients.
func WithProviders(r *provider.Registry) Option {
	return func(s *Service) {
		s.providers = r
	}
}

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storePath:   defaultStorePath,
		workerCount: defaultWorkerCount,
		now:         time.Now,
		validate:    validator.New(),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// BatchSize returns the configured batch size of a provider.
func (s *Service) BatchSize(id model.ProviderID) int {
	if n, ok := s.batchSizes[string(id)]; ok {
		return n
	}
	return defaultBatchSize
}

// Start opens the store and builds the stages.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting popscore service...",
		logger.String("store", s.storePath),
		logger.Bool("inMemory", s.inMemory),
	)

	db, err := repository.Open(s.storePath,
		repository.WithInMemory(s.inMemory),
		repository.WithLogger(s.logger.Named("badger")),
	)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.db = db
	s.stores = NewStores(db)

	if s.providers == nil {
		settings := s.providerSettings
		if settings.Logger == nil {
			settings.Logger = s.logger.Named("provider")
		}
		s.providers = provider.NewDefaultRegistry(settings)
	}
	composerOpts := []scoring.Option{scoring.WithWeights(s.scoreWeights)}
	if s.uiScale > 0 {
		composerOpts = append(composerOpts, scoring.WithUIScale(s.uiScale))
	}
	s.composer = scoring.NewComposer(composerOpts...)

	s.collector = NewCollector(s.stores, s.providers, s.composer, s.BatchSize, s.workerCount)
	s.collector.now = s.now
	s.collector.logger = s.logger.Named("collector")
	s.aggregator = NewAggregator(s.stores)
	s.aggregator.logger = s.logger.Named("aggregator")
	s.ranker = NewRanker(s.stores)
	s.ranker.now = s.now
	s.ranker.logger = s.logger.Named("ranker")

	s.started = true
	s.logger.Info(ctx, "popscore service started",
		logger.Int("workers", s.workerCount),
		logger.Any("providers", s.providers.IDs()),
	)

	return nil
}

// Stop closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping popscore service...")
	if err := s.db.Close(); err != nil {
		s.logger.Error(context.Background(), "close store", logger.Error(err))
	}
	s.started = false
	s.logger.Info(context.Background(), "popscore service stopped")
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Collect runs one collector invocation.
func (s *Service) Collect(ctx context.Context, id model.ProviderID, date model.Date) (CollectResult, error) {
	if err := s.running(); err != nil {
		return CollectResult{}, err
	}
	return s.collector.Collect(ctx, id, date)
}

// Aggregate runs one aggregator invocation.
func (s *Service) Aggregate(ctx context.Context, req AggregateRequest) (AggregateResult, error) {
	if err := s.running(); err != nil {
		return AggregateResult{}, err
	}
	return s.aggregator.Aggregate(ctx, req)
}

// Rank builds or returns the snapshot of a date.
func (s *Service) Rank(ctx context.Context, date model.Date) (RankResult, error) {
	if err := s.running(); err != nil {
		return RankResult{}, err
	}
	return s.ranker.Rank(ctx, date)
}

// Lookup returns the snapshot of a date with day-before fallback.
func (s *Service) Lookup(ctx context.Context, date model.Date) (model.RankSnapshot, error) {
	if err := s.running(); err != nil {
		return model.RankSnapshot{}, err
	}
	return s.ranker.Lookup(ctx, date)
}

// RankPeriod orders the buckets of a period key.
func (s *Service) RankPeriod(ctx context.Context, periodKey string, kind model.EntityKind) (PeriodRanking, error) {
	if err := s.running(); err != nil {
		return PeriodRanking{}, err
	}
	return s.ranker.RankPeriod(ctx, periodKey, kind)
}

// History returns the daily records of an entity in [start, end].
func (s *Service) History(ctx context.Context, entityID string, start, end model.Date) ([]model.DailyMetricRecord, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}
	return s.stores.Metrics.History(ctx, entityID, start, end)
}

// Snapshots returns the stored rank snapshots in [start, end], oldest first.
func (s *Service) Snapshots(ctx context.Context, start, end model.Date) ([]model.RankSnapshot, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}
	return s.stores.Ranks.List(ctx, start, end)
}

// Entity returns one catalog entity.
func (s *Service) Entity(ctx context.Context, id string) (model.Entity, error) {
	if err := s.running(); err != nil {
		return model.Entity{}, err
	}
	return s.stores.Entities.Get(ctx, id)
}

// ImportCatalog validates and upserts entities. Nothing is written when
// any entity is invalid.
func (s *Service) ImportCatalog(ctx context.Context, entities []model.Entity) (int, error) {
	if err := s.running(); err != nil {
		return 0, err
	}
	for i := range entities {
		if err := s.validate.Struct(entities[i]); err != nil {
			return 0, fmt.Errorf("%w: entity %d: %w", ErrInvalidRequest, i, err)
		}
	}
	for i, e := range entities {
		if err := s.stores.Entities.Put(ctx, e); err != nil {
			return i, fmt.Errorf("put entity %s: %w", e.ID, err)
		}
	}
	s.logger.Info(ctx, "catalog imported", logger.Int("entities", len(entities)))
	return len(entities), nil
}

// Checkpoints returns the collection progress of a date.
func (s *Service) Checkpoints(ctx context.Context, date model.Date) ([]model.CheckpointRecord, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.stores.Checkpoints.ListByDate(ctx, date)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"inMemory":    s.inMemory,
	}
	if s.started {
		providers := make([]string, 0, len(s.providers.IDs()))
		for _, id := range s.providers.IDs() {
			providers = append(providers, string(id))
		}
		stats["providers"] = providers
		if entities, err := s.stores.Entities.List(ctx); err == nil {
			stats["entities"] = len(entities)
		}
	}
	return stats
}
