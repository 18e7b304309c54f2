package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/adapters/provider"
	"github.com/okian/popscore/internal/adapters/repository"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/internal/domain/scoring"
	"github.com/okian/popscore/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// fakeClient answers by the first query term, which is the entity name for
// generated terms.
type fakeClient struct {
	id     model.ProviderID
	counts map[string]float64
	fail   map[string]bool

	mu    sync.Mutex
	calls map[string]int
}

func newFakeClient(id model.ProviderID, counts map[string]float64) *fakeClient {
	return &fakeClient{id: id, counts: counts, fail: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeClient) ID() model.ProviderID { return f.id }

func (f *fakeClient) Fetch(_ context.Context, terms []string) (model.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := terms[0]
	f.calls[name]++
	if f.fail[name] {
		return model.FallbackPayload(f.id, terms, time.Now()), fmt.Errorf("%s %q: %w", f.id, name, provider.ErrExhausted)
	}
	return model.Payload{Provider: f.id, Terms: terms, Count: f.counts[name], FetchedAt: time.Now()}, nil
}

func (f *fakeClient) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeClient) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// pipeline is the set of stages on one in-memory store.
type pipeline struct {
	db         *repository.DB
	stores     service.Stores
	collector  *service.Collector
	aggregator *service.Aggregator
	ranker     *service.Ranker
}

func newPipeline(batch int, clients ...provider.Client) *pipeline {
	db, err := repository.Open("", repository.WithInMemory(true))
	if err != nil {
		panic(err)
	}
	stores := service.NewStores(db)
	sizer := func(model.ProviderID) int { return batch }
	return &pipeline{
		db:         db,
		stores:     stores,
		collector:  service.NewCollector(stores, provider.NewRegistry(clients...), scoring.NewComposer(), sizer, 2),
		aggregator: service.NewAggregator(stores),
		ranker:     service.NewRanker(stores),
	}
}

func (p *pipeline) Close() { _ = p.db.Close() }

func (p *pipeline) seed(ctx context.Context, names ...string) []model.Entity {
	out := make([]model.Entity, 0, len(names))
	for _, n := range names {
		e := model.Entity{ID: n, Name: n, Kind: model.KindDatabase}
		if err := p.stores.Entities.Put(ctx, e); err != nil {
			panic(err)
		}
		out = append(out, e)
	}
	return out
}

// putScore stores an included record whose raw total is score.
func (p *pipeline) putScore(ctx context.Context, e model.Entity, d model.Date, score float64) {
	_, err := p.stores.Metrics.Update(ctx, e, d, func(r *model.DailyMetricRecord) error {
		r.Popularity.Total = model.Float(score)
		r.IncludeMe = true
		return nil
	})
	if err != nil {
		panic(err)
	}
}
