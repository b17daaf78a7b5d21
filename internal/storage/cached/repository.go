package cached

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/model-bridge/backend/internal/experiment"
	"github.com/model-bridge/backend/internal/metrics"
	"github.com/model-bridge/backend/internal/storage/models"
	"github.com/model-bridge/backend/pkg/logger"
)

const cacheType = "experiment"

type ExperimentCache interface {
	GetExperiment(ctx context.Context, id string) (*models.Experiment, bool, error)
	SetExperiment(ctx context.Context, exp *models.Experiment, ttl time.Duration) error
	InvalidateExperiment(ctx context.Context, id string) error
	IncrementAssignment(ctx context.Context, experimentID, variant string) error
}

type Repository struct {
	experiment.Repository
	cache ExperimentCache
	ttl   time.Duration
}

func New(inner experiment.Repository, cache ExperimentCache, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Repository{
		Repository: inner,
		cache:      cache,
		ttl:        ttl,
	}
}

func (r *Repository) LoadExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	exp, ok, err := r.cache.GetExperiment(ctx, id)
	if err != nil {
		logger.Warn("Experiment cache read failed", zap.String("experiment_id", id), zap.Error(err))
	}
	if ok {
		metrics.CacheHits.WithLabelValues(cacheType).Inc()
		return exp, nil
	}
	metrics.CacheMisses.WithLabelValues(cacheType).Inc()

	exp, err = r.Repository.LoadExperiment(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetExperiment(ctx, exp, r.ttl); err != nil {
		logger.Warn("Experiment cache write failed", zap.String("experiment_id", id), zap.Error(err))
		return exp, nil
	}

	// A status update that invalidated between the load and the write above
	// would leave a stale entry behind, so check the store again.
	current, err := r.Repository.LoadExperiment(ctx, id)
	if err != nil {
		r.invalidate(ctx, id)
		return exp, nil
	}
	if current.Status != exp.Status || !current.UpdatedAt.Equal(exp.UpdatedAt) {
		r.invalidate(ctx, id)
		return current, nil
	}
	return exp, nil
}

func (r *Repository) SaveExperiment(ctx context.Context, exp *models.Experiment) error {
	if err := r.Repository.SaveExperiment(ctx, exp); err != nil {
		return err
	}
	r.invalidate(ctx, exp.ID)
	return nil
}

func (r *Repository) UpdateExperimentStatus(ctx context.Context, id string, update models.StatusUpdate) error {
	err := r.Repository.UpdateExperimentStatus(ctx, id, update)
	// drop the entry even on conflict so the next read sees the stored status
	r.invalidate(ctx, id)
	return err
}

func (r *Repository) SaveAssignment(ctx context.Context, a *models.Assignment) error {
	if err := r.Repository.SaveAssignment(ctx, a); err != nil {
		return err
	}
	if err := r.cache.IncrementAssignment(ctx, a.ExperimentID, a.Variant); err != nil {
		logger.Warn("Assignment counter update failed", zap.String("experiment_id", a.ExperimentID), zap.Error(err))
	}
	return nil
}

// Ping checks the underlying store when it supports readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	if p, ok := r.Repository.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (r *Repository) invalidate(ctx context.Context, id string) {
	if err := r.cache.InvalidateExperiment(ctx, id); err != nil {
		logger.Warn("Experiment cache invalidation failed", zap.String("experiment_id", id), zap.Error(err))
	}
}
