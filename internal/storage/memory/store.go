package memory

import (
	"context"
	"sync"

	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
)

type Store struct {
	mu           sync.RWMutex
	experiments  map[string]*models.Experiment
	order        []string
	assignments  map[string][]models.Assignment
	observations map[string][]models.Observation
}

func NewStore() *Store {
	return &Store{
		experiments:  make(map[string]*models.Experiment),
		assignments:  make(map[string][]models.Assignment),
		observations: make(map[string][]models.Observation),
	}
}

func (s *Store) SaveExperiment(ctx context.Context, exp *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.experiments[exp.ID]; !exists {
		s.order = append(s.order, exp.ID)
	}
	s.experiments[exp.ID] = cloneExperiment(exp)
	return nil
}

func (s *Store) LoadExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return nil, apperrors.NotFoundWithDetails("experiment not found", map[string]interface{}{
			"experiment_id": id,
		})
	}
	return cloneExperiment(exp), nil
}

func (s *Store) ListExperiments(ctx context.Context, filter models.ExperimentFilter) ([]*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Experiment
	for i := len(s.order) - 1; i >= 0; i-- {
		exp := s.experiments[s.order[i]]
		if filter.OrganizationID != "" && exp.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != "" && exp.Status != filter.Status {
			continue
		}
		out = append(out, cloneExperiment(exp))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpdateExperimentStatus(ctx context.Context, id string, update models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[id]
	if !ok {
		return apperrors.NotFoundWithDetails("experiment not found", map[string]interface{}{
			"experiment_id": id,
		})
	}
	if update.From != "" && exp.Status != update.From {
		return apperrors.InvalidState("experiment status changed concurrently", map[string]interface{}{
			"experiment_id": id,
			"status":        string(exp.Status),
		})
	}

	exp.Status = update.To
	exp.UpdatedAt = update.UpdatedAt
	if update.To != models.StatusActive && update.Actor != "" {
		exp.StoppedBy = update.Actor
	}
	return nil
}

func (s *Store) SaveAssignment(ctx context.Context, assignment *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[assignment.ExperimentID] = append(s.assignments[assignment.ExperimentID], *assignment)
	return nil
}

// Assignments returns the stored assignments for an experiment in insertion order.
func (s *Store) Assignments(experimentID string) []models.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Assignment(nil), s.assignments[experimentID]...)
}

func (s *Store) SaveObservation(ctx context.Context, observation *models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs := *observation
	obs.Metrics = make(map[string]float64, len(observation.Metrics))
	for k, v := range observation.Metrics {
		obs.Metrics[k] = v
	}
	s.observations[obs.ExperimentID] = append(s.observations[obs.ExperimentID], obs)
	return nil
}

func (s *Store) LoadObservations(ctx context.Context, experimentID string) ([]models.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Observation(nil), s.observations[experimentID]...), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func cloneExperiment(exp *models.Experiment) *models.Experiment {
	c := *exp
	c.Variants = append(models.Variants(nil), exp.Variants...)
	c.TrafficSplit = append(models.TrafficSplit(nil), exp.TrafficSplit...)
	c.SuccessMetrics = append([]string(nil), exp.SuccessMetrics...)
	return &c
}
