package experiment

import (
	"context"

	"github.com/model-bridge/backend/internal/storage/models"
)

// Repository is the persistence contract the lifecycle manager consumes.
// LoadExperiment returns a NOT_FOUND APIError on a miss, and
// UpdateExperimentStatus returns INVALID_STATE when update.From no longer
// matches the stored status.
type Repository interface {
	SaveExperiment(ctx context.Context, exp *models.Experiment) error
	LoadExperiment(ctx context.Context, id string) (*models.Experiment, error)
	ListExperiments(ctx context.Context, filter models.ExperimentFilter) ([]*models.Experiment, error)
	UpdateExperimentStatus(ctx context.Context, id string, update models.StatusUpdate) error
	SaveAssignment(ctx context.Context, assignment *models.Assignment) error
	SaveObservation(ctx context.Context, observation *models.Observation) error
	LoadObservations(ctx context.Context, experimentID string) ([]models.Observation, error)
}
