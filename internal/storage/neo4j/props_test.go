package neo4j

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
)

func TestExperimentPropsRoundTrip(t *testing.T) {
	created := time.Date(2026, 4, 1, 9, 30, 0, 123, time.UTC)
	exp := &models.Experiment{
		ID:             "exp-1",
		OrganizationID: "org",
		Name:           "latency race",
		TestType:       models.TestTypeProviderComparison,
		Variants: models.Variants{
			{Key: "openai", Config: json.RawMessage(`{"model":"gpt-4o"}`)},
			{Key: "local", Config: json.RawMessage(`null`)},
		},
		TrafficSplit:          models.TrafficSplit{{Variant: "openai", Weight: 0.6}, {Variant: "local", Weight: 0.4}},
		SuccessMetrics:        []string{"response_time", "tokens"},
		SignificanceThreshold: 0.01,
		SignificanceMethod:    models.MethodTwoProportionZ,
		DurationDays:          7,
		Status:                models.StatusActive,
		CreatedBy:             "alice",
		CreatedAt:             created,
		UpdatedAt:             created,
		ExpiresAt:             created.AddDate(0, 0, 7),
	}

	props, err := experimentParams(exp)
	require.NoError(t, err)
	assert.Equal(t, `{"openai":0.6,"local":0.4}`, props["traffic_split"])

	// the driver hands back ids and lists in these shapes
	props["id"] = exp.ID
	props["success_metrics"] = []any{"response_time", "tokens"}

	got, err := experimentFromProps(props)
	require.NoError(t, err)
	assert.Equal(t, exp, got)
}

func TestExperimentFromPropsRejectsCorruptJSON(t *testing.T) {
	_, err := experimentFromProps(map[string]any{"id": "x", "variants": "{", "traffic_split": "{}"})
	assert.Error(t, err)
}

func TestNumberCoercion(t *testing.T) {
	assert.Equal(t, int64(5), asInt(int64(5)))
	assert.Equal(t, int64(5), asInt(5))
	assert.Equal(t, int64(5), asInt(5.0))
	assert.Equal(t, int64(0), asInt("5"))
	assert.Equal(t, 0.5, asFloat(0.5))
	assert.Equal(t, 2.0, asFloat(int64(2)))
	assert.True(t, fromUnix(0).IsZero())
	assert.Zero(t, toUnix(time.Time{}))
}

func TestInfrastructureErrorClassification(t *testing.T) {
	assert.False(t, isInfrastructureError(nil))
	assert.False(t, isInfrastructureError(apperrors.NotFound("x")))
	assert.True(t, isInfrastructureError(assert.AnError))
}
