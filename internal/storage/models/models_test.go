package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExperimentJSONKeepsVariantAndSplitOrder(t *testing.T) {
	payload := `{
		"name": "prompt shootout",
		"test_type": "model_comparison",
		"variants": {"gpt": {"model": "gpt-4o"}, "claude": {"model": "sonnet"}, "local": null},
		"traffic_split": {"gpt": 0.25, "claude": 0.5, "local": 0.25}
	}`

	var exp Experiment
	require.NoError(t, json.Unmarshal([]byte(payload), &exp))

	assert.Equal(t, []string{"gpt", "claude", "local"}, exp.Variants.Keys())
	assert.Equal(t, []string{"gpt", "claude", "local"}, exp.TrafficSplit.Keys())
	assert.InDelta(t, 1.0, exp.TrafficSplit.Total(), 1e-9)
	assert.JSONEq(t, `{"model": "sonnet"}`, string(exp.Variants[1].Config))

	out, err := json.Marshal(exp.TrafficSplit)
	require.NoError(t, err)
	assert.Equal(t, `{"gpt":0.25,"claude":0.5,"local":0.25}`, string(out))

	out, err = json.Marshal(exp.Variants)
	require.NoError(t, err)
	assert.Equal(t, `{"gpt":{"model":"gpt-4o"},"claude":{"model":"sonnet"},"local":null}`, string(out))
}

func TestOrderedDecodeRejectsBadInput(t *testing.T) {
	var split TrafficSplit
	assert.Error(t, json.Unmarshal([]byte(`{"a": "half"}`), &split))
	assert.Error(t, json.Unmarshal([]byte(`{"a": 0.5, "a": 0.5}`), &split))
	assert.Error(t, json.Unmarshal([]byte(`[0.5]`), &split))

	var variants Variants
	assert.Error(t, json.Unmarshal([]byte(`{"a": {}, "a": {}}`), &variants))
}

func TestVariantsGet(t *testing.T) {
	variants := Variants{{Key: "A"}, {Key: "B"}}

	v, ok := variants.Get("B")
	assert.True(t, ok)
	assert.Equal(t, "B", v.Key)

	_, ok = variants.Get("C")
	assert.False(t, ok)

	exp := &Experiment{Variants: variants}
	assert.True(t, exp.HasVariant("A"))
	assert.False(t, exp.HasVariant("Z"))
}

func TestIsExpired(t *testing.T) {
	expires := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	exp := &Experiment{ExpiresAt: expires}

	assert.False(t, exp.IsExpired(expires.Add(-time.Second)))
	assert.True(t, exp.IsExpired(expires))
	assert.True(t, exp.IsExpired(expires.Add(time.Hour)))
}

func TestTestTypeValid(t *testing.T) {
	assert.True(t, TestTypeCostOptimization.Valid())
	assert.True(t, TestTypeGeneric.Valid())
	assert.False(t, TestType("cost_optimisation").Valid())
}
