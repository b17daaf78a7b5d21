package models

import (
	"encoding/json"
	"time"
)

type TestType string

const (
	TestTypeModelComparison    TestType = "model_comparison"
	TestTypeProviderComparison TestType = "provider_comparison"
	TestTypeCostOptimization   TestType = "cost_optimization"
	TestTypeQualityAssessment  TestType = "quality_assessment"
	TestTypeGeneric            TestType = "generic"
)

func (t TestType) Valid() bool {
	switch t {
	case TestTypeModelComparison, TestTypeProviderComparison, TestTypeCostOptimization,
		TestTypeQualityAssessment, TestTypeGeneric:
		return true
	}
	return false
}

type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusActive    ExperimentStatus = "active"
	StatusStopped   ExperimentStatus = "stopped"
	StatusCompleted ExperimentStatus = "completed"
)

type SignificanceMethod string

const (
	// MethodThreshold flags a pair when the absolute success-rate difference
	// exceeds the experiment's threshold.
	MethodThreshold SignificanceMethod = "threshold"
	// MethodTwoProportionZ flags a pair when a pooled two-proportion z-test
	// p-value falls below the threshold.
	MethodTwoProportionZ SignificanceMethod = "two_proportion_z"
)

// Well-known metric names consulted by winner selection.
const (
	MetricQualityScore = "quality_score"
	MetricCost         = "cost"
	MetricResponseTime = "response_time"
	MetricTokens       = "tokens"
)

type Experiment struct {
	ID                    string             `json:"id"`
	OrganizationID        string             `json:"organization_id"`
	Name                  string             `json:"name"`
	Description           string             `json:"description,omitempty"`
	TestType              TestType           `json:"test_type"`
	Variants              Variants           `json:"variants"`
	TrafficSplit          TrafficSplit       `json:"traffic_split"`
	SuccessMetrics        []string           `json:"success_metrics"`
	SignificanceThreshold float64            `json:"statistical_significance"`
	SignificanceMethod    SignificanceMethod `json:"significance_method"`
	DurationDays          int                `json:"duration_days"`
	Status                ExperimentStatus   `json:"status"`
	CreatedBy             string             `json:"created_by,omitempty"`
	StoppedBy             string             `json:"stopped_by,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
	ExpiresAt             time.Time          `json:"expires_at"`
}

func (e *Experiment) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func (e *Experiment) HasVariant(key string) bool {
	_, ok := e.Variants.Get(key)
	return ok
}

type ExperimentFilter struct {
	OrganizationID string
	Status         ExperimentStatus
	Limit          int
}

type Assignment struct {
	ID           string          `json:"id"`
	ExperimentID string          `json:"test_id"`
	SubjectID    string          `json:"subject_id"`
	Input        json.RawMessage `json:"input,omitempty"`
	Variant      string          `json:"variant"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

type Observation struct {
	ID           string             `json:"id"`
	ExperimentID string             `json:"test_id"`
	Variant      string             `json:"variant"`
	Metrics      map[string]float64 `json:"metrics"`
	Success      bool               `json:"success"`
	RecordedAt   time.Time          `json:"recorded_at"`
}

// StatusUpdate moves an experiment between lifecycle states. When From is set
// the store applies the update only if the current status still matches.
type StatusUpdate struct {
	From      ExperimentStatus
	To        ExperimentStatus
	Actor     string
	UpdatedAt time.Time
}
