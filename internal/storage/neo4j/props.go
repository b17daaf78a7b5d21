package neo4j

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/model-bridge/backend/internal/storage/models"
)

// experimentParams flattens an experiment into node properties. Ordered
// collections are stored as JSON strings so key order survives.
func experimentParams(exp *models.Experiment) (map[string]any, error) {
	variantsJSON, err := json.Marshal(exp.Variants)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variants: %w", err)
	}
	splitJSON, err := json.Marshal(exp.TrafficSplit)
	if err != nil {
		return nil, fmt.Errorf("failed to encode traffic split: %w", err)
	}

	metrics := make([]any, len(exp.SuccessMetrics))
	for i, m := range exp.SuccessMetrics {
		metrics[i] = m
	}

	return map[string]any{
		"organization_id":     exp.OrganizationID,
		"name":                exp.Name,
		"description":         exp.Description,
		"test_type":           string(exp.TestType),
		"variants":            string(variantsJSON),
		"traffic_split":       string(splitJSON),
		"success_metrics":     metrics,
		"significance":        exp.SignificanceThreshold,
		"significance_method": string(exp.SignificanceMethod),
		"duration_days":       int64(exp.DurationDays),
		"status":              string(exp.Status),
		"created_by":          exp.CreatedBy,
		"stopped_by":          exp.StoppedBy,
		"created_at":          toUnix(exp.CreatedAt),
		"updated_at":          toUnix(exp.UpdatedAt),
		"expires_at":          toUnix(exp.ExpiresAt),
	}, nil
}

func experimentFromProps(props map[string]any) (*models.Experiment, error) {
	exp := &models.Experiment{
		ID:                    asString(props["id"]),
		OrganizationID:        asString(props["organization_id"]),
		Name:                  asString(props["name"]),
		Description:           asString(props["description"]),
		TestType:              models.TestType(asString(props["test_type"])),
		SignificanceThreshold: asFloat(props["significance"]),
		SignificanceMethod:    models.SignificanceMethod(asString(props["significance_method"])),
		DurationDays:          int(asInt(props["duration_days"])),
		Status:                models.ExperimentStatus(asString(props["status"])),
		CreatedBy:             asString(props["created_by"]),
		StoppedBy:             asString(props["stopped_by"]),
		CreatedAt:             fromUnix(asInt(props["created_at"])),
		UpdatedAt:             fromUnix(asInt(props["updated_at"])),
		ExpiresAt:             fromUnix(asInt(props["expires_at"])),
	}

	if err := json.Unmarshal([]byte(asString(props["variants"])), &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to decode variants: %w", err)
	}
	if err := json.Unmarshal([]byte(asString(props["traffic_split"])), &exp.TrafficSplit); err != nil {
		return nil, fmt.Errorf("failed to decode traffic split: %w", err)
	}

	exp.SuccessMetrics = []string{}
	if list, ok := props["success_metrics"].([]any); ok {
		for _, m := range list {
			if s, ok := m.(string); ok {
				exp.SuccessMetrics = append(exp.SuccessMetrics, s)
			}
		}
	}

	return exp, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
