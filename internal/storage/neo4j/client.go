package neo4j

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/model-bridge/backend/internal/metrics"
	"github.com/model-bridge/backend/internal/storage/models"
	"github.com/model-bridge/backend/pkg/circuitbreaker"
	apperrors "github.com/model-bridge/backend/pkg/errors"
	"github.com/model-bridge/backend/pkg/logger"
	"github.com/model-bridge/backend/pkg/retry"
)

const queryTimeout = 10 * time.Second

var errExperimentMissing = errors.New("experiment node missing")

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return newClient(driver, database), nil
}

func newClient(driver neo4j.DriverWithContext, database string) *Client {
	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        isInfrastructureError,
		OnStateChange:    recordBreakerState,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		Name:           "neo4j",
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		ShouldRetry:    retry.Transient,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func isInfrastructureError(err error) bool {
	return err != nil && !apperrors.IsAPIError(err)
}

func recordBreakerState(name string, from, to circuitbreaker.State) {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(ctx context.Context, session neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(ctx, session)
		})
	})
}

func (c *Client) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT experiment_id IF NOT EXISTS FOR (e:Experiment) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT assignment_id IF NOT EXISTS FOR (a:Assignment) REQUIRE a.id IS UNIQUE`,
		`CREATE CONSTRAINT observation_id IF NOT EXISTS FOR (o:Observation) REQUIRE o.id IS UNIQUE`,
		`CREATE INDEX experiment_org IF NOT EXISTS FOR (e:Experiment) ON (e.organization_id)`,
	}

	return c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		for _, stmt := range statements {
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
		}
		logger.Info("Neo4j schema initialized")
		return nil
	})
}

func (c *Client) SaveExperiment(ctx context.Context, exp *models.Experiment) error {
	params, err := experimentParams(exp)
	if err != nil {
		return err
	}

	query := `
		MERGE (e:Experiment {id: $id})
		SET e += $props
	`

	err = c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, query, map[string]any{"id": exp.ID, "props": params})
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save experiment: %w", err)
	}

	logger.Debug("Experiment saved in graph", zap.String("experiment_id", exp.ID))
	return nil
}

func (c *Client) LoadExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	var exp *models.Experiment

	err := c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, `MATCH (e:Experiment {id: $id}) RETURN e`, map[string]any{"id": id})
		if err != nil {
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return fmt.Errorf("error iterating results: %w", err)
			}
			return apperrors.NotFoundWithDetails("experiment not found", map[string]interface{}{
				"experiment_id": id,
			})
		}

		exp, err = experimentFromRecord(result.Record())
		return err
	})
	if err != nil {
		return nil, err
	}

	return exp, nil
}

func (c *Client) ListExperiments(ctx context.Context, filter models.ExperimentFilter) ([]*models.Experiment, error) {
	query := `
		MATCH (e:Experiment)
		WHERE ($org = '' OR e.organization_id = $org)
		  AND ($status = '' OR e.status = $status)
		RETURN e
		ORDER BY e.created_at DESC
	`
	params := map[string]any{
		"org":    filter.OrganizationID,
		"status": string(filter.Status),
	}
	if filter.Limit > 0 {
		query += ` LIMIT $limit`
		params["limit"] = int64(filter.Limit)
	}

	var experiments []*models.Experiment
	err := c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		experiments = experiments[:0]

		result, err := session.Run(ctx, query, params)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}
		for result.Next(ctx) {
			exp, err := experimentFromRecord(result.Record())
			if err != nil {
				return err
			}
			experiments = append(experiments, exp)
		}
		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return experiments, nil
}

func (c *Client) UpdateExperimentStatus(ctx context.Context, id string, update models.StatusUpdate) error {
	query := `
		MATCH (e:Experiment {id: $id})
		WITH e, e.status AS current
		FOREACH (_ IN CASE WHEN $from = '' OR current = $from THEN [1] ELSE [] END |
			SET e.status = $to,
			    e.updated_at = $updated_at,
			    e.stopped_by = CASE WHEN $stopped_by = '' THEN e.stopped_by ELSE $stopped_by END
		)
		RETURN current
	`

	stoppedBy := ""
	if update.To != models.StatusActive {
		stoppedBy = update.Actor
	}
	params := map[string]any{
		"id":         id,
		"from":       string(update.From),
		"to":         string(update.To),
		"updated_at": toUnix(update.UpdatedAt),
		"stopped_by": stoppedBy,
	}

	return c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		current, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			if !result.Next(ctx) {
				if err := result.Err(); err != nil {
					return nil, err
				}
				return nil, errExperimentMissing
			}
			value, _ := result.Record().Get("current")
			return value, nil
		})
		if err != nil {
			if errors.Is(err, errExperimentMissing) {
				return apperrors.NotFoundWithDetails("experiment not found", map[string]interface{}{
					"experiment_id": id,
				})
			}
			return fmt.Errorf("failed to update experiment status: %w", err)
		}

		status, _ := current.(string)
		if update.From != "" && status != string(update.From) {
			return apperrors.InvalidState("experiment status changed concurrently", map[string]interface{}{
				"experiment_id": id,
				"status":        status,
			})
		}
		return nil
	})
}

func (c *Client) SaveAssignment(ctx context.Context, a *models.Assignment) error {
	query := `
		MATCH (e:Experiment {id: $experiment_id})
		CREATE (e)-[:HAS_ASSIGNMENT]->(:Assignment {
			id: $id,
			subject_id: $subject_id,
			input: $input,
			variant: $variant,
			executed_at: $executed_at
		})
	`

	params := map[string]any{
		"experiment_id": a.ExperimentID,
		"id":            a.ID,
		"subject_id":    a.SubjectID,
		"input":         string(a.Input),
		"variant":       a.Variant,
		"executed_at":   toUnix(a.ExecutedAt),
	}

	err := c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, query, params)
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}

	return nil
}

// SaveObservation numbers observations per experiment so LoadObservations can
// return them in insertion order.
func (c *Client) SaveObservation(ctx context.Context, obs *models.Observation) error {
	metricsJSON, err := json.Marshal(obs.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	query := `
		MATCH (e:Experiment {id: $experiment_id})
		SET e.observation_seq = coalesce(e.observation_seq, 0) + 1
		CREATE (e)-[:HAS_OBSERVATION]->(:Observation {
			id: $id,
			seq: e.observation_seq,
			variant: $variant,
			metrics: $metrics,
			success: $success,
			recorded_at: $recorded_at
		})
	`

	params := map[string]any{
		"experiment_id": obs.ExperimentID,
		"id":            obs.ID,
		"variant":       obs.Variant,
		"metrics":       string(metricsJSON),
		"success":       obs.Success,
		"recorded_at":   toUnix(obs.RecordedAt),
	}

	err = c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, query, params)
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save observation: %w", err)
	}

	return nil
}

func (c *Client) LoadObservations(ctx context.Context, experimentID string) ([]models.Observation, error) {
	query := `
		MATCH (:Experiment {id: $experiment_id})-[:HAS_OBSERVATION]->(o:Observation)
		RETURN o.id, o.variant, o.metrics, o.success, o.recorded_at
		ORDER BY o.seq
	`

	var observations []models.Observation
	err := c.executeWithRetry(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		observations = observations[:0]

		result, err := session.Run(ctx, query, map[string]any{"experiment_id": experimentID})
		if err != nil {
			return fmt.Errorf("failed to get observations: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			id, _ := record.Get("o.id")
			variant, _ := record.Get("o.variant")
			metricsJSON, _ := record.Get("o.metrics")
			success, _ := record.Get("o.success")
			recordedAt, _ := record.Get("o.recorded_at")

			obs := models.Observation{
				ID:           asString(id),
				ExperimentID: experimentID,
				Variant:      asString(variant),
				RecordedAt:   fromUnix(asInt(recordedAt)),
			}
			obs.Success, _ = success.(bool)
			if raw := asString(metricsJSON); raw != "" {
				if err := json.Unmarshal([]byte(raw), &obs.Metrics); err != nil {
					return retry.Permanent(fmt.Errorf("failed to decode metrics: %w", err))
				}
			}
			observations = append(observations, obs)
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return observations, nil
}

func experimentFromRecord(record *neo4j.Record) (*models.Experiment, error) {
	value, ok := record.Get("e")
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("record has no experiment node"))
	}
	node, ok := value.(neo4j.Node)
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("unexpected experiment value %T", value))
	}
	exp, err := experimentFromProps(node.Props)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return exp, nil
}
