package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
	"github.com/model-bridge/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	// foreign keys and busy timeout go in the DSN so every pooled connection gets them
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dbPath+sep+"_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT,
		test_type TEXT NOT NULL,
		variants TEXT NOT NULL,
		traffic_split TEXT NOT NULL,
		success_metrics TEXT NOT NULL,
		significance REAL NOT NULL,
		significance_method TEXT NOT NULL,
		duration_days INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT,
		stopped_by TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_experiments_org ON experiments(organization_id);
	CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
	CREATE INDEX IF NOT EXISTS idx_experiments_created ON experiments(created_at);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		input TEXT,
		variant TEXT NOT NULL,
		executed_at INTEGER NOT NULL,
		FOREIGN KEY (experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_experiment ON assignments(experiment_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_subject ON assignments(experiment_id, subject_id);

	CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		metrics TEXT NOT NULL,
		success INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_observations_experiment ON observations(experiment_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) SaveExperiment(ctx context.Context, exp *models.Experiment) error {
	variantsJSON, err := json.Marshal(exp.Variants)
	if err != nil {
		return fmt.Errorf("failed to encode variants: %w", err)
	}
	splitJSON, err := json.Marshal(exp.TrafficSplit)
	if err != nil {
		return fmt.Errorf("failed to encode traffic split: %w", err)
	}
	metricsJSON, err := json.Marshal(nonNil(exp.SuccessMetrics))
	if err != nil {
		return fmt.Errorf("failed to encode success metrics: %w", err)
	}

	query := `
		INSERT INTO experiments (id, organization_id, name, description, test_type, variants, traffic_split,
			success_metrics, significance, significance_method, duration_days, status, created_by, stopped_by,
			created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			stopped_by = excluded.stopped_by,
			updated_at = excluded.updated_at
	`

	_, err = c.db.ExecContext(ctx, query,
		exp.ID,
		exp.OrganizationID,
		exp.Name,
		exp.Description,
		string(exp.TestType),
		string(variantsJSON),
		string(splitJSON),
		string(metricsJSON),
		exp.SignificanceThreshold,
		string(exp.SignificanceMethod),
		exp.DurationDays,
		string(exp.Status),
		exp.CreatedBy,
		exp.StoppedBy,
		toUnix(exp.CreatedAt),
		toUnix(exp.UpdatedAt),
		toUnix(exp.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	logger.Debug("Experiment saved", zap.String("experiment_id", exp.ID))
	return nil
}

const experimentColumns = `id, organization_id, name, description, test_type, variants, traffic_split, success_metrics,
	significance, significance_method, duration_days, status, created_by, stopped_by, created_at, updated_at, expires_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var exp models.Experiment
	var description, createdBy, stoppedBy sql.NullString
	var testType, variantsJSON, splitJSON, metricsJSON, method, status string
	var createdAt, updatedAt, expiresAt int64

	err := row.Scan(
		&exp.ID,
		&exp.OrganizationID,
		&exp.Name,
		&description,
		&testType,
		&variantsJSON,
		&splitJSON,
		&metricsJSON,
		&exp.SignificanceThreshold,
		&method,
		&exp.DurationDays,
		&status,
		&createdBy,
		&stoppedBy,
		&createdAt,
		&updatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to decode variants: %w", err)
	}
	if err := json.Unmarshal([]byte(splitJSON), &exp.TrafficSplit); err != nil {
		return nil, fmt.Errorf("failed to decode traffic split: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &exp.SuccessMetrics); err != nil {
		return nil, fmt.Errorf("failed to decode success metrics: %w", err)
	}

	exp.Description = description.String
	exp.TestType = models.TestType(testType)
	exp.SignificanceMethod = models.SignificanceMethod(method)
	exp.Status = models.ExperimentStatus(status)
	exp.CreatedBy = createdBy.String
	exp.StoppedBy = stoppedBy.String
	exp.CreatedAt = fromUnix(createdAt)
	exp.UpdatedAt = fromUnix(updatedAt)
	exp.ExpiresAt = fromUnix(expiresAt)

	return &exp, nil
}

func (c *Client) LoadExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE id = ?`

	exp, err := scanExperiment(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundWithDetails("experiment not found", map[string]interface{}{
				"experiment_id": id,
			})
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	return exp, nil
}

func (c *Client) ListExperiments(ctx context.Context, filter models.ExperimentFilter) ([]*models.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE 1 = 1`
	var args []interface{}

	if filter.OrganizationID != "" {
		query += ` AND organization_id = ?`
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		experiments = append(experiments, exp)
	}

	return experiments, rows.Err()
}

func (c *Client) UpdateExperimentStatus(ctx context.Context, id string, update models.StatusUpdate) error {
	stoppedBy := ""
	if update.To != models.StatusActive {
		stoppedBy = update.Actor
	}

	query := `
		UPDATE experiments
		SET status = ?, updated_at = ?, stopped_by = COALESCE(NULLIF(?, ''), stopped_by)
		WHERE id = ? AND (? = '' OR status = ?)
	`

	res, err := c.db.ExecContext(ctx, query,
		string(update.To),
		toUnix(update.UpdatedAt),
		stoppedBy,
		id,
		string(update.From),
		string(update.From),
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	// nothing matched: either the row is gone or its status moved on
	current, err := c.LoadExperiment(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.InvalidState("experiment status changed concurrently", map[string]interface{}{
		"experiment_id": id,
		"status":        string(current.Status),
	})
}

func (c *Client) SaveAssignment(ctx context.Context, a *models.Assignment) error {
	query := `INSERT INTO assignments (id, experiment_id, subject_id, input, variant, executed_at) VALUES (?, ?, ?, ?, ?, ?)`

	var input interface{}
	if len(a.Input) > 0 {
		input = string(a.Input)
	}

	_, err := c.db.ExecContext(ctx, query,
		a.ID,
		a.ExperimentID,
		a.SubjectID,
		input,
		a.Variant,
		toUnix(a.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}

	return nil
}

func (c *Client) SaveObservation(ctx context.Context, obs *models.Observation) error {
	metricsJSON, err := json.Marshal(obs.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	success := 0
	if obs.Success {
		success = 1
	}

	query := `INSERT INTO observations (id, experiment_id, variant, metrics, success, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err = c.db.ExecContext(ctx, query,
		obs.ID,
		obs.ExperimentID,
		obs.Variant,
		string(metricsJSON),
		success,
		toUnix(obs.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}

	return nil
}

// LoadObservations returns observations in insertion order.
func (c *Client) LoadObservations(ctx context.Context, experimentID string) ([]models.Observation, error) {
	query := `
		SELECT id, experiment_id, variant, metrics, success, recorded_at
		FROM observations
		WHERE experiment_id = ?
		ORDER BY rowid
	`

	rows, err := c.db.QueryContext(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get observations: %w", err)
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		var obs models.Observation
		var metricsJSON string
		var success int
		var recordedAt int64

		if err := rows.Scan(&obs.ID, &obs.ExperimentID, &obs.Variant, &metricsJSON, &success, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &obs.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
		obs.Success = success == 1
		obs.RecordedAt = fromUnix(recordedAt)
		observations = append(observations, obs)
	}

	return observations, rows.Err()
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

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
