package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/model-bridge/backend/internal/analysis"
	"github.com/model-bridge/backend/internal/assignment"
	"github.com/model-bridge/backend/internal/metrics"
	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
	"github.com/model-bridge/backend/pkg/logger"
)

const (
	DefaultDurationDays       = 30
	DefaultMaxSubjectIDLength = 256

	// SystemActor is recorded when the expiry sweeper completes an experiment.
	SystemActor = "system:expirer"
)

type Options struct {
	DefaultDurationDays int
	DefaultSignificance float64
	DefaultMethod       models.SignificanceMethod
	SplitTolerance      float64
	MaxSubjectIDLength  int

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

type Manager struct {
	repo  Repository
	opts  Options
	now   func() time.Time
	newID func() string
}

func NewManager(repo Repository, opts Options) *Manager {
	if opts.DefaultDurationDays <= 0 {
		opts.DefaultDurationDays = DefaultDurationDays
	}
	if opts.DefaultSignificance <= 0 {
		opts.DefaultSignificance = analysis.DefaultSignificance
	}
	if opts.DefaultMethod == "" {
		opts.DefaultMethod = models.MethodThreshold
	}
	if opts.SplitTolerance <= 0 {
		opts.SplitTolerance = assignment.DefaultTolerance
	}
	if opts.MaxSubjectIDLength <= 0 {
		opts.MaxSubjectIDLength = DefaultMaxSubjectIDLength
	}

	m := &Manager{
		repo:  repo,
		opts:  opts,
		now:   opts.Now,
		newID: opts.NewID,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

type CreateRequest struct {
	OrganizationID        string
	CreatedBy             string
	Name                  string
	Description           string
	TestType              models.TestType
	Variants              models.Variants
	TrafficSplit          models.TrafficSplit
	SuccessMetrics        []string
	SignificanceThreshold float64
	SignificanceMethod    models.SignificanceMethod
	DurationDays          int
	AutoActivate          bool
}

type ObservationRequest struct {
	OrganizationID string
	ExperimentID   string
	Variant        string
	Metrics        map[string]float64
	Success        bool
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Experiment, error) {
	exp, err := m.build(req)
	if err != nil {
		return nil, err
	}

	if err := m.repo.SaveExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to save experiment: %w", err)
	}

	metrics.ExperimentsCreated.WithLabelValues(string(exp.TestType)).Inc()
	logger.Info("Experiment created",
		zap.String("experiment_id", exp.ID),
		zap.String("organization_id", exp.OrganizationID),
		zap.String("test_type", string(exp.TestType)),
		zap.String("status", string(exp.Status)),
		zap.Strings("variants", exp.Variants.Keys()),
	)

	return exp, nil
}

func (m *Manager) build(req CreateRequest) (*models.Experiment, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.InvalidConfiguration("name is required", nil)
	}

	testType := req.TestType
	if testType == "" {
		testType = models.TestTypeGeneric
	}
	if !testType.Valid() {
		return nil, apperrors.InvalidConfiguration("unknown test type", map[string]interface{}{
			"test_type": string(testType),
		})
	}

	if err := assignment.ValidateSplit(req.Variants, req.TrafficSplit, m.opts.SplitTolerance); err != nil {
		return nil, err
	}

	threshold := req.SignificanceThreshold
	if threshold == 0 {
		threshold = m.opts.DefaultSignificance
	}
	if math.IsNaN(threshold) || threshold <= 0 || threshold >= 1 {
		return nil, apperrors.InvalidConfiguration("statistical_significance must be between 0 and 1", map[string]interface{}{
			"statistical_significance": threshold,
		})
	}

	method := req.SignificanceMethod
	if method == "" {
		method = m.opts.DefaultMethod
	}
	if method != models.MethodThreshold && method != models.MethodTwoProportionZ {
		return nil, apperrors.InvalidConfiguration("unknown significance method", map[string]interface{}{
			"significance_method": string(method),
		})
	}

	duration := req.DurationDays
	if duration == 0 {
		duration = m.opts.DefaultDurationDays
	}
	if duration < 0 {
		return nil, apperrors.InvalidConfiguration("duration_days must be positive", map[string]interface{}{
			"duration_days": duration,
		})
	}

	successMetrics := make([]string, 0, len(req.SuccessMetrics))
	for _, name := range req.SuccessMetrics {
		if name = strings.TrimSpace(name); name != "" {
			successMetrics = append(successMetrics, name)
		}
	}

	now := m.now().UTC()
	status := models.StatusDraft
	if req.AutoActivate {
		status = models.StatusActive
	}

	return &models.Experiment{
		ID:                    m.newID(),
		OrganizationID:        req.OrganizationID,
		Name:                  name,
		Description:           req.Description,
		TestType:              testType,
		Variants:              req.Variants,
		TrafficSplit:          req.TrafficSplit,
		SuccessMetrics:        successMetrics,
		SignificanceThreshold: threshold,
		SignificanceMethod:    method,
		DurationDays:          duration,
		Status:                status,
		CreatedBy:             req.CreatedBy,
		CreatedAt:             now,
		UpdatedAt:             now,
		ExpiresAt:             now.AddDate(0, 0, duration),
	}, nil
}

// Get loads an experiment. An empty organizationID skips tenant scoping.
func (m *Manager) Get(ctx context.Context, organizationID, id string) (*models.Experiment, error) {
	exp, err := m.repo.LoadExperiment(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}
	if organizationID != "" && exp.OrganizationID != organizationID {
		return nil, apperrors.NotFoundWithDetails("experiment not found", map[string]interface{}{
			"experiment_id": id,
		})
	}
	return exp, nil
}

func (m *Manager) List(ctx context.Context, filter models.ExperimentFilter) ([]*models.Experiment, error) {
	experiments, err := m.repo.ListExperiments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return experiments, nil
}

func (m *Manager) Activate(ctx context.Context, organizationID, id, actor string) (*models.Experiment, error) {
	return m.transition(ctx, organizationID, id, actor, models.StatusActive, models.StatusDraft)
}

// Stop moves an active experiment to stopped, whether or not it has expired.
func (m *Manager) Stop(ctx context.Context, organizationID, id, actor string) (*models.Experiment, error) {
	return m.transition(ctx, organizationID, id, actor, models.StatusStopped, models.StatusActive)
}

func (m *Manager) Complete(ctx context.Context, organizationID, id, actor string) (*models.Experiment, error) {
	return m.transition(ctx, organizationID, id, actor, models.StatusCompleted, models.StatusActive, models.StatusStopped)
}

func (m *Manager) transition(ctx context.Context, organizationID, id, actor string, to models.ExperimentStatus, from ...models.ExperimentStatus) (*models.Experiment, error) {
	exp, err := m.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, s := range from {
		if exp.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot move experiment from %s to %s", exp.Status, to), map[string]interface{}{
			"experiment_id": id,
			"status":        string(exp.Status),
			"target":        string(to),
		})
	}

	update := models.StatusUpdate{
		From:      exp.Status,
		To:        to,
		Actor:     actor,
		UpdatedAt: m.now().UTC(),
	}
	if err := m.repo.UpdateExperimentStatus(ctx, id, update); err != nil {
		if apperrors.IsAPIError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update experiment status: %w", err)
	}

	exp.Status = to
	exp.UpdatedAt = update.UpdatedAt
	if to != models.StatusActive && actor != "" {
		exp.StoppedBy = actor
	}

	metrics.ExperimentTransitions.WithLabelValues(string(to)).Inc()
	logger.Info("Experiment status changed",
		zap.String("experiment_id", id),
		zap.String("from", string(update.From)),
		zap.String("to", string(to)),
		zap.String("actor", actor),
	)

	return exp, nil
}

// RequestAssignment assigns subjectID to a variant of an active, unexpired
// experiment and records the assignment.
func (m *Manager) RequestAssignment(ctx context.Context, organizationID, id, subjectID string, input json.RawMessage) (*models.Assignment, error) {
	if subjectID == "" {
		return nil, apperrors.BadRequest("subject_id is required")
	}
	if len(subjectID) > m.opts.MaxSubjectIDLength {
		return nil, apperrors.BadRequestWithDetails("subject_id is too long", map[string]interface{}{
			"max_length": m.opts.MaxSubjectIDLength,
		})
	}

	exp, err := m.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if exp.Status != models.StatusActive {
		metrics.AssignmentsTotal.WithLabelValues("not_active").Inc()
		return nil, apperrors.ExperimentNotActive(id, string(exp.Status))
	}
	if exp.IsExpired(now) {
		metrics.AssignmentsTotal.WithLabelValues("expired").Inc()
		return nil, apperrors.ExperimentExpired(id, exp.ExpiresAt.Format(time.RFC3339))
	}

	variant, err := assignment.Assign(exp.ID, exp.TrafficSplit, subjectID)
	if err != nil {
		return nil, err
	}

	a := &models.Assignment{
		ID:           m.newID(),
		ExperimentID: exp.ID,
		SubjectID:    subjectID,
		Input:        input,
		Variant:      variant,
		ExecutedAt:   now,
	}
	if err := m.repo.SaveAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	metrics.AssignmentsTotal.WithLabelValues("assigned").Inc()
	logger.Debug("Subject assigned",
		zap.String("experiment_id", exp.ID),
		zap.String("subject_id", subjectID),
		zap.String("variant", variant),
	)

	return a, nil
}

// RecordObservation stores an outcome for one variant. Late results are
// accepted in any status.
func (m *Manager) RecordObservation(ctx context.Context, req ObservationRequest) (*models.Observation, error) {
	exp, err := m.Get(ctx, req.OrganizationID, req.ExperimentID)
	if err != nil {
		return nil, err
	}

	if !exp.HasVariant(req.Variant) {
		return nil, apperrors.InvalidConfiguration("variant is not part of the experiment", map[string]interface{}{
			"experiment_id": exp.ID,
			"variant":       req.Variant,
			"variants":      exp.Variants.Keys(),
		})
	}

	values := make(map[string]float64, len(req.Metrics))
	for name, v := range req.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values[name] = v
	}

	obs := &models.Observation{
		ID:           m.newID(),
		ExperimentID: exp.ID,
		Variant:      req.Variant,
		Metrics:      values,
		Success:      req.Success,
		RecordedAt:   m.now().UTC(),
	}
	if err := m.repo.SaveObservation(ctx, obs); err != nil {
		return nil, fmt.Errorf("failed to save observation: %w", err)
	}

	metrics.ObservationsRecorded.WithLabelValues(strconv.FormatBool(obs.Success)).Inc()
	logger.Debug("Observation recorded",
		zap.String("experiment_id", exp.ID),
		zap.String("variant", obs.Variant),
		zap.Bool("success", obs.Success),
	)

	return obs, nil
}

// Analyze summarizes all observations recorded for an experiment in any
// status. It never changes experiment state.
func (m *Manager) Analyze(ctx context.Context, organizationID, id string) (*analysis.Result, error) {
	start := time.Now()

	exp, err := m.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	observations, err := m.repo.LoadObservations(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}

	result := analysis.Analyze(exp, observations)

	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	metrics.AnalysisObservations.Observe(float64(len(observations)))

	return result, nil
}

func (m *Manager) ExpireDue(ctx context.Context) (int, error) {
	active, err := m.repo.ListExperiments(ctx, models.ExperimentFilter{Status: models.StatusActive})
	if err != nil {
		return 0, fmt.Errorf("failed to list active experiments: %w", err)
	}

	now := m.now().UTC()
	expired := 0
	for _, exp := range active {
		if !exp.IsExpired(now) {
			continue
		}
		if _, err := m.Complete(ctx, "", exp.ID, SystemActor); err != nil {
			// another caller may have moved it already
			if apperrors.IsInvalidState(err) || apperrors.IsNotFound(err) {
				continue
			}
			return expired, err
		}
		expired++
		metrics.ExperimentsExpired.Inc()
	}

	return expired, nil
}
