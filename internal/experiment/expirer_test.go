package experiment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
)

func TestExpirerCompletesExpiredExperiments(t *testing.T) {
	m, _, clock := newTestManager(t)

	req := abRequest()
	req.AutoActivate = true
	req.DurationDays = 1
	exp, err := m.Create(context.Background(), req)
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewExpirer(m, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := m.Get(context.Background(), "", exp.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expirer did not stop after cancellation")
	}
}

func TestExpirerDisabled(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager(t)

	req := abRequest()
	req.AutoActivate = true
	req.DurationDays = 1
	exp, err := m.Create(ctx, req)
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	done := make(chan struct{})
	go func() {
		NewExpirer(m, 0).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled expirer should return immediately")
	}

	got, err := m.Get(ctx, "org-1", exp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	_, err = m.RequestAssignment(ctx, "org-1", exp.ID, "user-1", nil)
	assert.True(t, apperrors.IsExperimentExpired(err))

	stopped, err := m.Stop(ctx, "org-1", exp.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, stopped.Status)
}
