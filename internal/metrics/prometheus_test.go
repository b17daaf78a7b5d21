package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCount(t *testing.T) {
	before := testutil.ToFloat64(AssignmentsTotal.WithLabelValues("assigned"))
	AssignmentsTotal.WithLabelValues("assigned").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AssignmentsTotal.WithLabelValues("assigned")))

	CircuitBreakerState.WithLabelValues("neo4j").Set(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("neo4j")))
}

func TestMetricsHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
