package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the experiments API on router, normally /api/v1.
func RegisterRoutes(router fiber.Router, experiments *ExperimentHandler, execution *ExecutionHandler, health *HealthHandler) {
	router.Get("/health", health.Health)
	router.Get("/ready", health.Ready)

	tests := router.Group("/tests")
	tests.Post("/", experiments.CreateTest)
	tests.Get("/", experiments.ListTests)
	tests.Get("/:id", experiments.GetTest)
	tests.Post("/:id/activate", experiments.ActivateTest)
	tests.Post("/:id/stop", experiments.StopTest)
	tests.Post("/:id/complete", experiments.CompleteTest)
	tests.Get("/:id/results", experiments.GetResults)
	tests.Get("/:id/report", experiments.GetReport)
	tests.Get("/:id/assignments", experiments.GetAssignmentCounts)

	router.Post("/execute", execution.Execute)
	router.Post("/results", execution.RecordResult)
}
