package endpoints

import (
	"time"

	"github.com/casetrace/casetrace/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// StuckThreshold is the default age after which a running job is
	// considered stuck. Individual requests may override it.
	StuckThreshold time.Duration
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Case document endpoints
		&RegisterDocumentEndpoint{},
		&ListDocumentsEndpoint{},

		// Analysis endpoints
		&StartAnalysisEndpoint{},
		&ContinueAnalysisEndpoint{},
		&GetAnalysisEndpoint{},
		&ListCaseEventsEndpoint{},

		// Job endpoints
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&JobSummaryEndpoint{},
		&CancelJobEndpoint{},
		&RetryJobEndpoint{},

		// Stuck job endpoints
		&StuckJobsEndpoint{Threshold: cfg.StuckThreshold},
		&CleanupStuckEndpoint{Threshold: cfg.StuckThreshold},
		&DeleteStuckEndpoint{Threshold: cfg.StuckThreshold},
	}
}
