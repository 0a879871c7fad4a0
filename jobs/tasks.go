package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReplenishGenerate regenerates suggestions for a set of stores.
	TaskReplenishGenerate = "replenish:generate"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ReplenishGeneratePayload parametrizes a scheduled generation run.
type ReplenishGeneratePayload struct {
	Stores             []string `json:"stores"`
	CoverageDays       int      `json:"coverage_days,omitempty"`
	ServiceLevel       float64  `json:"service_level,omitempty"`
	AnalysisPeriodDays int      `json:"analysis_period_days,omitempty"`
}

// NewReplenishGenerateTask constructs an Asynq task.
func NewReplenishGenerateTask(payload ReplenishGeneratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplenishGenerate, data), nil
}

// IdempotencyCleanupPayload bounds the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
