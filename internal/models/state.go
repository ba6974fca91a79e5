package models

import "time"

// ResourceStatus is the outcome recorded for a processed resource.
type ResourceStatus string

const (
	StatusCompleted ResourceStatus = "completed"
	StatusFailed    ResourceStatus = "failed"
	StatusPending   ResourceStatus = "pending"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ProcessedResource is one row of the processing ledger.
type ProcessedResource struct {
	ID           string         `json:"id"`
	ResourceType string         `json:"resource_type"`
	Status       ResourceStatus `json:"status"`
	ProcessedAt  time.Time      `json:"processed_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Checkpoint is a progress marker written after each batch.
type Checkpoint struct {
	ID             int64          `json:"checkpoint_id"`
	ResourceType   string         `json:"resource_type"`
	Time           time.Time      `json:"checkpoint_time"`
	BatchSize      int            `json:"batch_size"`
	TotalProcessed int            `json:"total_processed"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Fields flattens the checkpoint into a single map with the metadata keys
// merged into the top level.
func (c Checkpoint) Fields() map[string]any {
	out := map[string]any{
		"checkpoint_id":   c.ID,
		"resource_type":   c.ResourceType,
		"checkpoint_time": c.Time,
		"batch_size":      c.BatchSize,
		"total_processed": c.TotalProcessed,
	}
	for k, v := range c.Metadata {
		out[k] = v
	}
	return out
}

// PipelineRun is one orchestrator invocation.
type PipelineRun struct {
	ID        int64          `json:"run_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Status    RunStatus      `json:"status"`
	City      string         `json:"city"`
	Config    map[string]any `json:"config,omitempty"`
	Stats     map[string]any `json:"stats,omitempty"`
}

// StateStatistics summarises the processing ledger.
type StateStatistics struct {
	ByResourceType    map[string]map[ResourceStatus]int `json:"by_resource_type"`
	TotalCompleted    int                               `json:"total_completed"`
	TotalFailed       int                               `json:"total_failed"`
	RecentCheckpoints []Checkpoint                      `json:"recent_checkpoints"`
	RecentRuns        []PipelineRun                     `json:"recent_runs"`
}
