package domain

import "time"

// LifecycleEvent captures a workload state change for streaming to owners.
type LifecycleEvent struct {
	WorkloadID string    `json:"workload_id"`
	OwnerID    string    `json:"-"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
