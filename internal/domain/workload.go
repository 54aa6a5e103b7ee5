package domain

import "time"

// Workload status values. Transitions follow pending -> running -> stopped,
// with failed reachable from any state.
const (
	WorkloadStatusPending = "pending"
	WorkloadStatusRunning = "running"
	WorkloadStatusStopped = "stopped"
	WorkloadStatusFailed  = "failed"
)

// PortMapping binds a container port to an allocated host port.
type PortMapping struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"`
}

// Workload represents one provisioned container owned by a tenant.
// RuntimeState holds the live container state on reads; it is never
// persisted and may be empty when the runtime is unreachable.
type Workload struct {
	ID           string
	OwnerID      string
	CatalogRef   string
	Name         string
	Status       string
	ContainerID  string
	PortMappings []PortMapping
	Config       []byte
	RuntimeState string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
