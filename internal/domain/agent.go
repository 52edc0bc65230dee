package domain

import "time"

// RegistryEntry describes one specialist known to the orchestrator.
type RegistryEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
}

// AgentIdentity describes a named agent instance hosted by the runtime.
type AgentIdentity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

// Agent kinds.
const (
	KindOrchestrator = "orchestrator"
	KindSpecialist   = "specialist"
)
