package model

// AgentRecord captures the registered state of a workload inside a mesh.
// Keyed by AgentID; MeshID names the owning partition. Timestamps are
// milliseconds since epoch.
type AgentRecord struct {
	AgentID          string            `json:"agentId"`
	MeshID           string            `json:"meshId"`
	Pubkey           string            `json:"pubkey"`
	Endpoints        []string          `json:"endpoints"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ObservedEndpoint *ObservedEndpoint `json:"observedEndpoint,omitempty"`
	CreatedAt        int64             `json:"createdAt"`
	UpdatedAt        int64             `json:"updatedAt"`
	ExpiresAt        int64             `json:"expiresAt"`
}
