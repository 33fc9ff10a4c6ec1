package api

import "coral-discovery/pkg/model"

// RegisterColonyRequest is sent by a colony announcing itself for its mesh.
type RegisterColonyRequest struct {
	MeshID           string                  `json:"meshId"`
	Pubkey           string                  `json:"pubkey"`
	Endpoints        []string                `json:"endpoints"`
	MeshIPv4         string                  `json:"meshIpv4,omitempty"`
	MeshIPv6         string                  `json:"meshIpv6,omitempty"`
	ConnectPort      int                     `json:"connectPort,omitempty"`
	PublicPort       int                     `json:"publicPort,omitempty"`
	Metadata         map[string]string       `json:"metadata,omitempty"`
	ObservedEndpoint *model.ObservedEndpoint `json:"observedEndpoint,omitempty"`
	PublicEndpoint   *model.PublicEndpoint   `json:"publicEndpoint,omitempty"`
}

// RegisterResponse is shared by colony and agent registration.
type RegisterResponse struct {
	Success          bool                    `json:"success"`
	TTL              int64                   `json:"ttl"`
	ExpiresAt        string                  `json:"expiresAt"`
	ObservedEndpoint *model.ObservedEndpoint `json:"observedEndpoint,omitempty"`
}

type LookupColonyRequest struct {
	MeshID string `json:"meshId"`
}

type LookupColonyResponse struct {
	MeshID            string                   `json:"meshId"`
	Pubkey            string                   `json:"pubkey"`
	Endpoints         []string                 `json:"endpoints"`
	MeshIPv4          string                   `json:"meshIpv4,omitempty"`
	MeshIPv6          string                   `json:"meshIpv6,omitempty"`
	ConnectPort       int                      `json:"connectPort,omitempty"`
	PublicPort        int                      `json:"publicPort,omitempty"`
	Metadata          map[string]string        `json:"metadata,omitempty"`
	LastSeen          string                   `json:"lastSeen,omitempty"`
	ObservedEndpoints []model.ObservedEndpoint `json:"observedEndpoints"`
	Nat               int                      `json:"nat"`
	PublicEndpoint    *model.PublicEndpoint    `json:"publicEndpoint,omitempty"`
}

type RegisterAgentRequest struct {
	AgentID          string                  `json:"agentId"`
	MeshID           string                  `json:"meshId"`
	Pubkey           string                  `json:"pubkey"`
	Endpoints        []string                `json:"endpoints"`
	ObservedEndpoint *model.ObservedEndpoint `json:"observedEndpoint,omitempty"`
	Metadata         map[string]string       `json:"metadata,omitempty"`
}

type LookupAgentRequest struct {
	AgentID string `json:"agentId"`
	MeshID  string `json:"meshId"`
}

type LookupAgentResponse struct {
	AgentID           string                   `json:"agentId"`
	MeshID            string                   `json:"meshId"`
	Pubkey            string                   `json:"pubkey"`
	Endpoints         []string                 `json:"endpoints"`
	ObservedEndpoints []model.ObservedEndpoint `json:"observedEndpoints"`
	Metadata          map[string]string        `json:"metadata,omitempty"`
	LastSeen          string                   `json:"lastSeen,omitempty"`
}

// CreateBootstrapTokenRequest asks for a short-lived join ticket.
// TTLSeconds is optional and clamped server-side.
type CreateBootstrapTokenRequest struct {
	ReefID     string `json:"reefId"`
	ColonyID   string `json:"colonyId"`
	AgentID    string `json:"agentId"`
	Intent     string `json:"intent"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

// CreateBootstrapTokenResponse carries the compact JWT. ExpiresAt is
// seconds since epoch, serialized as a decimal string (64-bit wire rule).
type CreateBootstrapTokenResponse struct {
	JWT       string `json:"jwt"`
	ExpiresAt string `json:"expiresAt"`
}

type HealthRequest struct{}

// HealthResponse aggregates over the partitions live in this process.
// UptimeSeconds is a decimal string (64-bit wire rule).
type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	UptimeSeconds      string `json:"uptimeSeconds"`
	RegisteredColonies int    `json:"registeredColonies"`
}
