package model

// ObservedEndpoint is the externally visible address of a registrant as
// seen by the transport layer.
type ObservedEndpoint struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// CAFingerprint identifies the CA certificate advertised by a colony's
// public endpoint. Value is base64 on the wire and in storage.
type CAFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// PublicEndpoint describes an optional HTTPS ingress a colony exposes.
type PublicEndpoint struct {
	Enabled       bool           `json:"enabled"`
	URL           string         `json:"url,omitempty"`
	CACert        string         `json:"caCert,omitempty"`
	CAFingerprint *CAFingerprint `json:"caFingerprint,omitempty"`
	UpdatedAt     string         `json:"updatedAt,omitempty"`
}

// ColonyRecord captures the registered state of a mesh gateway. One colony
// exists per mesh at a time; the record is keyed by MeshID inside its
// partition. Timestamps are milliseconds since epoch.
type ColonyRecord struct {
	MeshID           string            `json:"meshId"`
	Pubkey           string            `json:"pubkey"`
	Endpoints        []string          `json:"endpoints"`
	MeshIPv4         string            `json:"meshIpv4,omitempty"`
	MeshIPv6         string            `json:"meshIpv6,omitempty"`
	ConnectPort      int               `json:"connectPort,omitempty"`
	PublicPort       int               `json:"publicPort,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ObservedEndpoint *ObservedEndpoint `json:"observedEndpoint,omitempty"`
	PublicEndpoint   *PublicEndpoint   `json:"publicEndpoint,omitempty"`
	NatHint          int               `json:"natHint,omitempty"`
	CreatedAt        int64             `json:"createdAt"`
	UpdatedAt        int64             `json:"updatedAt"`
	ExpiresAt        int64             `json:"expiresAt"`
}

// RegisterResult is returned by partition register operations.
type RegisterResult struct {
	TTL              int64
	ExpiresAt        int64
	ObservedEndpoint *ObservedEndpoint
}
