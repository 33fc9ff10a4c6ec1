package model

// CleanupCounts is the per-cycle expiry report a registry partition sends
// to the metrics partition.
type CleanupCounts struct {
	ExpiredColonies int `json:"expiredColonies"`
	ExpiredAgents   int `json:"expiredAgents"`
}

// CleanupSnapshot is the stored form of a cleanup report, keyed by the
// originating partition id.
type CleanupSnapshot struct {
	ExpiredColonies int   `json:"expiredColonies"`
	ExpiredAgents   int   `json:"expiredAgents"`
	UpdatedAt       int64 `json:"updatedAt"`
}
