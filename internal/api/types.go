package api

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	AddonsLoaded  int    `json:"addons_loaded"`
	Recording     bool   `json:"recording"`
}

// AddonSummary is one entry of GET /addons.
type AddonSummary struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}
