package models

// Health is the liveness or readiness state of the service.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Checks  []Check        `json:"checks,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Check is the state of one dependency.
type Check struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}
