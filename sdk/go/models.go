package certgen

// GenerateRequest identifies the recipient of a certificate.
type GenerateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Result is returned for a delivered or queued certificate.
type Result struct {
	Msg   string `json:"msg"`
	JobID string `json:"jobId"`
	// Queued is true when the server accepted the job for asynchronous processing.
	Queued bool `json:"-"`
}

// Health is the server's health report.
type Health struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}
