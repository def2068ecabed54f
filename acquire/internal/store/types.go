package store

// Run statuses.
const (
	StatusRunning    = "running"
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID           string   `json:"id"`
	Trigger      string   `json:"trigger"`
	Status       string   `json:"status"`
	DeviceSource string   `json:"device_source,omitempty"`
	Failures     []string `json:"failures"`
	ErrorMessage string   `json:"error_message,omitempty"`
	StartedAt    int64    `json:"started_at"`
	FinishedAt   int64    `json:"finished_at,omitempty"`
}

// FetchLogEntry records how one resource was acquired.
type FetchLogEntry struct {
	ID           string `json:"id"`
	RunID        string `json:"run_id"`
	Resource     string `json:"resource"`
	Source       string `json:"source"`
	URL          string `json:"url,omitempty"`
	StatusCode   int    `json:"status_code,omitempty"`
	ErrorClass   string `json:"error_class,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	FetchedAt    int64  `json:"fetched_at"`
}
