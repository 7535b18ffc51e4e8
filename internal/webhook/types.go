package webhook

import "time"

// Endpoint is a webhook subscription. The signing secret is stored so the
// worker can compute HMAC signatures; it is shown to the caller once at
// creation and never returned by the API again. SecretHash is the SHA-256
// fingerprint used for display and audit.
type Endpoint struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id,omitempty"`
	URL           string     `json:"url"`
	Secret        string     `json:"-"`
	SecretHash    string     `json:"secret_hash"`
	Active        bool       `json:"active"`
	Events        []string   `json:"events"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Subscribed reports whether the endpoint wants events of the given type.
// An empty list or a "*" entry subscribes to everything.
func (e *Endpoint) Subscribed(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, t := range e.Events {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

// AttemptStatus is the delivery state of one scheduled HTTP call.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptDelivered AttemptStatus = "delivered"
	AttemptFailed    AttemptStatus = "failed"
	AttemptGaveUp    AttemptStatus = "gave_up"
)

// DeliveryAttempt is one row per HTTP call made (or scheduled) to push an
// event to an endpoint. Rows are an append-only audit trail; a failed
// attempt schedules its successor as a new pending row rather than being
// edited retroactively.
type DeliveryAttempt struct {
	ID             int64         `json:"id"`
	EventID        string        `json:"event_id"`
	EndpointID     string        `json:"endpoint_id"`
	AttemptNumber  int           `json:"attempt_number"`
	Status         AttemptStatus `json:"status"`
	ResponseStatus int           `json:"response_status,omitempty"`
	ResponseBody   string        `json:"response_body,omitempty"`
	Error          string        `json:"error,omitempty"`
	LatencyMS      int64         `json:"latency_ms"`
	NextAttemptAt  time.Time     `json:"next_attempt_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
