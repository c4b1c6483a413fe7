package conversion

import "time"

// Status is the terminal state of one sink delivery
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome is what a sink reports for one event
type Outcome struct {
	Sink     string        `json:"sink"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

func Delivered() Outcome { return Outcome{Status: StatusDelivered} }

func Failed(reason string) Outcome { return Outcome{Status: StatusFailed, Reason: reason} }

func Skipped(reason string) Outcome { return Outcome{Status: StatusSkipped, Reason: reason} }

// Lifecycle is the state of one event's dispatch
type Lifecycle string

const (
	Created    Lifecycle = "created"
	Dispatched Lifecycle = "dispatched"
	Settled    Lifecycle = "settled"
)

// Report is the per-sink outcome of one dispatch, ordered like the sink list
type Report struct {
	CorrelationID string    `json:"correlationId"`
	ExternalID    string    `json:"externalId,omitempty"`
	Event         Name      `json:"event"`
	State         Lifecycle `json:"state"`
	CreatedAt     time.Time `json:"createdAt"`
	DispatchedAt  time.Time `json:"dispatchedAt"`
	SettledAt     time.Time `json:"settledAt"`
	Outcomes      []Outcome `json:"outcomes"`
}

// Count returns how many outcomes have the given status.
func (r Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Outcome returns the outcome recorded for a sink name.
func (r Report) Outcome(sink string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Sink == sink {
			return o, true
		}
	}
	return Outcome{}, false
}

// Elapsed is the wall time from dispatch to settlement.
func (r Report) Elapsed() time.Duration {
	if r.SettledAt.IsZero() || r.DispatchedAt.IsZero() {
		return 0
	}
	return r.SettledAt.Sub(r.DispatchedAt)
}
