package record

import (
	"time"

	"github.com/google/uuid"
)

// Trace is the correlation envelope carried through every invocation.
// ProviderID is empty until the pipeline binds a provider to the
// attempt.
type Trace struct {
	RequestID  string    `json:"requestId"`
	SessionID  string    `json:"sessionId,omitempty"`
	TargetID   string    `json:"targetId,omitempty"`
	ProviderID string    `json:"providerId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewTrace creates a Trace with a fresh request id. sessionID/targetID
// may be empty.
func NewTrace(sessionID, targetID string) Trace {
	return Trace{
		RequestID: uuid.NewString(),
		SessionID: sessionID,
		TargetID:  targetID,
		Timestamp: time.Now().UTC(),
	}
}

// WithProvider returns a copy of t bound to providerID.
func (t Trace) WithProvider(providerID string) Trace {
	t.ProviderID = providerID
	return t
}
