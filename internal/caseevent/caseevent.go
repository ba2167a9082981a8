// Package caseevent defines the inbound case event payload and its
// boundary validation. Both the synchronous webhook path and the queued
// worker path decode through the same functions so they cannot drift.
package caseevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPayload marks a payload that failed schema validation.
// Callers must not retry these; the payload will never become valid.
var ErrInvalidPayload = errors.New("invalid case payload")

// Payload is the case snapshot delivered by the ticketing system webhook.
type Payload struct {
	CaseNumber       string `json:"case_number" validate:"required"`
	CaseSysID        string `json:"case_sys_id" validate:"required"`
	AssignmentGroup  string `json:"assignment_group"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	Priority         string `json:"priority"`
	State            string `json:"state"`
	ShortDescription string `json:"short_description" validate:"required"`
	Description      string `json:"description"`
	Company          string `json:"company"`
	AccountID        string `json:"account_id"`

	// ReceivedAt is stamped at decode time, not taken from the sender.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// envelope is the wrapped shape some queue producers deliver: the original
// webhook body nested under "body".
type envelope struct {
	Body json.RawMessage `json:"body"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses b as either a bare Payload or a {"body": {...}} envelope,
// validates it, and stamps ReceivedAt. Schema failures wrap
// ErrInvalidPayload so callers can distinguish them from transient errors.
func Decode(b []byte) (*Payload, error) {
	raw := b

	var env envelope
	if err := json.Unmarshal(b, &env); err == nil && len(env.Body) > 0 {
		raw = env.Body
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	p.ReceivedAt = time.Now().UTC()
	return &p, nil
}
