// Package outbox persists domain events in the same transaction as the state
// change that produced them and relays them to external sinks afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the appointment and prescription services.
const (
	AppointmentCreated        = "appointment.created"
	AppointmentDoctorAssigned = "appointment.doctor_assigned"
	AppointmentConfirmed      = "appointment.confirmed"
	AppointmentCancelled      = "appointment.cancelled"
	AppointmentCompleted      = "appointment.completed"
	AppointmentWithdrawn      = "appointment.withdrawn"
	PrescriptionIssued        = "prescription.issued"
)

type Event struct {
	ID            int64           `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	RetryCount    int             `json:"retry_count"`
	// DeliveredSinks names the sinks that already accepted the event.
	DeliveredSinks []string `json:"delivered_sinks,omitempty"`
}

// DeliveredTo reports whether sink already accepted e.
func (e Event) DeliveredTo(sink string) bool {
	for _, s := range e.DeliveredSinks {
		if s == sink {
			return true
		}
	}
	return false
}

// NewEvent marshals payload into an unsaved event.
func NewEvent(aggregateType, aggregateID, eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

// Writer appends events. Called with a transaction-bound context, the event
// commits or rolls back together with the caller's writes.
type Writer interface {
	Append(ctx context.Context, e Event) error
}

// Store is the relay's view of the outbox table. Claim leases a batch to one
// relay; MarkProcessed and MarkFailed release the lease. An expired lease
// makes the event claimable again.
type Store interface {
	Writer
	Claim(ctx context.Context, limit, maxRetries int, lease time.Duration) ([]Event, error)
	MarkSinkDelivered(ctx context.Context, id int64, sink string) error
	MarkProcessed(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}
