package appointment

import (
	"fmt"

	"github.com/hospitalops/hospital/internal/platform/apperr"
)

// Status is persisted as a small integer.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusCompleted
	StatusCancelled
)

var statusNames = [...]string{"Pending", "Confirmed", "Completed", "Cancelled"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) Valid() bool { return s >= StatusPending && s <= StatusCancelled }

// Terminal statuses accept no trigger.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// ParseStatus accepts a status name (case-sensitive) or its numeric value.
func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if v == name || v == fmt.Sprint(i) {
			return Status(i), nil
		}
	}
	return 0, apperr.Validation("unknown status %q", v)
}

type Trigger string

const (
	TriggerConfirm  Trigger = "Confirm"
	TriggerCancel   Trigger = "Cancel"
	TriggerComplete Trigger = "Complete"
)

var allTriggers = []Trigger{TriggerConfirm, TriggerCancel, TriggerComplete}

type edge struct {
	from    Status
	trigger Trigger
}

// transitions is the complete table; any pair not listed is rejected.
var transitions = map[edge]Status{
	{StatusPending, TriggerConfirm}:    StatusConfirmed,
	{StatusPending, TriggerCancel}:     StatusCancelled,
	{StatusConfirmed, TriggerComplete}: StatusCompleted,
	{StatusConfirmed, TriggerCancel}:   StatusCancelled,
}

func CanFire(s Status, t Trigger) bool {
	_, ok := transitions[edge{s, t}]
	return ok
}

// Fire returns the status reached by t from s, or an InvalidTransition error.
func Fire(s Status, t Trigger) (Status, error) {
	next, ok := transitions[edge{s, t}]
	if !ok {
		return s, apperr.InvalidTransition("cannot %s an appointment that is %s%s", t, s, hint(s, t))
	}
	return next, nil
}

func hint(s Status, t Trigger) string {
	switch {
	case s.Terminal():
		return " (already terminal)"
	case s == StatusPending && t == TriggerComplete:
		return " (must be confirmed first)"
	}
	return ""
}

// PermittedTriggers lists the triggers s accepts, in a stable order.
func PermittedTriggers(s Status) []Trigger {
	out := []Trigger{}
	for _, t := range allTriggers {
		if CanFire(s, t) {
			out = append(out, t)
		}
	}
	return out
}
