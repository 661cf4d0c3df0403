package appointment

import (
	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/apperr"
)

type Action string

const (
	ActionCreate       Action = "create"
	ActionConfirm      Action = "confirm"
	ActionCancel       Action = "cancel"
	ActionComplete     Action = "complete"
	ActionAssignDoctor Action = "assign doctor"
	ActionDelete       Action = "delete"
	ActionView         Action = "view"
)

// Authorize decides whether actor may perform action on a. For ActionCreate,
// a is the appointment about to be created.
//
// Customers act only on their own patient's appointments and never advance
// clinical state. Doctors act only on appointments bound to them; an
// unassigned appointment is never bound implicitly. Managers assign, view and
// cancel anything but never confirm or complete.
func Authorize(actor identity.Actor, a *Appointment, action Action) error {
	switch actor.Role {
	case identity.RoleCustomer:
		switch action {
		case ActionCreate, ActionCancel, ActionDelete, ActionView:
			if actor.OwnsPatient(a.PatientID) {
				return nil
			}
			return apperr.Forbidden("appointment %s does not belong to this patient", a.ID)
		}

	case identity.RoleDoctor:
		switch action {
		case ActionConfirm, ActionComplete, ActionCancel, ActionView:
			if actor.IsDoctorOf(a.DoctorID) {
				return nil
			}
			if a.DoctorID == nil {
				return apperr.Forbidden("appointment %s has no doctor assigned", a.ID)
			}
			return apperr.Forbidden("appointment %s is assigned to another doctor", a.ID)
		}

	case identity.RoleManager:
		switch action {
		case ActionAssignDoctor, ActionView, ActionCancel:
			return nil
		}
	}
	return apperr.Forbidden("role %q may not %s appointments", actor.Role, action)
}
