package prescription

import (
	"github.com/hospitalops/hospital/internal/domain/appointment"
	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/apperr"
)

// CanPrescribe reports whether a prescription may be attached to a: the
// visit is Completed and none exists yet.
func CanPrescribe(a *appointment.Appointment, hasPrescription bool) bool {
	return a.Status == appointment.StatusCompleted && !hasPrescription
}

// Check applies CanPrescribe for a specific issuer, who must be the doctor
// bound to the appointment.
func Check(actor identity.Actor, a *appointment.Appointment, hasPrescription bool) error {
	if !actor.IsDoctorOf(a.DoctorID) {
		return apperr.Forbidden("only the doctor assigned to appointment %s can prescribe", a.ID)
	}
	if a.Status != appointment.StatusCompleted {
		return apperr.InvalidTransition("appointment %s is %s, prescriptions need a Completed visit", a.ID, a.Status)
	}
	if hasPrescription {
		return apperr.Conflict("appointment %s already has a prescription", a.ID)
	}
	return nil
}
