package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// MailSink notifies the patient of appointment and prescription changes.
// Events without a patient email in their payload are skipped.
type MailSink struct {
	sender mailSender
	from   string
}

func NewMailSink(cfg MailConfig) *MailSink {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &MailSink{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   from,
	}
}

func (m *MailSink) Name() string { return "mail" }

// notification is the subset of an event payload the mail sink reads.
type notification struct {
	ID          string `json:"id"`
	StatusName  string `json:"status_name"`
	ScheduledAt string `json:"scheduled_at"`
	Patient     *struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
	} `json:"patient"`
	Doctor *struct {
		FullName string `json:"full_name"`
	} `json:"doctor"`
}

var subjects = map[string]string{
	AppointmentConfirmed:      "Your appointment is confirmed",
	AppointmentCancelled:      "Your appointment was cancelled",
	AppointmentCompleted:      "Your appointment is complete",
	AppointmentDoctorAssigned: "A doctor was assigned to your appointment",
	PrescriptionIssued:        "Your prescription is ready",
}

func (m *MailSink) Deliver(ctx context.Context, e Event) error {
	subject, ok := subjects[e.EventType]
	if !ok {
		return nil
	}
	var n notification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	if n.Patient == nil || n.Patient.Email == "" {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", n.Patient.Email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", renderBody(e.EventType, n))

	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", n.Patient.Email, err)
	}
	return nil
}

// send runs the SMTP exchange until ctx ends. gomail takes no context, so an
// abandoned exchange finishes in the background and its result is dropped.
func (m *MailSink) send(ctx context.Context, msg *gomail.Message) error {
	done := make(chan error, 1)
	go func() { done <- m.sender.DialAndSend(msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func renderBody(eventType string, n notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", n.Patient.FullName)
	switch eventType {
	case PrescriptionIssued:
		b.WriteString("Your doctor has issued a prescription for your appointment.\n")
	default:
		fmt.Fprintf(&b, "Appointment %s is now %s.\n", n.ID, n.StatusName)
	}
	if n.ScheduledAt != "" {
		fmt.Fprintf(&b, "Scheduled for: %s\n", n.ScheduledAt)
	}
	if n.Doctor != nil && n.Doctor.FullName != "" {
		fmt.Fprintf(&b, "Doctor: %s\n", n.Doctor.FullName)
	}
	return b.String()
}
