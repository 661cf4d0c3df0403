package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"gopkg.in/gomail.v2"
)

// -- Test doubles --

type mockStore struct {
	mu        sync.Mutex
	events    []Event
	processed map[int64]bool
	failures  map[int64]string
}

func newMockStore(events ...Event) *mockStore {
	return &mockStore{events: events, processed: map[int64]bool{}, failures: map[int64]string{}}
}

func (m *mockStore) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, e)
	return nil
}

func (m *mockStore) Claim(_ context.Context, limit, maxRetries int, _ time.Duration) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if m.processed[e.ID] || e.RetryCount >= maxRetries {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) MarkSinkDelivered(_ context.Context, id int64, sink string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id && !m.events[i].DeliveredTo(sink) {
			m.events[i].DeliveredSinks = append(m.events[i].DeliveredSinks, sink)
		}
	}
	return nil
}

func (m *mockStore) MarkProcessed(_ context.Context, id int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	return nil
}

func (m *mockStore) MarkFailed(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = reason
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].RetryCount++
		}
	}
	return nil
}

type recordingSink struct {
	name  string
	fail  error
	calls int
	got   []Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, e Event) error {
	s.calls++
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, e)
	return nil
}

// blockingSink waits for its context, like a sink whose peer stopped
// answering.
type blockingSink struct{}

func (blockingSink) Name() string { return "slow" }

func (blockingSink) Deliver(ctx context.Context, _ Event) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

type fakeSender struct {
	sent  []*gomail.Message
	block chan struct{}
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.block != nil {
		<-f.block
		return nil
	}
	f.sent = append(f.sent, m...)
	return nil
}

func mustEvent(t *testing.T, eventType string, payload interface{}) Event {
	t.Helper()
	e, err := NewEvent("appointment", "a-1", eventType, payload)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return e
}

// -- Relay --

func TestRelay_DeliversToAllSinks(t *testing.T) {
	store := newMockStore()
	_ = store.Append(context.Background(), mustEvent(t, AppointmentCreated, map[string]string{"id": "a-1"}))
	_ = store.Append(context.Background(), mustEvent(t, AppointmentConfirmed, map[string]string{"id": "a-1"}))

	kafkaSink := &recordingSink{name: "kafka"}
	mailSink := &recordingSink{name: "mail"}
	relay := NewRelay(store, []Sink{kafkaSink, mailSink}, RelayOptions{}, zerolog.Nop())

	n, err := relay.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 delivered, got %d", n)
	}
	if len(kafkaSink.got) != 2 || len(mailSink.got) != 2 {
		t.Errorf("expected each sink to see 2 events, got %d and %d", len(kafkaSink.got), len(mailSink.got))
	}

	n, _ = relay.RunOnce(context.Background())
	if n != 0 {
		t.Errorf("expected processed events to be skipped, got %d", n)
	}
}

func TestRelay_FailureIncrementsRetryUntilParked(t *testing.T) {
	store := newMockStore()
	_ = store.Append(context.Background(), mustEvent(t, AppointmentCancelled, map[string]string{"id": "a-1"}))

	broken := &recordingSink{name: "kafka", fail: errors.New("broker down")}
	relay := NewRelay(store, []Sink{broken}, RelayOptions{MaxRetries: 2}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := relay.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	if store.events[0].RetryCount != 2 {
		t.Errorf("expected retry count to stop at 2, got %d", store.events[0].RetryCount)
	}
	if !strings.Contains(store.failures[1], "kafka: broker down") {
		t.Errorf("unexpected failure reason %q", store.failures[1])
	}
	if store.processed[1] {
		t.Error("failed event must not be marked processed")
	}
}

func TestRelay_RetriesOnlyFailedSinks(t *testing.T) {
	store := newMockStore()
	_ = store.Append(context.Background(), mustEvent(t, AppointmentConfirmed, map[string]string{"id": "a-1"}))

	kafkaSink := &recordingSink{name: "kafka"}
	mailSink := &recordingSink{name: "mail", fail: errors.New("smtp down")}
	relay := NewRelay(store, []Sink{kafkaSink, mailSink}, RelayOptions{MaxRetries: 5}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := relay.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	if len(kafkaSink.got) != 1 {
		t.Fatalf("kafka received the event %d times, want 1", len(kafkaSink.got))
	}
	if mailSink.calls != 3 {
		t.Errorf("expected 3 mail attempts, got %d", mailSink.calls)
	}
	if store.processed[1] {
		t.Fatal("event must stay pending while mail fails")
	}

	mailSink.fail = nil
	n, err := relay.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected the event to complete, got %d (%v)", n, err)
	}
	if len(kafkaSink.got) != 1 || len(mailSink.got) != 1 {
		t.Errorf("expected one delivery per sink, got kafka=%d mail=%d", len(kafkaSink.got), len(mailSink.got))
	}
	if !store.processed[1] {
		t.Error("expected event processed")
	}
}

func TestRelay_DeliveryTimeout(t *testing.T) {
	store := newMockStore()
	_ = store.Append(context.Background(), mustEvent(t, AppointmentCreated, map[string]string{"id": "a-1"}))
	relay := NewRelay(store, []Sink{blockingSink{}}, RelayOptions{DeliveryTimeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	if _, err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("delivery was not bounded by the timeout")
	}
	if !strings.Contains(store.failures[1], "deadline exceeded") {
		t.Errorf("expected deadline failure, got %q", store.failures[1])
	}
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	relay := NewRelay(newMockStore(), nil, RelayOptions{PollInterval: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

// -- Sinks --

func TestKafkaSink_KeysByAggregate(t *testing.T) {
	w := &fakeKafkaWriter{}
	sink := &KafkaSink{writer: w, topic: "hospital.events"}

	e := mustEvent(t, AppointmentCompleted, map[string]string{"id": "a-1"})
	e.ID = 7
	if err := sink.Deliver(context.Background(), e); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "appointment-a-1" {
		t.Errorf("unexpected key %q", msg.Key)
	}
	if string(msg.Value) != `{"id":"a-1"}` {
		t.Errorf("unexpected value %s", msg.Value)
	}
	if len(msg.Headers) == 0 || string(msg.Headers[0].Value) != AppointmentCompleted {
		t.Errorf("expected event_type header, got %+v", msg.Headers)
	}
}

func TestKafkaSink_WrapsWriterError(t *testing.T) {
	sink := &KafkaSink{writer: &fakeKafkaWriter{err: errors.New("timeout")}, topic: "t"}
	err := sink.Deliver(context.Background(), mustEvent(t, AppointmentCreated, nil))
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected wrapped writer error, got %v", err)
	}
}

func TestMailSink_HonoursContext(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	defer close(sender.block)
	sink := &MailSink{sender: sender, from: "noreply@hospital.test"}
	payload := map[string]interface{}{
		"id":      "a-1",
		"patient": map[string]string{"full_name": "Jane Doe", "email": "jane@example.com"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sink.Deliver(ctx, mustEvent(t, AppointmentConfirmed, payload))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMailSink(t *testing.T) {
	payload := map[string]interface{}{
		"id":          "a-1",
		"status_name": "Confirmed",
		"patient":     map[string]string{"full_name": "Jane Doe", "email": "jane@example.com"},
	}

	tests := []struct {
		name      string
		eventType string
		payload   interface{}
		wantSent  int
	}{
		{"confirmed notifies patient", AppointmentConfirmed, payload, 1},
		{"created is not mailed", AppointmentCreated, payload, 0},
		{"no email is skipped", AppointmentCancelled, map[string]string{"id": "a-1"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			sink := &MailSink{sender: sender, from: "noreply@hospital.test"}
			if err := sink.Deliver(context.Background(), mustEvent(t, tt.eventType, tt.payload)); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if len(sender.sent) != tt.wantSent {
				t.Fatalf("expected %d mails, got %d", tt.wantSent, len(sender.sent))
			}
			if tt.wantSent == 1 {
				if to := sender.sent[0].GetHeader("To"); len(to) != 1 || to[0] != "jane@example.com" {
					t.Errorf("unexpected recipient %v", to)
				}
			}
		})
	}
}
