package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sink delivers an event to an external system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

type RelayOptions struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	// DeliveryTimeout bounds a single hand-off to one sink.
	DeliveryTimeout time.Duration
}

// Relay polls the outbox and hands each pending event to every sink. Each
// sink's acceptance is recorded, so a retry only goes to the sinks that
// failed. An event is marked processed once all sinks have accepted it;
// otherwise its retry count grows until MaxRetries parks it.
type Relay struct {
	store  Store
	sinks  []Sink
	opts   RelayOptions
	lease  time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewRelay(store Store, sinks []Sink, opts RelayOptions, logger zerolog.Logger) *Relay {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	// The lease outlives the slowest possible pass over a batch, so no other
	// relay claims an event this one is still working on.
	lease := opts.DeliveryTimeout * time.Duration(opts.BatchSize*max(len(sinks), 1))
	return &Relay{
		store:  store,
		sinks:  sinks,
		opts:   opts,
		lease:  lease + time.Minute,
		logger: logger.With().Str("component", "outbox-relay").Logger(),
		now:    time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.opts.PollInterval).Int("sinks", len(r.sinks)).Msg("outbox relay started")

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopping")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error().Err(err).Msg("outbox batch failed")
			}
		}
	}
}

// RunOnce claims and processes a single batch and returns how many events
// were fully delivered. No transaction is held while sinks are called.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.Claim(ctx, r.opts.BatchSize, r.opts.MaxRetries, r.lease)
	if err != nil {
		return 0, fmt.Errorf("relay outbox batch: %w", err)
	}

	delivered := 0
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		derr := r.deliver(ctx, e)
		if derr != nil {
			r.logger.Warn().Err(derr).
				Int64("event_id", e.ID).
				Str("event_type", e.EventType).
				Int("retry_count", e.RetryCount+1).
				Msg("outbox delivery failed")
			if err := r.store.MarkFailed(ctx, e.ID, derr.Error()); err != nil {
				return delivered, fmt.Errorf("relay outbox batch: %w", err)
			}
			continue
		}
		if err := r.store.MarkProcessed(ctx, e.ID, r.now()); err != nil {
			return delivered, fmt.Errorf("relay outbox batch: %w", err)
		}
		delivered++
	}
	if delivered > 0 {
		r.logger.Debug().Int("delivered", delivered).Msg("outbox batch relayed")
	}
	return delivered, nil
}

// deliver hands e to every sink that has not accepted it yet.
func (r *Relay) deliver(ctx context.Context, e Event) error {
	var failures []string
	for _, s := range r.sinks {
		if e.DeliveredTo(s.Name()) {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, r.opts.DeliveryTimeout)
		err := s.Deliver(dctx, e)
		cancel()
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		if err := r.store.MarkSinkDelivered(ctx, e.ID, s.Name()); err != nil {
			failures = append(failures, fmt.Sprintf("%s: record delivery: %v", s.Name(), err))
		}
	}
	if len(failures) > 0 {
		return errors.New(strings.Join(failures, "; "))
	}
	return nil
}
