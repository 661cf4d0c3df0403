package outbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospitalops/hospital/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) Append(ctx context.Context, e Event) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO outbox_event (aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		e.AggregateType, e.AggregateID, e.EventType, []byte(e.Payload))
	if err != nil {
		return fmt.Errorf("append outbox event %s: %w", e.EventType, err)
	}
	return nil
}

// Claim leases a batch of undelivered events in one statement. SKIP LOCKED
// and the lease let several relays share the table; delivery then happens
// outside any transaction.
func (s *storePG) Claim(ctx context.Context, limit, maxRetries int, lease time.Duration) ([]Event, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		UPDATE outbox_event SET claimed_until = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE id IN (
			SELECT id FROM outbox_event
			WHERE processed_at IS NULL AND retry_count < $1
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload,
		          created_at, processed_at, error_message, retry_count, delivered_sinks`,
		maxRetries, limit, lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload,
			&e.CreatedAt, &e.ProcessedAt, &e.ErrorMessage, &e.RetryCount, &e.DeliveredSinks); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery's order.
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (s *storePG) MarkSinkDelivered(ctx context.Context, id int64, sink string) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE outbox_event SET delivered_sinks = array_append(delivered_sinks, $2)
		WHERE id = $1 AND NOT ($2 = ANY(delivered_sinks))`, id, sink)
	if err != nil {
		return fmt.Errorf("mark outbox event %d delivered to %s: %w", id, sink, err)
	}
	return nil
}

func (s *storePG) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE outbox_event SET processed_at = $2, error_message = NULL, claimed_until = NULL
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox event %d processed: %w", id, err)
	}
	return nil
}

func (s *storePG) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE outbox_event SET error_message = $2, retry_count = retry_count + 1, claimed_until = NULL
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox event %d failed: %w", id, err)
	}
	return nil
}
