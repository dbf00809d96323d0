package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres outbox. Append runs on a caller-owned transaction;
// everything else runs on the pool. Only the trading service inserts rows
// and only the relay mutates their status.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts pending rows inside an already-open transaction shared
// with the domain write. It never opens its own transaction; the atomicity
// of trade mutation plus outbox insert is the load-bearing guarantee here.
func (s *Store) Append(ctx context.Context, tx pgx.Tx, evts []Event) error {
	for _, e := range evts {
		_, err := tx.Exec(ctx,
			"insert into outbox_events (id, aggregate_id, event_type, topic, payload, status, attempts, created_at) values ($1,$2,$3,$4,$5,$6,$7,$8)",
			e.ID, e.AggregateID, e.EventType, e.Topic, e.Payload, string(StatusPending), 0, e.CreatedAt.UTC())
		if err != nil {
			return err
		}
	}
	return nil
}

// Claim leases pending rows to workerID, whole aggregates at a time. The
// lease guards against duplicated work, not duplicated delivery; each
// claim counts as one delivery attempt.
//
// Invariant: a worker may only start an aggregate at its oldest pending
// row. The head CTE selects and row-locks exactly that row per claimable
// aggregate, so a concurrent claimer whose SKIP LOCKED skips a locked
// head skips the whole aggregate — it can never lease a newer sibling
// while the older one is being claimed, which would let it publish out of
// creation order. The limit bounds aggregates, not rows: every pending
// row of a claimed aggregate is leased together.
func (s *Store) Claim(ctx context.Context, workerID string, limit int, lease time.Duration) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	now := time.Now().UTC()
	expiry := now.Add(lease)
	rows, err := s.pool.Query(ctx, `
		with head as (
			select e.id, e.aggregate_id from outbox_events e
			where e.status = 'pending'
			  and (e.claimed_by is null or e.claimed_by = $1 or e.claim_expires_at <= $2)
			  and not exists (
				select 1 from outbox_events older
				where older.aggregate_id = e.aggregate_id
				  and older.status = 'pending'
				  and (older.created_at, older.id) < (e.created_at, e.id)
			  )
			  and not exists (
				select 1 from outbox_events x
				where x.aggregate_id = e.aggregate_id
				  and x.status = 'pending'
				  and x.claimed_by is not null
				  and x.claimed_by <> $1
				  and x.claim_expires_at > $2
			  )
			order by e.created_at asc, e.id asc
			limit $3
			for update skip locked
		)
		update outbox_events o
		set claimed_by = $1, claim_expires_at = $4, attempts = o.attempts + 1
		from head h
		where o.aggregate_id = h.aggregate_id
		  and o.status = 'pending'
		  and (o.claimed_by is null or o.claimed_by = $1 or o.claim_expires_at <= $2)
		returning o.id, o.aggregate_id, o.event_type, o.topic, o.payload, o.status, o.attempts, coalesce(o.last_error, ''), o.created_at, o.published_at
	`, workerID, now, limit, expiry)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var status string
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Topic, &e.Payload, &status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.ClaimedBy = workerID
		e.ClaimExpiresAt = &expiry
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished flips rows to PUBLISHED, guarded by status = PENDING so a
// restarted relay re-marking already-handled rows is a no-op. Returns the
// number of rows actually transitioned.
func (s *Store) MarkPublished(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		"update outbox_events set status = 'published', published_at = $1, claimed_by = null, claim_expires_at = null where id = any($2) and status = 'pending'",
		time.Now().UTC(), ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkFailed flips rows to FAILED after the retry budget is exhausted.
// FAILED rows require operator intervention and are never deleted.
func (s *Store) MarkFailed(ctx context.Context, ids []string, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		"update outbox_events set status = 'failed', last_error = $1, claimed_by = null, claim_expires_at = null where id = any($2) and status = 'pending'",
		reason, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RecordError stores the last publish error on still-pending rows without
// changing their status, so stuck rows stay diagnosable.
func (s *Store) RecordError(ctx context.Context, ids []string, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		"update outbox_events set last_error = $1 where id = any($2) and status = 'pending'", reason, ids)
	return err
}

// PendingByAggregate returns the PENDING rows of one aggregate in creation
// order. Used by monitoring endpoints.
func (s *Store) PendingByAggregate(ctx context.Context, aggregateID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		"select id, aggregate_id, event_type, topic, payload, status, attempts, coalesce(last_error, ''), created_at, published_at from outbox_events where aggregate_id = $1 and status = 'pending' order by created_at asc, id asc",
		aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var status string
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Topic, &e.Payload, &status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats reports backlog depth and the oldest pending row's creation time.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		select
			count(*) filter (where status = 'pending'),
			count(*) filter (where status = 'published'),
			count(*) filter (where status = 'failed'),
			min(created_at) filter (where status = 'pending')
		from outbox_events
	`).Scan(&st.Pending, &st.Published, &st.Failed, &st.OldestPending)
	return st, err
}

// DeletePublishedBefore removes PUBLISHED rows older than cutoff. PENDING
// and FAILED rows are never retention-swept.
func (s *Store) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"delete from outbox_events where status = 'published' and published_at < $1", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
