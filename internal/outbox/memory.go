package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-memory outbox with the same claim and CAS
// semantics as the Postgres store. It backs single-process development
// mode and the relay tests.
type Memory struct {
	mu   sync.Mutex
	rows map[string]*Event
	seq  map[string]int
	next int
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]*Event), seq: make(map[string]int)}
}

// Append stores pending rows. The ctx and tx parameters of the Postgres
// store have no in-memory analogue; callers append after their own state
// change the same way the service appends inside its transaction.
func (m *Memory) Append(_ context.Context, evts []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range evts {
		cp := e
		cp.Status = StatusPending
		cp.Attempts = 0
		m.seq[cp.ID] = m.next
		m.next++
		m.rows[cp.ID] = &cp
	}
	return nil
}

// Claim leases pending rows FIFO. The single mutex makes each claim
// atomic, and the busy-aggregate exclusion keeps an aggregate with live
// leased rows off limits to other workers, so no worker can ever start an
// aggregate anywhere but its oldest pending row — the same invariant the
// Postgres store enforces by head-row locking.
func (m *Memory) Claim(_ context.Context, workerID string, limit int, lease time.Duration) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	expiry := now.Add(lease)

	// Aggregates held by another worker with a live lease are off limits.
	busy := make(map[string]bool)
	for _, r := range m.rows {
		if r.Status == StatusPending && r.ClaimedBy != "" && r.ClaimedBy != workerID &&
			r.ClaimExpiresAt != nil && r.ClaimExpiresAt.After(now) {
			busy[r.AggregateID] = true
		}
	}

	var candidates []*Event
	for _, r := range m.rows {
		if r.Status != StatusPending || busy[r.AggregateID] {
			continue
		}
		if r.ClaimedBy != "" && r.ClaimedBy != workerID &&
			r.ClaimExpiresAt != nil && r.ClaimExpiresAt.After(now) {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return m.seq[candidates[i].ID] < m.seq[candidates[j].ID]
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]Event, 0, len(candidates))
	for _, r := range candidates {
		r.ClaimedBy = workerID
		exp := expiry
		r.ClaimExpiresAt = &exp
		r.Attempts++
		out = append(out, *r)
	}
	return out, nil
}

func (m *Memory) MarkPublished(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, id := range ids {
		r, ok := m.rows[id]
		if !ok || r.Status != StatusPending {
			continue
		}
		r.Status = StatusPublished
		t := now
		r.PublishedAt = &t
		r.ClaimedBy = ""
		r.ClaimExpiresAt = nil
		n++
	}
	return n, nil
}

func (m *Memory) MarkFailed(_ context.Context, ids []string, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		r, ok := m.rows[id]
		if !ok || r.Status != StatusPending {
			continue
		}
		r.Status = StatusFailed
		r.LastError = reason
		r.ClaimedBy = ""
		r.ClaimExpiresAt = nil
		n++
	}
	return n, nil
}

func (m *Memory) RecordError(_ context.Context, ids []string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if r, ok := m.rows[id]; ok && r.Status == StatusPending {
			r.LastError = reason
		}
	}
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, r := range m.rows {
		switch r.Status {
		case StatusPending:
			st.Pending++
			if st.OldestPending == nil || r.CreatedAt.Before(*st.OldestPending) {
				t := r.CreatedAt
				st.OldestPending = &t
			}
		case StatusPublished:
			st.Published++
		case StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (m *Memory) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rows {
		if r.Status == StatusPublished && r.PublishedAt != nil && r.PublishedAt.Before(cutoff) {
			delete(m.rows, id)
			delete(m.seq, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of one row, for tests.
func (m *Memory) Get(id string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return Event{}, false
	}
	return *r, true
}

// ReleaseClaims drops workerID's leases without touching status, simulating
// a relay crash between claim and publish.
func (m *Memory) ReleaseClaims(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ClaimedBy == workerID {
			r.ClaimedBy = ""
			r.ClaimExpiresAt = nil
		}
	}
}
