// Package relay moves pending outbox rows to the event bus. It is the only
// component that transitions outbox rows out of PENDING; delivery is
// at-least-once and the relay never invents, reorders, or drops events
// within an aggregate.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"tradecore/internal/eventbus"
	"tradecore/internal/obs"
	"tradecore/internal/outbox"
)

// State is the relay's externally observable phase.
type State string

const (
	StateIdle          State = "idle"
	StatePolling       State = "polling"
	StatePublishing    State = "publishing"
	StateAcknowledging State = "acknowledging"
)

// Store is the slice of the outbox the relay needs. Satisfied by both the
// Postgres and the in-memory implementations.
type Store interface {
	Claim(ctx context.Context, workerID string, limit int, lease time.Duration) ([]outbox.Event, error)
	MarkPublished(ctx context.Context, ids []string) (int64, error)
	MarkFailed(ctx context.Context, ids []string, reason string) (int64, error)
	RecordError(ctx context.Context, ids []string, reason string) error
	Stats(ctx context.Context) (outbox.Stats, error)
}

type Config struct {
	WorkerID     string
	PollInterval time.Duration
	BatchSize    int
	ClaimLease   time.Duration
	// MaxAttempts is the delivery budget per row. A row claimed more times
	// than this without an acknowledged publish is parked as FAILED.
	MaxAttempts int
	// StaleAfter is how old the oldest PENDING row may grow before the
	// relay raises a staleness alert.
	StaleAfter time.Duration
	// DrainTimeout bounds the final cycle during shutdown.
	DrainTimeout time.Duration
}

func (c *Config) fill() {
	if c.WorkerID == "" {
		c.WorkerID = "relay-1"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

type Relay struct {
	cfg     Config
	store   Store
	bus     eventbus.Publisher
	log     zerolog.Logger
	metrics *obs.Metrics

	state atomic.Value // State
	// staleAlerted keeps the staleness alert edge-triggered: raised once
	// when the threshold is crossed, re-armed only after recovery.
	staleAlerted bool
}

func New(cfg Config, store Store, bus eventbus.Publisher, log zerolog.Logger, metrics *obs.Metrics) *Relay {
	cfg.fill()
	r := &Relay{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		log:     log.With().Str("component", "relay").Str("worker_id", cfg.WorkerID).Logger(),
		metrics: metrics,
	}
	r.state.Store(StateIdle)
	return r
}

// State returns the current phase, for health reporting.
func (r *Relay) State() State {
	return r.state.Load().(State)
}

func (r *Relay) setState(s State) {
	r.state.Store(s)
}

// Run polls until ctx is cancelled. On cancellation it drains: the current
// batch, if any, is published and acknowledged under DrainTimeout before
// Run returns. No events are lost by stopping; unpublished rows stay
// PENDING for the next start.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Int("max_attempts", r.cfg.MaxAttempts).
		Msg("relay started")

	bo := r.newBackoff()
	wait := time.Duration(0)

	for {
		if wait > 0 {
			r.setState(StateIdle)
			select {
			case <-ctx.Done():
				return r.drain()
			case <-time.After(wait):
			}
		} else if err := ctx.Err(); err != nil {
			return r.drain()
		}

		published, err := r.cycle(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return r.drain()
		case err != nil:
			wait = bo.NextBackOff()
			r.metrics.IncPublishFailure()
			r.log.Warn().Err(err).Dur("backoff", wait).Msg("cycle failed, backing off")
		case published == 0:
			bo.Reset()
			wait = r.cfg.PollInterval
		default:
			// Keep draining a deep backlog without sleeping between batches.
			bo.Reset()
			wait = 0
		}
	}
}

func (r *Relay) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// drain runs one final bounded cycle so claimed-but-unpublished rows get a
// chance to go out before the process exits.
func (r *Relay) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()
	if _, err := r.cycle(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		r.log.Warn().Err(err).Msg("drain cycle failed, pending rows remain for next start")
	}
	r.setState(StateIdle)
	r.log.Info().Msg("relay stopped")
	return nil
}

// cycle runs one poll→publish→acknowledge pass and returns how many events
// it acknowledged. A bus error aborts the pass with every row still
// PENDING: acknowledging before the bus accepted would risk losing events,
// re-publishing after a crash only risks duplicates, which downstream
// deduplicates.
func (r *Relay) cycle(ctx context.Context) (int, error) {
	r.setState(StatePolling)
	batch, err := r.store.Claim(ctx, r.cfg.WorkerID, r.cfg.BatchSize, r.cfg.ClaimLease)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	if len(batch) == 0 {
		r.checkStaleness(ctx)
		return 0, nil
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})

	// Park rows whose delivery budget ran out before this claim.
	var exhausted []string
	live := batch[:0]
	for _, e := range batch {
		if e.Attempts > r.cfg.MaxAttempts {
			exhausted = append(exhausted, e.ID)
			continue
		}
		live = append(live, e)
	}
	if len(exhausted) > 0 {
		reason := fmt.Sprintf("delivery budget of %d attempts exhausted", r.cfg.MaxAttempts)
		n, err := r.store.MarkFailed(ctx, exhausted, reason)
		if err != nil {
			return 0, fmt.Errorf("mark failed: %w", err)
		}
		r.metrics.AddEventsFailed(int(n))
		r.log.Error().Int64("events", n).Msg("events parked as failed, operator intervention required")
	}

	r.setState(StatePublishing)
	published := make([]string, 0, len(live))
	for _, e := range live {
		start := time.Now()
		err := r.bus.Publish(ctx, eventbus.Message{
			Topic: e.Topic,
			Key:   e.AggregateID,
			Value: e.Payload,
		})
		r.metrics.ObservePublish(time.Since(start))
		if err != nil {
			// Remaining rows stay PENDING untouched; nothing after a
			// failed publish goes out, preserving per-aggregate order.
			if rerr := r.store.RecordError(ctx, []string{e.ID}, err.Error()); rerr != nil {
				r.log.Warn().Err(rerr).Msg("recording publish error failed")
			}
			if len(published) > 0 {
				if _, aerr := r.store.MarkPublished(ctx, published); aerr != nil {
					return 0, fmt.Errorf("acknowledge partial batch: %w", aerr)
				}
				r.metrics.AddEventsPublished(len(published))
			}
			return len(published), fmt.Errorf("publish %s: %w", e.ID, err)
		}
		published = append(published, e.ID)
	}

	r.setState(StateAcknowledging)
	n, err := r.store.MarkPublished(ctx, published)
	if err != nil {
		// The bus has the events; rows left PENDING will be re-published
		// and deduplicated downstream.
		return 0, fmt.Errorf("acknowledge: %w", err)
	}
	r.metrics.AddEventsPublished(len(published))
	r.log.Debug().Int64("acknowledged", n).Int("published", len(published)).Msg("batch delivered")

	r.checkStaleness(ctx)
	return len(published), nil
}

// checkStaleness raises one alert per threshold crossing when the oldest
// PENDING row is older than StaleAfter, and re-arms after recovery.
func (r *Relay) checkStaleness(ctx context.Context) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("outbox stats unavailable")
		return
	}
	stale := st.OldestPending != nil && time.Since(*st.OldestPending) > r.cfg.StaleAfter
	switch {
	case stale && !r.staleAlerted:
		r.staleAlerted = true
		r.metrics.IncStalenessAlert()
		r.log.Error().
			Time("oldest_pending", *st.OldestPending).
			Int64("pending", st.Pending).
			Dur("threshold", r.cfg.StaleAfter).
			Msg("outbox backlog is stale")
	case !stale && r.staleAlerted:
		r.staleAlerted = false
		r.log.Info().Int64("pending", st.Pending).Msg("outbox backlog recovered")
	}
}
