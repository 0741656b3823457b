// Package sweeper runs the periodic expiry of unpaid reservations.
package sweeper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation/internal/clock"
	"github.com/iliyamo/ticket-reservation/internal/logging"
	"github.com/iliyamo/ticket-reservation/internal/metrics"
)

const (
	DefaultInterval  = 60 * time.Second
	DefaultBatchSize = 100

	tracerName = "expiry-sweeper"
)

// Source lists pending reservations whose deadline is at or before now,
// in ascending id order starting after afterID.
type Source interface {
	ListExpiredPending(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error)
}

// Expirer drives one reservation to EXPIRED.  It must report false
// without error for a reservation that is no longer pending or not due.
type Expirer interface {
	ExpireReservation(ctx context.Context, reservationID uint64) (bool, error)
}

// Result counts the outcome of one sweep.
type Result struct {
	Expired int
	Skipped int
	Failed  int
}

// Sweeper periodically expires overdue reservations.  Every decision is
// re-checked by the Expirer under the reservation lock, so overlapping
// sweeps and concurrent confirms or cancels are safe.
type Sweeper struct {
	source    Source
	expirer   Expirer
	clock     clock.Clock
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
	tracer    trace.Tracer
}

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithClock(c clock.Clock) Option { return func(s *Sweeper) { s.clock = c } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracerProvider takes spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Sweeper) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(source Source, expirer Expirer, opts ...Option) *Sweeper {
	s := &Sweeper{
		source:    source,
		expirer:   expirer,
		clock:     clock.Real(),
		logger:    zap.NewNop(),
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	logging.Info(ctx, s.logger, "expiry sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			logging.Error(ctx, s.logger, "expiry sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logging.Info(context.WithoutCancel(ctx), s.logger, "expiry sweeper stopping")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce expires every overdue reservation visible at the current
// time.  Pages are walked with an id cursor, so a failure on one
// reservation is logged and counted without hiding the rows after it;
// the failed one is retried on the next sweep.  The returned error is
// only set when listing fails.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "Sweeper.SweepOnce")
	defer span.End()

	start := time.Now()
	now := s.clock.Now()
	var res Result
	defer func() {
		metrics.SweepCompleted(time.Since(start), res.Expired, res.Failed)
		span.SetAttributes(
			attribute.Int("expired", res.Expired),
			attribute.Int("failed", res.Failed),
		)
	}()

	var cursor uint64
	for {
		ids, err := s.source.ListExpiredPending(ctx, now, cursor, s.batchSize)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			cursor = id
			changed, err := s.expirer.ExpireReservation(ctx, id)
			switch {
			case err != nil:
				res.Failed++
				logging.Warn(ctx, s.logger, "reservation expiry failed, retrying next sweep",
					zap.Uint64("reservation_id", id), zap.Error(err))
			case changed:
				res.Expired++
			default:
				res.Skipped++
			}
		}
		if len(ids) < s.batchSize {
			break
		}
	}

	if res.Expired > 0 || res.Failed > 0 {
		logging.Info(ctx, s.logger, "expiry sweep finished",
			zap.Int("expired", res.Expired),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed))
	}
	return res, nil
}
