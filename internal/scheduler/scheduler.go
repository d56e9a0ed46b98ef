// Package scheduler drives a handler at a fixed interval until its context
// is cancelled.
package scheduler

import (
	"context"
	"time"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/logger"
)

const DefaultWarmup = 500 * time.Millisecond

// Handler is invoked once per tick. A returned error is logged and the loop
// continues.
type Handler func(ctx context.Context) error

type Option func(*Scheduler)

// WithWarmup sets the one-time delay between priming and the first tick.
func WithWarmup(d time.Duration) Option {
	return func(s *Scheduler) {
		s.warmup = d
	}
}

// WithPrime runs fn once before the warm-up delay. Rate-based counters need
// a first reading to diff against.
func WithPrime(fn Handler) Option {
	return func(s *Scheduler) {
		s.prime = fn
	}
}

// WithLogger replaces the component logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

type Scheduler struct {
	interval time.Duration
	warmup   time.Duration
	handler  Handler
	prime    Handler
	log      logger.Logger
	ticks    uint64
}

func New(interval time.Duration, handler Handler, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New().WithData(errors.ErrInvalidInterval, interval)
	}
	if handler == nil {
		return nil, errors.New().WithMessage(errors.ErrInvalidArgument, "nil tick handler")
	}

	s := &Scheduler{
		interval: interval,
		warmup:   DefaultWarmup,
		handler:  handler,
		log:      logger.Component("scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run primes, waits out the warm-up, ticks once immediately and then once
// per interval. Ticks run on the calling goroutine and never overlap. Run
// returns nil when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.prime != nil {
		if err := s.prime(ctx); err != nil {
			s.log.Debug().Err(err).Msg("Priming refresh incomplete")
		}
	}

	if s.warmup > 0 {
		timer := time.NewTimer(s.warmup)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Uint64("ticks", s.ticks).Msg("Scheduler stopped")
			return nil
		case <-ticker.C:
			// A tick that outlived cancellation must not start another.
			if ctx.Err() != nil {
				return nil
			}
			s.tick(ctx)
		}
	}
}

// Ticks reports how many ticks have run.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks
}

func (s *Scheduler) tick(ctx context.Context) {
	s.ticks++

	if err := s.handler(ctx); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			s.log.ErrorWithCode(coded).Uint64("tick", s.ticks).Msg("Tick failed")
			return
		}
		s.log.Error().Err(err).Uint64("tick", s.ticks).Msg("Tick failed")
	}
}
