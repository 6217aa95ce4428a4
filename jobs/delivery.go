package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrAlreadySettled = errors.New("delivery already settled")

// Delivery is the completion contract with the queue. A job settles with
// exactly one of Ack, DeadLetter or Retry. Retry hands the job back for
// redelivery no sooner than after.
type Delivery interface {
	Ack(ctx context.Context) error
	DeadLetter(ctx context.Context, reason string) error
	Retry(ctx context.Context, after time.Duration) error
}

// Settler wraps a Delivery so that only the first settle call reaches it.
type Settler struct {
	mu      sync.Mutex
	d       Delivery
	settled bool
	outcome string
}

func NewSettler(d Delivery) *Settler {
	return &Settler{d: d}
}

func (s *Settler) Ack(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return ErrAlreadySettled
	}
	s.settled = true
	s.outcome = "ack"
	return s.d.Ack(ctx)
}

func (s *Settler) DeadLetter(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return ErrAlreadySettled
	}
	s.settled = true
	s.outcome = "dead_letter"
	return s.d.DeadLetter(ctx, reason)
}

func (s *Settler) Retry(ctx context.Context, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return ErrAlreadySettled
	}
	s.settled = true
	s.outcome = "retry"
	return s.d.Retry(ctx, after)
}

// Outcome returns "ack", "dead_letter", "retry" or "" if unsettled.
func (s *Settler) Outcome() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}
