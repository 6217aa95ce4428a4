package publisher

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// Saga runs steps in order and, when one fails, undoes the completed
// steps in reverse. Compensation failures are collected, never returned.
type Saga struct {
	log         logrus.FieldLogger
	done        []compensation
	Compensated []string
	Errors      []error
}

func NewSaga(log logrus.FieldLogger) *Saga {
	return &Saga{log: log}
}

// Step runs action. On success its compensation (if any) is registered;
// on failure every registered compensation runs and the action's error is
// returned unchanged.
func (s *Saga) Step(ctx context.Context, name string, action, compensate func(ctx context.Context) error) error {
	if err := action(ctx); err != nil {
		s.log.WithError(err).WithField("step", name).Warn("saga step failed")
		s.Rollback(ctx)
		return err
	}
	if compensate != nil {
		s.done = append(s.done, compensation{name: name, fn: compensate})
	}
	return nil
}

// Rollback compensates all completed steps, newest first.
func (s *Saga) Rollback(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.done) - 1; i >= 0; i-- {
		c := s.done[i]
		if err := c.fn(ctx); err != nil {
			s.log.WithError(err).WithField("step", c.name).Error("compensation failed")
			s.Errors = append(s.Errors, fmt.Errorf("compensate %s: %w", c.name, err))
			continue
		}
		s.log.WithField("step", c.name).Info("compensated")
		s.Compensated = append(s.Compensated, c.name)
	}
	s.done = nil
}

// Commit forgets registered compensations.
func (s *Saga) Commit() {
	s.done = nil
}
