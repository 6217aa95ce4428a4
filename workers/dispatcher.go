// Package workers consumes jobs from the queue and routes them to the
// crawl and publish handlers.
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"adsync/jobs"
	"adsync/models"
	"adsync/storage"
)

const (
	defaultLockTTL = 15 * time.Minute
	// lockRetryDelay is how long a job deferred behind another job for the
	// same customer waits before redelivery.
	lockRetryDelay = 30 * time.Second
)

// Locker hands out per-customer locks. Lock returns
// storage.ErrLockNotObtained when the lock stays held by someone else.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Dispatcher runs one delivered job to exactly one terminal queue action.
type Dispatcher struct {
	ledger   *jobs.Ledger
	handlers map[jobs.Type]jobs.Handler
	locker   Locker
	lockTTL  time.Duration
	log      logrus.FieldLogger
	tracer   trace.Tracer
}

func NewDispatcher(ledger *jobs.Ledger, handlers map[jobs.Type]jobs.Handler, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		ledger:   ledger,
		handlers: handlers,
		lockTTL:  defaultLockTTL,
		log:      log,
		tracer:   otel.Tracer("adsync/workers"),
	}
}

// SetLocker serializes jobs per customer. A job whose customer is locked is
// handed back for redelivery; when the lock backend itself fails the job
// runs unlocked.
func (d *Dispatcher) SetLocker(l Locker, ttl time.Duration) {
	d.locker = l
	if ttl > 0 {
		d.lockTTL = ttl
	}
}

// Dispatch processes job and settles delivery. It returns "ack",
// "dead_letter" or "retry".
//
// Cancelling ctx stops Dispatch from starting the job; a job already
// handed to its handler runs to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, job *jobs.Job, delivery jobs.Delivery) string {
	settler := jobs.NewSettler(delivery)

	ctx, span := d.tracer.Start(ctx, "job."+string(job.Type), trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.attempt", job.Attempt),
	))
	defer span.End()

	log := d.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempt":  job.Attempt,
	})

	customerID, runID, err := job.IDs()
	if err != nil {
		failure := jobs.AsFailure(err)
		log.WithError(err).Error("job rejected")
		d.markSpan(span, failure)
		d.deadLetter(ctx, settler, failure.Message, log)
		return settler.Outcome()
	}

	log = log.WithFields(logrus.Fields{
		"run_id":      runID.String(),
		"customer_id": customerID.String(),
	})
	span.SetAttributes(attribute.String("run.id", runID.String()), attribute.String("customer.id", customerID.String()))

	if ctx.Err() != nil {
		log.Info("shutting down, leaving job for redelivery")
		d.retry(ctx, settler, 0, log)
		return settler.Outcome()
	}

	release, locked := d.lock(ctx, customerID.String(), log)
	if !locked {
		d.retry(ctx, settler, lockRetryDelay, log)
		return settler.Outcome()
	}
	if release != nil {
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("failed to release customer lock")
			}
		}()
	}

	run, terminal, err := d.ledger.MarkRunning(ctx, runID, customerID)
	if err != nil {
		if ctx.Err() != nil {
			log.WithError(err).Info("shutting down, leaving job for redelivery")
			d.retry(ctx, settler, 0, log)
			return settler.Outcome()
		}
		failure := jobs.AsFailure(err)
		log.WithError(err).Error("could not start run")
		d.markSpan(span, failure)
		d.deadLetter(ctx, settler, failure.Message, log)
		return settler.Outcome()
	}
	if terminal {
		log.WithField("status", run.Status).Info("run already finished, acknowledging redelivery")
		d.ack(ctx, settler, log)
		return settler.Outcome()
	}

	handler, ok := d.handlers[job.Type]
	if !ok {
		err = jobs.Failf(jobs.KindValidation, "unknown job type %q", job.Type)
	}

	var outcome *jobs.Outcome
	if err == nil {
		log.Info("job started")
		// Shutdown drains running jobs instead of failing them; per-call
		// timeouts bound how long that takes.
		outcome, err = d.handle(context.WithoutCancel(ctx), handler, job, run, log)
	}

	if err != nil {
		failure := jobs.AsFailure(err)
		d.fail(ctx, handler, run, failure, log)
		d.markSpan(span, failure)
		d.deadLetter(ctx, settler, failure.Message, log)
		return settler.Outcome()
	}

	if outcome == nil {
		outcome = &jobs.Outcome{}
	}
	if err := d.ledger.Succeed(context.WithoutCancel(ctx), run, outcome.Message, outcome.Metadata); err != nil {
		log.WithError(err).Error("could not mark run successful")
		d.deadLetter(ctx, settler, fmt.Sprintf("run finished but could not be recorded: %v", err), log)
		return settler.Outcome()
	}

	log.Info("job finished")
	span.SetStatus(codes.Ok, "")
	d.ack(ctx, settler, log)
	return settler.Outcome()
}

// handle runs the handler, turning a panic into an internal failure.
func (d *Dispatcher) handle(ctx context.Context, h jobs.Handler, job *jobs.Job, run *models.Run, log logrus.FieldLogger) (outcome *jobs.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("job panicked: %v", r)
			outcome = nil
			err = jobs.Failf(jobs.KindInternal, "%v", r)
		}
	}()
	return h.Handle(ctx, job, run, log)
}

func (d *Dispatcher) fail(ctx context.Context, h jobs.Handler, run *models.Run, failure *jobs.Failure, log logrus.FieldLogger) {
	ctx = context.WithoutCancel(ctx)
	log.WithError(failure).WithField("kind", failure.Kind).Error("job failed")

	if recorder, ok := h.(jobs.FailureRecorder); ok {
		recorder.RecordFailure(ctx, run, failure, log)
	}
	if err := d.ledger.Fail(ctx, run, failure.Message, failure.Metadata); err != nil {
		log.WithError(err).Error("could not mark run failed")
	}
}

// lock takes the customer lock. locked is false only when another job
// holds it; a failing lock backend is logged and the job runs unlocked.
func (d *Dispatcher) lock(ctx context.Context, key string, log logrus.FieldLogger) (release func(context.Context) error, locked bool) {
	if d.locker == nil {
		return nil, true
	}
	release, err := d.locker.Lock(ctx, key, d.lockTTL)
	if err != nil && ctx.Err() != nil {
		return nil, false
	}
	if errors.Is(err, storage.ErrLockNotObtained) {
		log.Info("customer busy with another job, deferring")
		return nil, false
	}
	if err != nil {
		log.WithError(err).Warn("error obtaining customer lock, proceeding without lock")
		return nil, true
	}
	return release, true
}

func (d *Dispatcher) ack(ctx context.Context, s *jobs.Settler, log logrus.FieldLogger) {
	if err := s.Ack(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Error("ack failed")
	}
}

func (d *Dispatcher) retry(ctx context.Context, s *jobs.Settler, after time.Duration, log logrus.FieldLogger) {
	if err := s.Retry(context.WithoutCancel(ctx), after); err != nil {
		log.WithError(err).Error("retry failed")
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, s *jobs.Settler, reason string, log logrus.FieldLogger) {
	if err := s.DeadLetter(context.WithoutCancel(ctx), reason); err != nil {
		log.WithError(err).Error("dead-letter failed")
	}
}

func (d *Dispatcher) markSpan(span trace.Span, failure *jobs.Failure) {
	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Message)
	span.SetAttributes(attribute.String("failure.kind", string(failure.Kind)))
}
