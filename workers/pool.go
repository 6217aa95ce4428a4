package workers

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"adsync/jobs"
)

// Service is a background loop that runs until ctx is done.
type Service func(ctx context.Context) error

// Pool runs consumers and background services until ctx is cancelled or
// one of them fails.
type Pool struct {
	consumer Consumer
	dispatch HandleFunc
	workers  int
	services []Service
	log      logrus.FieldLogger
}

// NewPool starts workers consumers on the same queue. Backends with their
// own concurrency control (Pub/Sub) should use one.
func NewPool(consumer Consumer, d *Dispatcher, workers int, log logrus.FieldLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		consumer: consumer,
		dispatch: func(ctx context.Context, job *jobs.Job, delivery jobs.Delivery) {
			d.Dispatch(ctx, job, delivery)
		},
		workers: workers,
		log:     log,
	}
}

func (p *Pool) Add(s Service) {
	p.services = append(p.services, s)
}

func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.log.WithField("worker", worker).Info("consumer started")
			defer p.log.WithField("worker", worker).Info("consumer stopped")
			return p.consumer.Consume(ctx, p.dispatch)
		})
	}
	for _, s := range p.services {
		s := s
		g.Go(func() error { return s(ctx) })
	}

	return g.Wait()
}
