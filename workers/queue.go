package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"adsync/config"
	"adsync/jobs"
)

// HandleFunc receives one delivered job. It must settle delivery.
type HandleFunc func(ctx context.Context, job *jobs.Job, delivery jobs.Delivery)

// Consumer delivers jobs from a queue backend until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handle HandleFunc) error
}

// Enqueuer submits new jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobs.Job) error
}

// =============================================================================
// SQLite
// =============================================================================

// LeaseStore is the local queue table.
type LeaseStore interface {
	Lease(ctx context.Context, leaseFor time.Duration) (*jobs.Job, error)
	Ack(ctx context.Context, id string) error
	DeadLetter(ctx context.Context, id, reason string) error
	Release(ctx context.Context, id string, after time.Duration) error
}

// SQLiteQueue polls the local jobs table. A job whose lease expires
// without being settled is handed out again.
type SQLiteQueue struct {
	store    LeaseStore
	leaseFor time.Duration
	poll     time.Duration
	log      logrus.FieldLogger
}

func NewSQLiteQueue(store LeaseStore, cfg config.QueueConfig, log logrus.FieldLogger) *SQLiteQueue {
	return &SQLiteQueue{store: store, leaseFor: cfg.LeaseDuration, poll: cfg.PollInterval, log: log}
}

func (q *SQLiteQueue) Consume(ctx context.Context, handle HandleFunc) error {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := q.store.Lease(ctx, q.leaseFor)
		if err != nil && ctx.Err() == nil {
			q.log.WithError(err).Error("lease failed")
		}
		if job != nil {
			handle(ctx, job, &sqliteDelivery{store: q.store, id: job.ID})
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type sqliteDelivery struct {
	store LeaseStore
	id    string
}

func (d *sqliteDelivery) Ack(ctx context.Context) error {
	return d.store.Ack(ctx, d.id)
}

func (d *sqliteDelivery) DeadLetter(ctx context.Context, reason string) error {
	return d.store.DeadLetter(ctx, d.id, reason)
}

func (d *sqliteDelivery) Retry(ctx context.Context, after time.Duration) error {
	return d.store.Release(ctx, d.id, after)
}

// =============================================================================
// Pub/Sub
// =============================================================================

// PubSubQueue receives jobs from a subscription and publishes new ones to
// a topic. Dead-lettered messages are republished to the dead-letter
// topic with the reason attached, then acked.
type PubSubQueue struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	topic  *pubsub.Topic
	dead   *pubsub.Topic
	log    logrus.FieldLogger
}

func NewPubSubQueue(ctx context.Context, cfg config.QueueConfig, concurrency int, log logrus.FieldLogger) (*PubSubQueue, error) {
	if cfg.PubSubProject == "" {
		return nil, errors.New("PUBSUB_PROJECT is required for the pubsub queue backend")
	}

	var opts []option.ClientOption
	if cfg.PubSubCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.PubSubCredentials))
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSubProject, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	q := &PubSubQueue{client: client, log: log}
	if cfg.PubSubSubscription != "" {
		q.sub = client.Subscription(cfg.PubSubSubscription)
		q.sub.ReceiveSettings.MaxOutstandingMessages = max(concurrency, 1)
	}
	if cfg.PubSubTopic != "" {
		q.topic = client.Topic(cfg.PubSubTopic)
	}
	if cfg.PubSubDeadLetter != "" {
		q.dead = client.Topic(cfg.PubSubDeadLetter)
	}
	return q, nil
}

func (q *PubSubQueue) Close() error {
	if q.topic != nil {
		q.topic.Stop()
	}
	if q.dead != nil {
		q.dead.Stop()
	}
	return q.client.Close()
}

func (q *PubSubQueue) Enqueue(ctx context.Context, job *jobs.Job) error {
	if q.topic == nil {
		return errors.New("PUBSUB_TOPIC is required to enqueue jobs")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job_type": string(job.Type)},
	})
	_, err = result.Get(ctx)
	return err
}

func (q *PubSubQueue) Consume(ctx context.Context, handle HandleFunc) error {
	if q.sub == nil {
		return errors.New("PUBSUB_SUBSCRIPTION is required to consume jobs")
	}
	return q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		delivery := &pubsubDelivery{msg: msg, dead: q.dead}

		var job jobs.Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.log.WithError(err).WithField("message_id", msg.ID).Error("undecodable job message")
			if err := delivery.DeadLetter(ctx, fmt.Sprintf("undecodable job message: %v", err)); err != nil {
				q.log.WithError(err).Error("dead-letter failed")
			}
			return
		}
		if job.ID == "" {
			job.ID = msg.ID
		}
		if msg.DeliveryAttempt != nil {
			job.Attempt = *msg.DeliveryAttempt
		}
		handle(ctx, &job, delivery)
	})
}

type pubsubDelivery struct {
	msg  *pubsub.Message
	dead *pubsub.Topic
}

func (d *pubsubDelivery) Ack(context.Context) error {
	d.msg.Ack()
	return nil
}

// Retry nacks the message. Redelivery delay follows the subscription's
// retry policy.
func (d *pubsubDelivery) Retry(context.Context, time.Duration) error {
	d.msg.Nack()
	return nil
}

// DeadLetter forwards the message before acking it. If forwarding fails
// the message is nacked so it is redelivered; the run is already terminal
// by then, so redelivery only acks.
func (d *pubsubDelivery) DeadLetter(ctx context.Context, reason string) error {
	if d.dead != nil {
		attrs := make(map[string]string, len(d.msg.Attributes)+1)
		for k, v := range d.msg.Attributes {
			attrs[k] = v
		}
		attrs["dead_letter_reason"] = reason
		if _, err := d.dead.Publish(ctx, &pubsub.Message{Data: d.msg.Data, Attributes: attrs}).Get(ctx); err != nil {
			d.msg.Nack()
			return fmt.Errorf("publish dead letter: %w", err)
		}
	}
	d.msg.Ack()
	return nil
}
