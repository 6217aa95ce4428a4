// Package jobs defines the job envelope consumed from the queue, the
// completion contract back to it, and the run ledger both pipelines use.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"adsync/models"
)

type Type string

const (
	TypeCrawl   Type = "crawl"
	TypePublish Type = "publish"
)

// Correlation ties a job to its owner and run. Both ids are required.
type Correlation struct {
	CustomerID string `json:"customer_id"`
	RunID      string `json:"run_id"`
}

type Job struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Correlation Correlation     `json:"correlation"`
	Attempt     int             `json:"attempt"`
}

// CrawlPayload is the payload of a crawl job. RootURL overrides the
// source's stored root when set.
type CrawlPayload struct {
	RootURL string `json:"root_url" validate:"omitempty,url"`
	Limit   int    `json:"limit" validate:"gte=0,lte=500"`
	SiteID  string `json:"site_id"`
}

// PublishPayload is the (trivial) payload of a publish job.
type PublishPayload struct {
	Trigger string `json:"trigger,omitempty"`
}

var validate = validator.New()

// IDs parses the correlation ids. A missing or malformed id is a
// missing-correlation failure.
func (j *Job) IDs() (customerID, runID uuid.UUID, err error) {
	if j.Correlation.CustomerID == "" || j.Correlation.RunID == "" {
		return uuid.Nil, uuid.Nil, Failf(KindMissingCorrelation,
			"job %s is missing customer_id or run_id in its correlation", j.ID)
	}
	customerID, err = uuid.Parse(j.Correlation.CustomerID)
	if err != nil {
		return uuid.Nil, uuid.Nil, Wrap(KindMissingCorrelation, "invalid customer_id in job correlation", err)
	}
	runID, err = uuid.Parse(j.Correlation.RunID)
	if err != nil {
		return uuid.Nil, uuid.Nil, Wrap(KindMissingCorrelation, "invalid run_id in job correlation", err)
	}
	return customerID, runID, nil
}

// DecodeCrawlPayload decodes and validates a crawl payload.
func (j *Job) DecodeCrawlPayload() (*CrawlPayload, error) {
	var p CrawlPayload
	if len(j.Payload) > 0 {
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, Wrap(KindValidation, "crawl payload is not valid JSON", err)
		}
	}
	if err := validate.Struct(&p); err != nil {
		return nil, Wrap(KindValidation, fmt.Sprintf("invalid crawl payload: %v", err), err)
	}
	return &p, nil
}

// Encode marshals a payload into a job.
func Encode(jobType Type, customerID, runID uuid.UUID, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: data,
		Correlation: Correlation{
			CustomerID: customerID.String(),
			RunID:      runID.String(),
		},
	}, nil
}

// Outcome is what a handler reports on success. Message is persisted on
// the run row, for example a summary of per-item errors.
type Outcome struct {
	Message  string
	Metadata json.RawMessage
}

// Handler processes one job for an already-running run.
type Handler interface {
	Handle(ctx context.Context, job *Job, run *models.Run, log logrus.FieldLogger) (*Outcome, error)
}

// FailureRecorder is implemented by handlers that mirror a terminal
// failure onto longer-lived rows outside the run.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, run *models.Run, failure *Failure, log logrus.FieldLogger)
}
