package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunKind string

const (
	RunKindCrawl RunKind = "crawl"
	RunKindAds   RunKind = "ads"
)

type RunStatus string

const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// Run is one execution attempt of a crawl or publish job.
type Run struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Kind         RunKind         `json:"kind" db:"kind"`
	CustomerID   uuid.UUID       `json:"customer_id" db:"customer_id"`
	Trigger      string          `json:"trigger" db:"trigger"` // manual, schedule, onboarding
	Status       RunStatus       `json:"status" db:"status"`
	StartedAt    *time.Time      `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at" db:"finished_at"`
	ErrorMessage string          `json:"error_message" db:"error_message"`
	Metadata     json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
