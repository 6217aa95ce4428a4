package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"adsync/models"
)

// RunLogSink persists run-scoped log rows.
type RunLogSink interface {
	InsertRunLog(ctx context.Context, entry *models.RunLog) error
}

// RunLogHook copies every entry carrying a run_id field into the sink.
type RunLogHook struct {
	sink    RunLogSink
	levels  []logrus.Level
	timeout time.Duration
}

func NewRunLogHook(sink RunLogSink) *RunLogHook {
	return &RunLogHook{
		sink:    sink,
		levels:  []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel},
		timeout: 2 * time.Second,
	}
}

func (h *RunLogHook) Levels() []logrus.Level {
	return h.levels
}

func (h *RunLogHook) Fire(entry *logrus.Entry) error {
	runID, ok := entry.Data["run_id"]
	if !ok {
		return nil
	}

	fields := make(map[string]any, len(entry.Data))
	for k, v := range entry.Data {
		if k == "run_id" {
			continue
		}
		if err, isErr := v.(error); isErr {
			fields[k] = err.Error()
			continue
		}
		fields[k] = v
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		encoded = []byte("{}")
	}

	row := &models.RunLog{
		RunID:     fmt.Sprint(runID),
		Timestamp: entry.Time,
		Level:     levelOf(entry.Level),
		Message:   entry.Message,
		Fields:    string(encoded),
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.sink.InsertRunLog(ctx, row)
}

func levelOf(l logrus.Level) models.LogLevel {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return models.LogLevelDebug
	case logrus.InfoLevel:
		return models.LogLevelInfo
	case logrus.WarnLevel:
		return models.LogLevelWarn
	default:
		return models.LogLevelError
	}
}
