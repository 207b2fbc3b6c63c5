package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpireLapsed expires paid users past their paid_until.
	TaskExpireLapsed = "subscription:expire-lapsed"
)

// ExpireLapsedPayload optionally pins the cut-off time. Zero means the time
// the task runs.
type ExpireLapsedPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewExpireLapsedTask constructs the expiry task.
func NewExpireLapsedTask(payload ExpireLapsedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpireLapsed, data), nil
}

// Expirer is the part of the subscription service the job drives.
type Expirer interface {
	ExpireLapsed(ctx context.Context, now time.Time) ([]string, error)
}

// ExpireLapsedJob handles TaskExpireLapsed.
type ExpireLapsedJob struct {
	expirer Expirer
	log     *zap.Logger
	now     func() time.Time
}

func NewExpireLapsedJob(expirer Expirer, log *zap.Logger) *ExpireLapsedJob {
	return &ExpireLapsedJob{expirer: expirer, log: log, now: time.Now}
}

// Handle processes one TaskExpireLapsed task.
func (j *ExpireLapsedJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ExpireLapsedPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			j.log.Error("invalid expire-lapsed payload", zap.Error(err))
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}

	ids, err := j.expirer.ExpireLapsed(ctx, asOf)
	if err != nil {
		return err
	}
	j.log.Info("expire-lapsed run finished", zap.Time("as_of", asOf), zap.Int("expired", len(ids)))
	return nil
}
