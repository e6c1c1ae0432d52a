package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBanSweep lifts expired bans and repairs account status drift.
	TaskBanSweep = "bans:sweep"
)

// BanSweepPayload configures one sweep run.
type BanSweepPayload struct {
	// Trigger records who asked for the run: "cron", "cli" or "api".
	Trigger string `json:"trigger"`
	// TimeoutSeconds bounds the run; zero uses the job default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// NewBanSweepTask constructs an Asynq task for the expiry sweep.
func NewBanSweepTask(trigger string, timeout time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(BanSweepPayload{Trigger: trigger, TimeoutSeconds: int(timeout / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBanSweep, data), nil
}
