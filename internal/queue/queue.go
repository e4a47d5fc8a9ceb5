package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postqueue/internal/notify"
)

// Enqueuer is a notify.Sink that moves events onto the asynq queue so another
// process can deliver them. Tasks are never retried.
type Enqueuer struct {
	client *asynq.Client
}

var _ notify.Sink = (*Enqueuer)(nil)

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (q *Enqueuer) Send(ctx context.Context, e notify.Event) error {
	return EnqueueNotification(ctx, q.client, NotifyPayload{Event: e})
}

func EnqueueNotification(ctx context.Context, asynqClient *asynq.Client, payload NotifyPayload) error {
	task, err := NewNotifyTask(payload)
	if err != nil {
		return err
	}

	info, err := asynqClient.EnqueueContext(ctx, task,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Second),
		asynq.Retention(time.Hour),
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	slog.Debug("notification enqueued", "task_id", info.ID, "kind", payload.Event.Kind)
	return nil
}

func NewNotifyTask(payload NotifyPayload) (*asynq.Task, error) {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, taskPayload), nil
}
