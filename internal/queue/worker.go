package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandleNotifyTask delivers one queued notification. Failures are logged and
// reported as SkipRetry so the event is dropped.
func (q *Queue) HandleNotifyTask(ctx context.Context, task *asynq.Task) error {
	var payload NotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode notify payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := q.sink.Send(ctx, payload.Event); err != nil {
		slog.Warn("notification failed", "kind", payload.Event.Kind, "publication", payload.Event.PublicationID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// ServeMux routes the task types this package understands.
func (q *Queue) ServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeNotify, q.HandleNotifyTask)
	return mux
}
