package queue

import (
	"github.com/maheshrc27/postqueue/internal/notify"
)

// Queue consumes notification tasks and hands them to the final sink.
type Queue struct {
	sink notify.Sink
}

func NewQueue(sink notify.Sink) *Queue {
	return &Queue{sink: sink}
}

const TaskTypeNotify = "notify:publication"

type NotifyPayload struct {
	Event notify.Event `json:"event"`
}
