// Package tasks defines background jobs and the queues that deliver them.
package tasks

import (
	"context"
	"time"
)

// TitleTask asks the title worker to name a newly created conversation.
type TitleTask struct {
	ConversationID   string    `json:"conversation_id"`
	UserID           string    `json:"user_id"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// Processor handles one delivered task.
type Processor interface {
	Process(ctx context.Context, task TitleTask) error
}

// Queue accepts tasks for asynchronous processing.
type Queue interface {
	Enqueue(ctx context.Context, task TitleTask) error
}

// Claimer grants each id at most one claim.
type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
}
