package domain

import (
	"context"
	"time"
)

// PostJob — задача на повторную публикацию дневного итога.
type PostJob struct {
	ID          string    `json:"job_id"`
	UserID      string    `json:"user_id"`
	Date        string    `json:"date"`
	Text        string    `json:"text"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

// PostQueue — очередь отложенных публикаций.
type PostQueue interface {
	Enqueue(ctx context.Context, job PostJob) error
	// Pop блокирующе читает задачу из очереди.
	Pop(ctx context.Context) (PostJob, error)
}
