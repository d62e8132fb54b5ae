package contracts

import "time"

const (
	TaskCreated = "task.created"
	TaskUpdated = "task.updated"
	TaskDeleted = "task.deleted"
)

// TaskChanged is published after every successful write to a user's task
// collection. Subscribers treat it as a signal to reload the full snapshot.
type TaskChanged struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	TaskID     string    `json:"task_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	ShardID    int       `json:"shard_id"`
}
