package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	tasksStream = "TASKS"

	// Change notices only trigger a reload, so old ones are worthless.
	tasksMaxAge = 24 * time.Hour
)

// EnsureStreams creates (or validates) the stream carrying task change notices:
// - app.task.>
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(tasksStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:      tasksStream,
			Subjects:  []string{"app.task.>"},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    tasksMaxAge,
			Replicas:  1,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
