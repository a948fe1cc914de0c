package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBackoffDelayDoubles(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoffDelay(0))
	assert.Equal(t, 30*time.Second, backoffDelay(1))
	assert.Equal(t, 60*time.Second, backoffDelay(2))
	assert.Equal(t, 120*time.Second, backoffDelay(3))
}

func TestDispatchInvokesHandler(t *testing.T) {
	worker := &Worker{
		queue:    &Queue{log: zap.NewNop()},
		log:      zap.NewNop(),
		handlers: map[string]Handler{},
	}

	var got string
	worker.Register("email.test", func(ctx context.Context, payload []byte) error {
		var body struct {
			To string `json:"to"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return err
		}
		got = body.To
		return nil
	})

	worker.dispatch(context.Background(), Job{
		ID:      "job-1",
		Kind:    "email.test",
		Payload: json.RawMessage(`{"to":"ops@acme.test"}`),
	})
	assert.Equal(t, "ops@acme.test", got)
}

func TestDispatchUnknownKindIsDropped(t *testing.T) {
	worker := &Worker{
		queue:    &Queue{log: zap.NewNop()},
		log:      zap.NewNop(),
		handlers: map[string]Handler{},
	}
	// Must not panic or block; the job is logged and discarded.
	worker.dispatch(context.Background(), Job{ID: "job-2", Kind: "unknown"})
}

func TestDispatchExhaustedJobIsDropped(t *testing.T) {
	worker := &Worker{
		queue:    &Queue{log: zap.NewNop()},
		log:      zap.NewNop(),
		handlers: map[string]Handler{},
	}

	calls := 0
	worker.Register("email.failing", func(ctx context.Context, payload []byte) error {
		calls++
		return errors.New("smtp down")
	})

	// Already at the final attempt: the failure drops the job without
	// touching the retry store.
	worker.dispatch(context.Background(), Job{
		ID:       "job-3",
		Kind:     "email.failing",
		Attempts: MaxAttempts - 1,
	})
	assert.Equal(t, 1, calls)
}

func TestRetryLaterWithoutConnection(t *testing.T) {
	var q *Queue
	err := q.retryLater(context.Background(), Job{ID: "job-4"})
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}
