package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence/memory"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func newQueue(c *clock) *Queue {
	return New(memory.NewStore(), Options{
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     10 * time.Second,
		LeaseTTL:             time.Minute,
		Now:                  c.Now,
	})
}

func TestEnqueueDefaults(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := newQueue(c)
	item, err := q.Enqueue(context.Background(), EnqueueRequest{WorkflowID: "wf", InputData: map[string]any{"a": "b"}})
	require.NoError(t, err)
	require.Equal(t, model.QUEUE_PENDING, item.Status)
	require.Equal(t, model.QUEUE_KIND_RUN, item.Kind)
	require.Equal(t, model.DEFAULT_MAX_ATTEMPTS, item.MaxAttempts)
	require.Zero(t, item.Attempts)

	_, err = q.Enqueue(context.Background(), EnqueueRequest{})
	require.Error(t, err)
}

func TestRetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := newQueue(c)
	item, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: "wf"})
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.ClaimBatch(ctx, 5)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)
		failed, err := q.MarkFailed(ctx, item.ID, errors.New("boom"))
		require.NoError(t, err)
		require.Equal(t, attempt, failed.Attempts)
		if attempt < 3 {
			require.Equal(t, model.QUEUE_PENDING, failed.Status)
			require.Equal(t, c.now.Add(q.RetryDelay(attempt)), failed.AvailableAt)
			claimed, err = q.ClaimBatch(ctx, 5)
			require.NoError(t, err)
			require.Empty(t, claimed, "not due before backoff")
			c.now = failed.AvailableAt
		} else {
			require.Equal(t, model.QUEUE_FAILED, failed.Status)
		}
	}
	c.now = c.now.Add(time.Hour)
	claimed, err := q.ClaimBatch(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestRetryDelay(t *testing.T) {
	q := newQueue(&clock{now: time.Now()})
	require.Equal(t, time.Second, q.RetryDelay(1))
	require.Equal(t, 1500*time.Millisecond, q.RetryDelay(2))
	require.Equal(t, 10*time.Second, q.RetryDelay(20))
}

func TestAbandonedClaimIsReclaimed(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := newQueue(c)
	item, err := q.Enqueue(ctx, EnqueueRequest{WorkflowID: "wf"})
	require.NoError(t, err)
	claimed, err := q.ClaimBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	c.now = c.now.Add(30 * time.Second)
	claimed, err = q.ClaimBatch(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, claimed)

	c.now = c.now.Add(time.Minute)
	claimed, err = q.ClaimBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, item.ID, claimed[0].ID)
	require.Equal(t, 1, claimed[0].Attempts)

	require.NoError(t, q.MarkCompleted(ctx, item.ID))
	require.Error(t, q.MarkCompleted(ctx, item.ID))
}
