// Package persistencetest holds behaviour tests shared by every store backend.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence"
	"github.com/stretchr/testify/require"
)

func NewQueueItem(workflowID string, createdAt time.Time) *model.QueueItem {
	return &model.QueueItem{
		ID:          uuid.NewString(),
		WorkflowID:  workflowID,
		Kind:        model.QUEUE_KIND_RUN,
		Status:      model.QUEUE_PENDING,
		InputData:   map[string]any{"n": 1},
		MaxAttempts: 3,
		CreatedAt:   createdAt,
		AvailableAt: createdAt,
	}
}

// TestQueueStore runs the queue contract against stores made by newStore.
func TestQueueStore(t *testing.T, newStore func(t *testing.T) persistence.QueueStore) {
	for scenario, fn := range map[string]func(t *testing.T, s persistence.QueueStore){
		"claim is exclusive under concurrency":  testConcurrentClaim,
		"claim honours availability and limit":  testClaimOrder,
		"failures retry then dead letter":       testFailDeadLetter,
		"stale claims are reclaimed":            testReclaim,
		"complete requires a claim":             testComplete,
		"admission counts the trailing window":  testAdmissionWindow,
		"admission is atomic under concurrency": testConcurrentAdmission,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func testConcurrentClaim(t *testing.T, s persistence.QueueStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	const items = 20
	for i := 0; i < items; i++ {
		require.NoError(t, s.InsertQueueItem(ctx, NewQueueItem("wf-claim", now.Add(time.Duration(i)*time.Millisecond))))
	}
	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.ClaimQueueItems(ctx, now.Add(time.Second), 3)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, item := range claimed {
					seen[item.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, items)
	for id, n := range seen {
		require.Equal(t, 1, n, "item %s claimed %d times", id, n)
	}
}

func testClaimOrder(t *testing.T, s persistence.QueueStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	first := NewQueueItem("wf-order", now.Add(-2*time.Second))
	second := NewQueueItem("wf-order", now.Add(-time.Second))
	later := NewQueueItem("wf-order", now)
	later.AvailableAt = now.Add(time.Hour)
	for _, item := range []*model.QueueItem{later, second, first} {
		require.NoError(t, s.InsertQueueItem(ctx, item))
	}
	claimed, err := s.ClaimQueueItems(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, first.ID, claimed[0].ID)
	require.Equal(t, model.QUEUE_PROCESSING, claimed[0].Status)
	require.NotNil(t, claimed[0].ProcessingStartedAt)
	require.Equal(t, map[string]any{"n": float64(1)}, claimed[0].InputData)

	claimed, err = s.ClaimQueueItems(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, second.ID, claimed[0].ID)
}

func testFailDeadLetter(t *testing.T, s persistence.QueueStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	item := NewQueueItem("wf-fail", now)
	require.NoError(t, s.InsertQueueItem(ctx, item))

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := s.ClaimQueueItems(ctx, now, 5)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)
		failed, err := s.FailQueueItem(ctx, item.ID, "boom", now, now)
		require.NoError(t, err)
		require.Equal(t, attempt, failed.Attempts)
		require.Equal(t, "boom", failed.ErrorMessage)
		if attempt < 3 {
			require.Equal(t, model.QUEUE_PENDING, failed.Status)
		} else {
			require.Equal(t, model.QUEUE_FAILED, failed.Status)
		}
	}
	claimed, err := s.ClaimQueueItems(ctx, now.Add(time.Hour), 5)
	require.NoError(t, err)
	require.Empty(t, claimed)

	_, err = s.FailQueueItem(ctx, item.ID, "again", now, now)
	require.ErrorIs(t, err, persistence.ErrNotClaimed)

	backoff := NewQueueItem("wf-fail", now)
	require.NoError(t, s.InsertQueueItem(ctx, backoff))
	_, err = s.ClaimQueueItems(ctx, now, 5)
	require.NoError(t, err)
	_, err = s.FailQueueItem(ctx, backoff.ID, "later", now, now.Add(time.Minute))
	require.NoError(t, err)
	claimed, err = s.ClaimQueueItems(ctx, now.Add(30*time.Second), 5)
	require.NoError(t, err)
	require.Empty(t, claimed)
	claimed, err = s.ClaimQueueItems(ctx, now.Add(time.Minute), 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

func testReclaim(t *testing.T, s persistence.QueueStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	retry := NewQueueItem("wf-stale", now)
	dead := NewQueueItem("wf-stale", now.Add(time.Millisecond))
	dead.MaxAttempts = 1
	require.NoError(t, s.InsertQueueItem(ctx, retry))
	require.NoError(t, s.InsertQueueItem(ctx, dead))
	claimed, err := s.ClaimQueueItems(ctx, now, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	n, err := s.ReclaimStaleQueueItems(ctx, now.Add(-time.Minute), now)
	require.NoError(t, err)
	require.Zero(t, n)

	later := now.Add(10 * time.Minute)
	n, err = s.ReclaimStaleQueueItems(ctx, later.Add(-5*time.Minute), later)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := s.GetQueueItem(ctx, retry.ID)
	require.NoError(t, err)
	require.Equal(t, model.QUEUE_PENDING, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Nil(t, got.ProcessingStartedAt)

	got, err = s.GetQueueItem(ctx, dead.ID)
	require.NoError(t, err)
	require.Equal(t, model.QUEUE_FAILED, got.Status)

	claimed, err = s.ClaimQueueItems(ctx, later, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, retry.ID, claimed[0].ID)
}

func testComplete(t *testing.T, s persistence.QueueStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	item := NewQueueItem("wf-complete", now)
	require.NoError(t, s.InsertQueueItem(ctx, item))
	require.ErrorIs(t, s.CompleteQueueItem(ctx, item.ID, now), persistence.ErrNotClaimed)
	_, err := s.ClaimQueueItems(ctx, now, 1)
	require.NoError(t, err)
	require.NoError(t, s.CompleteQueueItem(ctx, item.ID, now))
	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.QUEUE_COMPLETED, got.Status)
	require.NotNil(t, got.CompletedAt)

	_, err = s.GetQueueItem(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testAdmissionWindow(t *testing.T, s persistence.QueueStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.InsertQueueItem(ctx, NewQueueItem("wf-count", now.Add(-2*time.Minute))))
	require.NoError(t, s.InsertQueueItem(ctx, NewQueueItem("wf-count", now.Add(-30*time.Second))))
	require.NoError(t, s.InsertQueueItem(ctx, NewQueueItem("wf-other", now)))

	ok, err := s.InsertQueueItemWithin(ctx, NewQueueItem("wf-count", now), now.Add(-time.Minute), 2)
	require.NoError(t, err)
	require.True(t, ok)

	limited := NewQueueItem("wf-count", now)
	ok, err = s.InsertQueueItemWithin(ctx, limited, now.Add(-time.Minute), 2)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = s.GetQueueItem(ctx, limited.ID)
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testConcurrentAdmission(t *testing.T, s persistence.QueueStore) {
	ctx := context.Background()
	now := time.Now().UTC()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertQueueItemWithin(ctx, NewQueueItem("wf-admit", now), now.Add(-time.Minute), 1)
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, admitted)
}
