package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/persistence/memory"
	"github.com/mohitkumar/flowgate/queue"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	after := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	scenarios := map[string]struct {
		expression string
		tz         string
		want       time.Time
	}{
		"every five minutes": {"*/5 * * * *", "", time.Date(2026, 3, 10, 8, 35, 0, 0, time.UTC)},
		"daily descriptor":   {"@daily", "", time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)},
		"hourly descriptor":  {"@hourly", "", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		"nine in new york":   {"0 9 * * *", "America/New_York", time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)},
		"weekday mornings":   {"0 7 * * 1-5", "Europe/Berlin", time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)},
	}
	for name, sc := range scenarios {
		t.Run(name, func(t *testing.T) {
			got, err := NextRun(sc.expression, sc.tz, after)
			require.NoError(t, err)
			require.Equal(t, sc.want, got)
		})
	}

	_, err := NextRun("61 * * * *", "", after)
	require.ErrorAs(t, err, &CronError{})
	_, err = NextRun("* * * * *", "Mars/Olympus", after)
	require.ErrorAs(t, err, &CronError{})
}

func newScheduleFixture(t *testing.T) (*ScheduleTrigger, *memory.Store, *queue.Queue) {
	store := memory.NewStore()
	q := queue.New(store, queue.Options{})
	return NewScheduleTrigger(store, q, nil), store, q
}

func TestScheduleFires(t *testing.T) {
	ctx := context.Background()
	trig, store, q := newScheduleFixture(t)
	saveWorkflow(t, store, "wf", true)
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "due", WorkflowID: "wf", CronExpression: "@hourly", IsActive: true, NextRunAt: &past, InputData: map[string]any{"report": "daily"}}))
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "new", WorkflowID: "wf", CronExpression: "*/15 * * * *", IsActive: true}))
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "later", WorkflowID: "wf", CronExpression: "@hourly", IsActive: true, NextRunAt: &future}))
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "off", WorkflowID: "wf", CronExpression: "@hourly", IsActive: false}))

	results, err := trig.Tick(ctx, now)
	require.NoError(t, err)
	require.Len(t, results, 2)
	byID := map[string]FireResult{}
	for _, r := range results {
		byID[r.ScheduleID] = r
		require.Equal(t, STATUS_QUEUED, r.Status)
		require.NotEmpty(t, r.QueueID)
	}
	require.Equal(t, now.Add(30*time.Minute), *byID["due"].NextRunAt)
	require.Equal(t, now.Add(15*time.Minute), *byID["new"].NextRunAt)

	item, err := q.Get(ctx, byID["due"].QueueID)
	require.NoError(t, err)
	require.Equal(t, "daily", item.InputData["report"])
	provenance := item.InputData[TRIGGER_KEY].(map[string]any)
	require.Equal(t, SOURCE_SCHEDULE, provenance["source"])
	require.Equal(t, "due", provenance["scheduleId"])
	require.Equal(t, "@hourly", provenance["cronExpression"])

	stored, err := store.GetSchedule(ctx, "due")
	require.NoError(t, err)
	require.True(t, now.Equal(*stored.LastRunAt))
	require.True(t, now.Add(30*time.Minute).Equal(*stored.NextRunAt))

	results, err = trig.Tick(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestOverlappingTicksFireOnce(t *testing.T) {
	ctx := context.Background()
	trig, store, _ := newScheduleFixture(t)
	saveWorkflow(t, store, "wf", true)
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "due", WorkflowID: "wf", CronExpression: "@hourly", IsActive: true, NextRunAt: &past}))
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "new", WorkflowID: "wf", CronExpression: "@hourly", IsActive: true}))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		queued = map[string]int{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := trig.Tick(ctx, now)
			if err != nil {
				t.Errorf("tick: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				switch r.Status {
				case STATUS_QUEUED:
					queued[r.ScheduleID]++
				case STATUS_TAKEN:
				default:
					t.Errorf("unexpected status %s for %s", r.Status, r.ScheduleID)
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, map[string]int{"due": 1, "new": 1}, queued)

	items, err := store.ClaimQueueItems(ctx, time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestScheduleSkipsInactiveWorkflow(t *testing.T) {
	ctx := context.Background()
	trig, store, _ := newScheduleFixture(t)
	saveWorkflow(t, store, "dormant", false)
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "s1", WorkflowID: "dormant", CronExpression: "@hourly", IsActive: true}))
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "s2", WorkflowID: "missing", CronExpression: "@hourly", IsActive: true}))

	results, err := trig.Tick(ctx, now)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, STATUS_SKIPPED, r.Status)
		require.Empty(t, r.QueueID)
		stored, err := store.GetSchedule(ctx, r.ScheduleID)
		require.NoError(t, err)
		require.Nil(t, stored.LastRunAt)
		require.True(t, now.Add(30*time.Minute).Equal(*stored.NextRunAt))
	}
}

func TestScheduleInvalidCron(t *testing.T) {
	ctx := context.Background()
	trig, store, _ := newScheduleFixture(t)
	saveWorkflow(t, store, "wf", true)
	require.NoError(t, store.SaveSchedule(ctx, &model.Schedule{ID: "bad", WorkflowID: "wf", CronExpression: "every day", IsActive: true}))

	results, err := trig.Tick(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, STATUS_ERROR, results[0].Status)
	require.Contains(t, results[0].Error, "every day")
	stored, err := store.GetSchedule(ctx, "bad")
	require.NoError(t, err)
	require.Nil(t, stored.LastRunAt)
	require.Nil(t, stored.NextRunAt)
}
