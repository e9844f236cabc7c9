package notification

import (
	"context"
	"sync"

	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/util"
	"go.uber.org/zap"
)

// AsyncSink hands events to a background worker; events are dropped with a
// warning when the buffer is full.
type AsyncSink struct {
	worker *util.Worker[Event]
	done   sync.WaitGroup
}

// NewAsyncSink starts the delivery worker. wg is released once the worker has
// drained after Stop.
func NewAsyncSink(next Sink, capacity int, wg *sync.WaitGroup) *AsyncSink {
	s := &AsyncSink{}
	s.worker = util.NewWorker[Event]("notification", &s.done, func(ev Event) error {
		return next.Notify(context.Background(), ev)
	}, capacity)
	s.worker.Start()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.done.Wait()
	}()
	return s
}

func (s *AsyncSink) Notify(ctx context.Context, ev Event) error {
	if !s.worker.Offer(ev) {
		logger.Warn("notification buffer full, dropping event", zap.String("type", string(ev.Type)), zap.String("execution", ev.ExecutionID))
	}
	return nil
}

func (s *AsyncSink) Stop() error {
	return s.worker.Stop()
}

// Close stops the worker and waits until buffered events are delivered.
func (s *AsyncSink) Close() error {
	err := s.Stop()
	s.done.Wait()
	return err
}
