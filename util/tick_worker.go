package util

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohitkumar/flowgate/logger"
	"go.uber.org/zap"
)

// TickWorker calls fn every interval on its own goroutine until stopped.
type TickWorker struct {
	name         string
	tickInterval time.Duration
	fn           func()
	stop         chan struct{}
	stopOnce     sync.Once
	wg           *sync.WaitGroup
	running      atomic.Bool
}

func NewTickWorker(name string, interval time.Duration, fn func(), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		name:         name,
		tickInterval: interval,
		fn:           fn,
		stop:         make(chan struct{}),
		wg:           wg,
	}
}

func (tw *TickWorker) Start() {
	ticker := time.NewTicker(tw.tickInterval)
	tw.running.Store(true)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer tw.running.Store(false)
		for {
			select {
			case <-ticker.C:
				tw.fn()
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				ticker.Stop()
				return
			}
		}
	}()
	logger.Info("tick worker started", zap.String("worker", tw.name), zap.Duration("interval", tw.tickInterval))
}

func (tw *TickWorker) Stop() error {
	tw.stopOnce.Do(func() { close(tw.stop) })
	return nil
}

func (tw *TickWorker) IsRunning() bool {
	return tw.running.Load()
}
