package util

import (
	"sync"

	"github.com/mohitkumar/flowgate/logger"
	"go.uber.org/zap"
)

// Worker drains a buffered channel of messages into handler on one goroutine.
type Worker[T any] struct {
	name     string
	wg       *sync.WaitGroup
	handler  func(T) error
	msgChan  chan T
	stop     chan struct{}
	stopOnce sync.Once
}

func NewWorker[T any](name string, wg *sync.WaitGroup, handler func(T) error, capacity int) *Worker[T] {
	return &Worker[T]{
		name:    name,
		wg:      wg,
		handler: handler,
		msgChan: make(chan T, capacity),
		stop:    make(chan struct{}),
	}
}

func (w *Worker[T]) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case msg := <-w.msgChan:
				w.handle(msg)
			case <-w.stop:
				// drain what is already buffered
				for {
					select {
					case msg := <-w.msgChan:
						w.handle(msg)
					default:
						logger.Info("stopping worker", zap.String("worker", w.name))
						return
					}
				}
			}
		}
	}()
}

func (w *Worker[T]) handle(msg T) {
	if err := w.handler(msg); err != nil {
		logger.Error("error handling message in worker", zap.String("worker", w.name), zap.Any("message", msg), zap.Error(err))
	}
}

// Offer enqueues msg without blocking and reports whether it was accepted.
func (w *Worker[T]) Offer(msg T) bool {
	select {
	case w.msgChan <- msg:
		return true
	default:
		return false
	}
}

func (w *Worker[T]) Stop() error {
	w.stopOnce.Do(func() { close(w.stop) })
	return nil
}
