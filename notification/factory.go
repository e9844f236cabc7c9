package notification

import (
	"fmt"
	"io"
	"sync"
)

// Build assembles the configured sinks. The returned closers release files
// and connections on shutdown.
func Build(conf Config, wg *sync.WaitGroup) (Sink, []io.Closer, error) {
	var (
		sinks   Multi
		closers []io.Closer
	)
	for _, t := range conf.Types {
		switch t {
		case SINK_NONE, "":
		case SINK_LOG_FILE:
			s, err := NewLogFileSink(conf.FileName)
			if err != nil {
				return nil, closers, err
			}
			sinks = append(sinks, s)
			closers = append(closers, s)
		case SINK_NATS:
			s, err := NewNatsSink(conf.NatsURL, conf.Subject)
			if err != nil {
				return nil, closers, err
			}
			sinks = append(sinks, s)
			closers = append(closers, s)
		default:
			return nil, closers, fmt.Errorf("unknown notification sink %q", t)
		}
	}
	if len(sinks) == 0 {
		return Noop{}, closers, nil
	}
	var sink Sink = sinks
	if len(sinks) == 1 {
		sink = sinks[0]
	}
	if conf.AsyncCapacity > 0 {
		async := NewAsyncSink(sink, conf.AsyncCapacity, wg)
		sink = async
		closers = append([]io.Closer{async}, closers...)
	}
	return sink, closers, nil
}
