package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/mohitkumar/flowgate/logger"
	"github.com/mohitkumar/flowgate/util"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsSink publishes events on <subject>.<event type>.
type NatsSink struct {
	nc      *nats.Conn
	subject string
	codec   util.EncoderDecoder[Event]
}

func NewNatsSink(url string, subject string) (*NatsSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("flowgate"),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if subject == "" {
		subject = "flowgate.events"
	}
	return &NatsSink{nc: nc, subject: subject, codec: util.NewJsonEncoderDecoder[Event]()}, nil
}

func (s *NatsSink) Notify(ctx context.Context, ev Event) error {
	data, err := s.codec.Encode(ev)
	if err != nil {
		return err
	}
	return s.nc.Publish(s.subject+"."+string(ev.Type), data)
}

func (s *NatsSink) Close() error {
	if s.nc != nil && !s.nc.IsClosed() {
		return s.nc.Drain()
	}
	return nil
}
