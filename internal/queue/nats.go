package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix roots the subjects events are published on, e.g.
// "booking.payment.confirmed" for payment:confirmed.
const DefaultSubjectPrefix = "booking"

// NATSSubscriber receives events from every subject under a prefix.
type NATSSubscriber struct {
	conn   *nats.Conn
	prefix string
	log    *zap.Logger
}

// NewNATSSubscriber connects to url.
func NewNATSSubscriber(url, prefix string, log *zap.Logger) (*NATSSubscriber, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("table-booking-session"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats: disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats: reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSubscriber{conn: conn, prefix: prefix, log: log}, nil
}

// Run subscribes and blocks until ctx is done.
func (s *NATSSubscriber) Run(ctx context.Context, h Handler) error {
	sub, err := s.conn.Subscribe(s.prefix+".>", func(msg *nats.Msg) {
		ev, err := Decode(msg.Data, EventName(s.prefix, msg.Subject))
		if err == nil {
			err = h(ctx, ev)
		}
		if err != nil {
			s.log.Warn("nats: handle message failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	s.log.Info("nats: subscribed", zap.String("subject", sub.Subject))
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// Subject maps an event name to its subject: "payment:confirmed" becomes
// "<prefix>.payment.confirmed".
func Subject(prefix, name string) string {
	return prefix + "." + strings.ReplaceAll(name, ":", ".")
}

// EventName is the inverse of Subject.
func EventName(prefix, subject string) string {
	rest := strings.TrimPrefix(subject, prefix+".")
	topic, action, ok := strings.Cut(rest, ".")
	if !ok {
		return rest
	}
	return topic + ":" + action
}
