package events

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/resourcekit/errors"
)

// DefaultSubjectPrefix prefixes the NATS event subjects.
const DefaultSubjectPrefix = "resourcekit.events"

// ErrNotConnected is returned when subscribing on a closed or disconnected connection.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Subscriber registers a handler on a subject. The subscription ends with ctx.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// NATSSource turns messages on <prefix>.memory_warning and <prefix>.background
// into events. Payloads are ignored.
type NATSSource struct {
	sub    Subscriber
	prefix string
	logger *slog.Logger
}

// NewNATSSource creates a source on sub. An empty prefix uses DefaultSubjectPrefix.
func NewNATSSource(sub Subscriber, prefix string, opts ...Option) (*NATSSource, error) {
	if sub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSSource", "New", "subscriber required")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	o := buildOptions("nats-source", opts)
	return &NATSSource{sub: sub, prefix: prefix, logger: o.logger}, nil
}

// Subject returns the subject carrying events of kind.
func (s *NATSSource) Subject(kind string) string {
	return s.prefix + "." + kind
}

// Run subscribes to both subjects and blocks until ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context, obs Observer) error {
	for _, kind := range []string{KindMemoryWarning, KindBackground} {
		subject := s.Subject(kind)
		err := s.sub.Subscribe(ctx, subject, func(msgCtx context.Context, _ []byte) {
			s.logger.Info("Resource event received", "subject", subject)
			Dispatch(msgCtx, obs, kind)
		})
		if err != nil {
			return errors.WrapTransient(err, "NATSSource", "Run", "subscribe "+subject)
		}
	}

	s.logger.Debug("Listening for resource events", "prefix", s.prefix)
	<-ctx.Done()
	return nil
}

// ConnSubscriber adapts a *nats.Conn to Subscriber.
type ConnSubscriber struct {
	conn *nats.Conn
}

// NewConnSubscriber wraps conn.
func NewConnSubscriber(conn *nats.Conn) *ConnSubscriber {
	return &ConnSubscriber{conn: conn}
}

// Subscribe registers handler and unsubscribes when ctx ends. Each message
// gets its own context bounded to 30 s.
func (c *ConnSubscriber) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	if c.conn == nil || !c.conn.IsConnected() {
		return errors.WrapTransient(ErrNotConnected, "ConnSubscriber", "Subscribe", "subscribe "+subject)
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// ConnectNATS dials url and keeps reconnecting for as long as the process runs.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats-connection")

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.PingInterval(20*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Warn("NATS async error", "error", err)
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "events", "ConnectNATS", "connect")
	}
	return conn, nil
}
