package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/strategy-advisor/internal/model"
)

// NATSConfig holds connection settings for the push source.
type NATSConfig struct {
	URL           string
	Subject       string // subscription subject, e.g. "signals.>"
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "signals.>",
		RetryAttempts: 10,
		RetryDelay:    time.Second,
	}
}

// NATSSource receives pushed raw batches over NATS. Providers publish one
// JSON-encoded batch per message on signals.<instrument>.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	log     *logrus.Entry

	sub *nats.Subscription
}

// NewNATSSource connects to the NATS server.
func NewNATSSource(cfg NATSConfig) (*NATSSource, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.RetryAttempts),
		nats.ReconnectWait(cfg.RetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSSource{
		conn:    conn,
		subject: cfg.Subject,
		log:     logrus.WithField("component", "nats_source"),
	}, nil
}

// Start subscribes and hands every decoded batch to ingest. Malformed
// messages are logged and dropped; a bad publisher cannot take the
// subscription down.
func (s *NATSSource) Start(ctx context.Context, ingest IngestFunc) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		var batch model.RawBatch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			s.log.WithError(err).WithField("subject", msg.Subject).Warn("dropping malformed signal message")
			return
		}
		if batch.Instrument == "" {
			s.log.WithField("subject", msg.Subject).Warn("dropping signal message without instrument")
			return
		}
		if err := ingest(ctx, batch); err != nil {
			s.log.WithError(err).WithField("instrument", batch.Instrument).Warn("signal ingest failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}

	s.sub = sub
	s.log.WithField("subject", s.subject).Info("push signal source subscribed")
	return nil
}

// Close drains the subscription and closes the connection.
func (s *NATSSource) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.conn.Close()
}
