// Package ingest subscribes to the platform message bus and feeds parsed
// records into the shared state.
package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/saint0x/flywatch/internal/state"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Config holds the bus connection parameters.
type Config struct {
	URL     string
	Token   string
	Subject string
}

// Ingestor owns the bus connection and subscription. Reconnection is
// delegated to the client with a full-jitter exponential delay; the
// connection handlers keep the shared bus_connected flag and the
// subscription_errors counter current.
type Ingestor struct {
	cfg    Config
	st     *state.State
	logger zerolog.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// New creates an ingestor. Start establishes the connection.
func New(cfg Config, st *state.State, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		cfg:    cfg,
		st:     st,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// backoffDelay computes the reconnect delay for the given attempt:
// exponential from backoffBase, capped at backoffCap, with full jitter.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d <= 0 || d > backoffCap {
		d = backoffCap
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Start connects and subscribes, retrying with backoff until the context
// is cancelled. Once connected, the client's own reconnect loop takes
// over; transport failures never surface past the handlers.
func (i *Ingestor) Start(ctx context.Context) error {
	opts := []nats.Option{
		nats.Token(i.cfg.Token),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(func(attempt int) time.Duration {
			return backoffDelay(attempt)
		}),
		nats.DisconnectErrHandler(i.onDisconnect),
		nats.ReconnectHandler(i.onReconnect),
		nats.ErrorHandler(i.onError),
	}

	for attempt := 0; ; attempt++ {
		conn, err := nats.Connect(i.cfg.URL, opts...)
		if err == nil {
			i.conn = conn
			break
		}
		i.st.Stats.IncrSubscriptionErrors()
		delay := backoffDelay(attempt)
		i.logger.Warn().
			Err(err).
			Str("url", i.cfg.URL).
			Dur("retry_in", delay).
			Msg("Bus connect failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	sub, err := i.conn.Subscribe(i.cfg.Subject, func(msg *nats.Msg) {
		i.st.Ingest(msg.Data)
	})
	if err != nil {
		i.conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", i.cfg.Subject, err)
	}
	i.sub = sub

	i.st.Stats.SetBusConnected(true)
	i.logger.Info().
		Str("url", i.cfg.URL).
		Str("subject", i.cfg.Subject).
		Msg("Subscribed to log bus")
	return nil
}

func (i *Ingestor) onDisconnect(_ *nats.Conn, err error) {
	i.st.Stats.SetBusConnected(false)
	i.st.Stats.IncrSubscriptionErrors()
	i.logger.Warn().Err(err).Msg("Disconnected from bus")
}

func (i *Ingestor) onReconnect(conn *nats.Conn) {
	i.st.Stats.SetBusConnected(true)
	i.logger.Info().Str("url", conn.ConnectedUrl()).Msg("Reconnected to bus")
}

func (i *Ingestor) onError(_ *nats.Conn, _ *nats.Subscription, err error) {
	i.logger.Error().Err(err).Msg("Bus subscription error")
}

// Close drains the subscription and closes the connection.
func (i *Ingestor) Close() {
	if i.sub != nil {
		if err := i.sub.Unsubscribe(); err != nil {
			i.logger.Warn().Err(err).Msg("Error unsubscribing from bus")
		}
	}
	if i.conn != nil {
		i.conn.Close()
	}
	i.st.Stats.SetBusConnected(false)
	i.logger.Info().Msg("Bus connection closed")
}
