// Package messaging provides a NATS client wrapper used to announce match
// lifecycle events to other services. It handles connection lifecycle,
// subject-based subscriptions and the arena subject layout.
package messaging

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/arena/internal/logging"
)

// NATS subject patterns for match events.
const (
	SubjectMatchFormed   = "arena.match.formed"   // + .<user_id>
	SubjectMatchVoting   = "arena.match.voting"   // + .<match_id>
	SubjectMatchResolved = "arena.match.resolved" // + .<match_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "arena-matcher",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := logging.With("nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Unsubscribe removes the subscription registered for subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Flush blocks until the server has processed everything published so far.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// PublishMatchFormed notifies a single user that they were paired.
func (c *NATSClient) PublishMatchFormed(userID int64, data []byte) error {
	return c.Publish(MatchFormedSubject(userID), data)
}

// PublishVotingStarted announces that a match entered the voting phase.
func (c *NATSClient) PublishVotingStarted(matchID int64, data []byte) error {
	return c.Publish(MatchVotingSubject(matchID), data)
}

// PublishMatchResolved announces the final result of a match.
func (c *NATSClient) PublishMatchResolved(matchID int64, data []byte) error {
	return c.Publish(MatchResolvedSubject(matchID), data)
}

// SubscribeMatchFormed subscribes to pairing notifications for one user.
func (c *NATSClient) SubscribeMatchFormed(userID int64, handler func(data []byte)) error {
	return c.Subscribe(MatchFormedSubject(userID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// SubscribeMatchResolved subscribes to results for every match.
func (c *NATSClient) SubscribeMatchResolved(handler func(data []byte)) error {
	return c.Subscribe(SubjectMatchResolved+".*", func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

func MatchFormedSubject(userID int64) string {
	return SubjectMatchFormed + "." + strconv.FormatInt(userID, 10)
}

func MatchVotingSubject(matchID int64) string {
	return SubjectMatchVoting + "." + strconv.FormatInt(matchID, 10)
}

func MatchResolvedSubject(matchID int64) string {
	return SubjectMatchResolved + "." + strconv.FormatInt(matchID, 10)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	log := logging.With("nats")

	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("connection drain")
	}

	log.Info().Msg("client closed")
}
