package relayhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Publisher delivers an encoded event. Implementations map the event type
// onto their own channel or subject naming.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
}

// subject joins prefix and eventType with a dot. An empty prefix leaves
// the event type as is.
func subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return strings.TrimSuffix(prefix, ".") + "." + eventType
}

// ── Redis ───────────────────────────────────────────

// RedisPublisher publishes events with Redis PUBLISH. The channel is the
// prefix joined with the event type.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisPublisher returns a publisher writing through client.
func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the Redis channel used for eventType.
func (p *RedisPublisher) Channel(eventType string) string {
	return subject(p.prefix, eventType)
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	if err := p.client.Publish(ctx, p.Channel(eventType), payload).Err(); err != nil {
		return fmt.Errorf("relayhook: redis publish: %w", err)
	}
	return nil
}

// ── NATS ────────────────────────────────────────────

// NATSPublisher publishes events on NATS subjects. The subject is the
// prefix joined with the event type.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher returns a publisher writing through conn.
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// DialNATS connects to the NATS server at url.
func DialNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("relayhook: nats connect: %w", err)
	}
	return nc, nil
}

// Subject returns the NATS subject used for eventType.
func (p *NATSPublisher) Subject(eventType string) string {
	return subject(p.prefix, eventType)
}

// Publish implements Publisher. NATS buffers publishes client side, so
// the context only guards against publishing after it ended.
func (p *NATSPublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Publish(p.Subject(eventType), payload); err != nil {
		return fmt.Errorf("relayhook: nats publish: %w", err)
	}
	return nil
}
