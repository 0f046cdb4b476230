// Package notify broadcasts ref head updates over Redis pub/sub so
// collaborating API instances can invalidate their replicas.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "catbook:ref:"

// RefUpdate is the payload published when a ref's head changes.
type RefUpdate struct {
	RefID    uuid.UUID `json:"refId"`
	Actor    string    `json:"actor,omitempty"`
	At       time.Time `json:"at"`
	Snapshot int64     `json:"snapshot,omitempty"`
}

type Notifier struct {
	client *redis.Client
}

func New(redisURL string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Notifier{client: client}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Notifier {
	return &Notifier{client: client}
}

func channel(refID uuid.UUID) string {
	return channelPrefix + refID.String()
}

// Publish announces an update of one ref.
func (n *Notifier) Publish(ctx context.Context, update RefUpdate) error {
	if update.At.IsZero() {
		update.At = time.Now()
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal ref update: %w", err)
	}
	if err := n.client.Publish(ctx, channel(update.RefID), payload).Err(); err != nil {
		return fmt.Errorf("publish ref update: %w", err)
	}
	return nil
}

// Subscribe delivers updates of one ref to fn until ctx is cancelled.
// Payloads that do not decode are logged and skipped.
func (n *Notifier) Subscribe(ctx context.Context, refID uuid.UUID, fn func(RefUpdate)) error {
	sub := n.client.Subscribe(ctx, channel(refID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe ref %s: %w", refID, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update RefUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					log.Printf("notify: bad payload on %s: %v", msg.Channel, err)
					continue
				}
				fn(update)
			}
		}
	}()
	return nil
}

func (n *Notifier) Close() error {
	return n.client.Close()
}

func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
