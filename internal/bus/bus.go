// Package bus implements the broadcast bus interface spec.md §6 describes:
// a one-way publisher for the "slave_fetch" event over Google Cloud
// Pub/Sub, grounded on pkg/pubsub.Publish, and an HTTP-based request/reply
// fan-out for the "get_slaves_status"/"get_source_status" broadcast RPCs,
// grounded on golang.org/x/sync/errgroup.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/go-logr/logr"
)

// SlaveFetchEvent is the one-way notification published after every
// refresh, spec.md §4.1: "a broadcast event named slave_fetch with
// parameter {id}".
type SlaveFetchEvent struct {
	SourceID string `json:"source_id"`
}

// Publisher is the one-way side of the bus.
type Publisher interface {
	PublishSlaveFetch(ctx context.Context, sourceID string) error
	Close() error
}

// PubSubPublisher publishes SlaveFetchEvent messages to a Cloud Pub/Sub
// topic. Mirrors pkg/pubsub.Publish's client-per-call-then-close shape,
// except the client is held open for the process lifetime to avoid
// reconnecting on every refresh.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    logr.Logger
}

var _ Publisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher opens a client against projectID and resolves topicID,
// creating it if absent.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, log logr.Logger) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub: checking topic %s: %w", topicID, err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("pubsub: creating topic %s: %w", topicID, err)
		}
	}

	return &PubSubPublisher{client: client, topic: topic, log: log}, nil
}

func (p *PubSubPublisher) PublishSlaveFetch(ctx context.Context, sourceID string) error {
	body, err := json.Marshal(SlaveFetchEvent{SourceID: sourceID})
	if err != nil {
		return fmt.Errorf("encoding slave_fetch event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{"event": "slave_fetch"},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("pubsub: publishing slave_fetch(%s): %w", sourceID, err)
	}
	p.log.V(1).Info("published slave_fetch", "source_id", sourceID, "message_id", id)
	return nil
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

// NoopPublisher discards slave_fetch events, for standalone deployments
// with no PUBSUB_PROJECT_ID configured.
type NoopPublisher struct{}

var _ Publisher = NoopPublisher{}

func (NoopPublisher) PublishSlaveFetch(context.Context, string) error { return nil }
func (NoopPublisher) Close() error                                   { return nil }

// Subscription consumes slave_fetch events. Every node, master included,
// subscribes when a Pub/Sub project is configured; master_dispatch only
// decides whether events naming the synthetic master source are acted on.
type Subscription interface {
	Receive(ctx context.Context, handler func(ctx context.Context, sourceID string)) error
}

// PubSubSubscription wraps a per-process Pub/Sub subscription bound to the
// shared topic; each node creates its own subscription (by hostname) so
// every node sees every event rather than competing for deliveries.
type PubSubSubscription struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
}

var _ Subscription = (*PubSubSubscription)(nil)

// NewPubSubSubscription creates (or reuses) a subscription named
// "<topicID>-<nodeName>" bound to topicID.
func NewPubSubSubscription(ctx context.Context, projectID, topicID, nodeName string) (*PubSubSubscription, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	subID := topicID + "-" + nodeName
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub: checking subscription %s: %w", subID, err)
	}
	if !exists {
		sub, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("pubsub: creating subscription %s: %w", subID, err)
		}
	}

	return &PubSubSubscription{client: client, sub: sub}, nil
}

func (s *PubSubSubscription) Receive(ctx context.Context, handler func(ctx context.Context, sourceID string)) error {
	return s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		var evt SlaveFetchEvent
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			m.Nack()
			return
		}
		handler(ctx, evt.SourceID)
		m.Ack()
	})
}

func (s *PubSubSubscription) Close() error {
	return s.client.Close()
}
