package kv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriberLogPrefix = "kv:subscriber"

// Listener handles one decoded pub/sub message.
type Listener func(ctx context.Context, message interface{}) error

// Subscriber fans JSON messages of Redis channels out to listeners.
type Subscriber struct {
	client redis.UniversalClient

	mu        sync.Mutex
	listeners map[string][]Listener
	pubsub    *redis.PubSub
}

// NewSubscriber creates a Subscriber with no listeners.
func NewSubscriber(client redis.UniversalClient) *Subscriber {
	return &Subscriber{client: client, listeners: make(map[string][]Listener)}
}

// Use sets the listeners of channel.
func (s *Subscriber) Use(channel string, fns ...Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[channel] = fns
}

// Run subscribes to every channel with listeners and dispatches messages until ctx ends or
// Stop is called. Listener errors are logged.
func (s *Subscriber) Run(ctx context.Context) error {
	s.mu.Lock()
	channels := make([]string, 0, len(s.listeners))
	for ch := range s.listeners {
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%s - no listeners registered", subscriberLogPrefix)
	}
	pubsub := s.client.Subscribe(ctx, channels...)
	s.pubsub = pubsub
	s.mu.Unlock()

	// Wait for the subscription confirmation so publishes after Run starts are seen.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("%s - failed to subscribe: %w", subscriberLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Listening on %v", subscriberLogPrefix, channels))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Stop()
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.dispatch(ctx, msg)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, msg *redis.Message) {
	s.mu.Lock()
	fns := s.listeners[msg.Channel]
	s.mu.Unlock()

	payload, err := decode[interface{}](msg.Payload)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - dropping message on %s: %v", subscriberLogPrefix, msg.Channel, err))
		return
	}
	for _, fn := range fns {
		if err := fn(ctx, payload); err != nil {
			slog.Error(fmt.Sprintf("%s - listener on %s failed: %v", subscriberLogPrefix, msg.Channel, err))
		}
	}
}

// Stop closes the subscription, which makes Run return nil.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubsub == nil {
		return nil
	}
	err := s.pubsub.Close()
	s.pubsub = nil
	return err
}

// Publish sends value as JSON on channel.
func Publish(ctx context.Context, client redis.UniversalClient, channel string, value interface{}) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("%s - failed to publish on %s: %w", subscriberLogPrefix, channel, err)
	}
	return nil
}
