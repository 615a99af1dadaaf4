// Package broker implements named-group fan-out for chat sessions.
//
// Each group has its own lock; the broker-wide lock only guards the group
// map and is never held while delivering. Publishes to one group are
// serialized, so every subscriber observes them in call order.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nfrund/pairchat/internal/pubsub"
)

// FanoutTopic is the bus topic used to mirror group publishes between nodes.
const FanoutTopic = "chat.fanout"

const (
	metaGroup  = "group"
	metaOrigin = "origin"
)

// ErrClosed is returned by Join after Close.
var ErrClosed = errors.New("broker closed")

// Subscriber receives events published to the groups it joined. Deliver
// must not block; a returned error marks that subscriber's delivery as
// failed without affecting the others.
type Subscriber[E any] interface {
	Deliver(event E) error
}

type group[E any] struct {
	mu      sync.Mutex
	members map[Subscriber[E]]struct{}
	dead    atomic.Bool
}

// Broker is a registry of named groups and their subscribers.
type Broker[E any] struct {
	mu     sync.Mutex
	groups map[string]*group[E]
	closed bool

	nodeID string
	logger *slog.Logger

	mirror pubsub.Publisher
	encode func(E) ([]byte, error)
}

// Option configures a Broker.
type Option[E any] func(*Broker[E])

// WithLogger sets the broker's logger.
func WithLogger[E any](l *slog.Logger) Option[E] {
	return func(b *Broker[E]) { b.logger = l }
}

// WithMirror copies every publish onto the bus so brokers on other nodes
// that called Attach can deliver it to their own subscribers.
func WithMirror[E any](pub pubsub.Publisher, encode func(E) ([]byte, error)) Option[E] {
	return func(b *Broker[E]) {
		b.mirror = pub
		b.encode = encode
	}
}

// New creates an empty broker.
func New[E any](opts ...Option[E]) *Broker[E] {
	b := &Broker[E]{
		groups: make(map[string]*group[E]),
		nodeID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "broker", "node", b.nodeID)
	return b
}

// NodeID identifies this broker on the bus.
func (b *Broker[E]) NodeID() string {
	return b.nodeID
}

// lookupOrCreate returns the live group for name, replacing a group that is
// being discarded by a concurrent Leave.
func (b *Broker[E]) lookupOrCreate(name string) (*group[E], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	g := b.groups[name]
	if g == nil || g.dead.Load() {
		g = &group[E]{members: make(map[Subscriber[E]]struct{})}
		b.groups[name] = g
	}
	return g, nil
}

func (b *Broker[E]) lookup(name string) *group[E] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.groups[name]
}

// Join adds sub to the named group, creating the group if needed.
// Joining twice is a no-op.
func (b *Broker[E]) Join(name string, sub Subscriber[E]) error {
	for {
		g, err := b.lookupOrCreate(name)
		if err != nil {
			return err
		}
		g.mu.Lock()
		if g.dead.Load() {
			g.mu.Unlock()
			continue
		}
		g.members[sub] = struct{}{}
		g.mu.Unlock()
		return nil
	}
}

// Leave removes sub from the named group and discards the group once it is
// empty. Leaving a group sub is not in, or one that does not exist, is a no-op.
func (b *Broker[E]) Leave(name string, sub Subscriber[E]) {
	g := b.lookup(name)
	if g == nil {
		return
	}

	g.mu.Lock()
	delete(g.members, sub)
	empty := len(g.members) == 0
	if empty {
		g.dead.Store(true)
	}
	g.mu.Unlock()

	if empty {
		b.mu.Lock()
		if b.groups[name] == g {
			delete(b.groups, name)
		}
		b.mu.Unlock()
	}
}

// Publish delivers event to every current subscriber of the named group and
// returns how many accepted it. Publishing to an empty or unknown group is
// not an error. With a mirror configured the event is also sent to the bus.
func (b *Broker[E]) Publish(ctx context.Context, name string, event E) int {
	delivered := b.deliver(name, event)
	if b.mirror != nil {
		if err := b.publishMirror(ctx, name, event); err != nil {
			b.logger.Error("Failed to mirror publish", "group", name, "error", err)
		}
	}
	return delivered
}

func (b *Broker[E]) deliver(name string, event E) int {
	g := b.lookup(name)
	if g == nil {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	delivered := 0
	for sub := range g.members {
		if err := sub.Deliver(event); err != nil {
			b.logger.Warn("Delivery failed", "group", name, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (b *Broker[E]) publishMirror(ctx context.Context, name string, event E) error {
	payload, err := b.encode(event)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return b.mirror.Publish(ctx, pubsub.Message{
		Topic:   FanoutTopic,
		Payload: payload,
		Metadata: map[string]string{
			metaGroup:  name,
			metaOrigin: b.nodeID,
		},
	})
}

// Attach delivers events mirrored by other brokers to local subscribers.
// Events this broker mirrored itself are skipped.
func (b *Broker[E]) Attach(ctx context.Context, sub pubsub.Subscriber, decode func([]byte) (E, error)) error {
	return sub.Subscribe(ctx, FanoutTopic, func(_ context.Context, msg pubsub.Message) error {
		if msg.Metadata[metaOrigin] == b.nodeID {
			return nil
		}
		name := msg.Metadata[metaGroup]
		if name == "" {
			return errors.New("mirrored event without group")
		}
		event, err := decode(msg.Payload)
		if err != nil {
			return fmt.Errorf("decode mirrored event: %w", err)
		}
		b.deliver(name, event)
		return nil
	})
}

// Members returns the subscriber count of the named group.
func (b *Broker[E]) Members(name string) int {
	g := b.lookup(name)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Groups returns the number of live groups.
func (b *Broker[E]) Groups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}

// Close drops every group. Subsequent joins fail with ErrClosed.
func (b *Broker[E]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for name, g := range b.groups {
		g.dead.Store(true)
		delete(b.groups, name)
	}
	return nil
}
