// Package chat is the real-time messaging engine: connection sessions,
// the inbound event dispatcher and the wire codec.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/pubsub"
	"github.com/nfrund/pairchat/internal/room"
)

// Room policies.
const (
	// RoomVerify requires the room name to be "<a>_<b>" with the caller as a
	// participant and uses the canonical key as the group.
	RoomVerify = "verify"
	// RoomTrust uses the requested room name as the group unchanged.
	RoomTrust = "trust"
)

// SessionLifecycle is published on the bus when a session connects or disconnects.
type SessionLifecycle struct {
	SessionID string    `json:"session_id"`
	UserID    int64     `json:"user_id"`
	Room      string    `json:"room"`
	At        time.Time `json:"at"`
}

var (
	// SessionConnected is published after a session has joined its groups
	// and been accepted.
	SessionConnected = pubsub.NewEvent[SessionLifecycle]("chat.session.connected")
	// SessionDisconnected is published once per session after it left its groups.
	SessionDisconnected = pubsub.NewEvent[SessionLifecycle]("chat.session.disconnected")
)

// Options tunes sessions.
type Options struct {
	RoomPolicy    string
	SendBuffer    int
	WriteTimeout  time.Duration
	StoreTimeout  time.Duration
	MaxMessageLen int
	MaxReadIDs    int
}

func (o *Options) setDefaults() {
	if o.RoomPolicy == "" {
		o.RoomPolicy = RoomVerify
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = 4096
	}
	if o.MaxReadIDs <= 0 {
		o.MaxReadIDs = 1000
	}
}

// Engine creates sessions and owns the dispatcher they share.
type Engine struct {
	fanout     Fanout
	users      domain.UserDirectory
	dispatcher *Dispatcher
	bus        pubsub.Publisher
	opts       Options
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewEngine wires an engine. bus may be nil, in which case no lifecycle
// events are published.
func NewEngine(messages domain.MessageStore, users domain.UserDirectory, fanout Fanout, bus pubsub.Publisher, opts Options, logger *slog.Logger) *Engine {
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chat")
	return &Engine{
		fanout:     fanout,
		users:      users,
		dispatcher: NewDispatcher(messages, users, fanout, Limits{
			MaxMessageLen: opts.MaxMessageLen,
			MaxReadIDs:    opts.MaxReadIDs,
		}, logger),
		bus:        bus,
		opts:       opts,
		logger:     logger,
		sessions:   make(map[*Session]struct{}),
	}
}

// ResolveRoom works out the groups a user gets for the requested room name.
func (e *Engine) ResolveRoom(ctx context.Context, user *domain.User, roomName string) (Membership, error) {
	m := Membership{User: user, PersonalGroup: room.PersonalGroup(user.ID)}

	if e.opts.RoomPolicy == RoomTrust {
		if roomName == "" {
			return Membership{}, fmt.Errorf("%w: empty room name", domain.ErrInvalidRoom)
		}
		m.RoomGroup = room.Group(roomName)
		return m, nil
	}

	partnerID, err := room.Partner(roomName, user.ID)
	if err != nil {
		return Membership{}, err
	}
	if _, err := e.users.GetUser(ctx, partnerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Membership{}, fmt.Errorf("%w: unknown partner %d", domain.ErrInvalidRoom, partnerID)
		}
		return Membership{}, fmt.Errorf("resolve partner: %w", err)
	}
	m.RoomGroup = room.Group(room.Key(user.ID, partnerID))
	m.PartnerID = partnerID
	return m, nil
}

// Connect admits user into roomName. Both group joins complete before accept
// is called, and accept is what completes the client handshake, so no frame
// is read before the session is fully subscribed. If accept fails the joins
// are undone.
func (e *Engine) Connect(ctx context.Context, user *domain.User, roomName string, accept func() (Transport, error)) (*Session, error) {
	if user == nil || user.ID <= 0 {
		return nil, domain.ErrUnauthenticated
	}

	m, err := e.ResolveRoom(ctx, user, roomName)
	if err != nil {
		return nil, err
	}

	s := newSession(e, m)
	if err := e.fanout.Join(m.RoomGroup, s); err != nil {
		return nil, fmt.Errorf("join room group: %w", err)
	}
	if err := e.fanout.Join(m.PersonalGroup, s); err != nil {
		e.fanout.Leave(m.RoomGroup, s)
		return nil, fmt.Errorf("join personal group: %w", err)
	}

	t, err := accept()
	if err != nil {
		e.fanout.Leave(m.RoomGroup, s)
		e.fanout.Leave(m.PersonalGroup, s)
		return nil, fmt.Errorf("accept: %w", err)
	}

	e.mu.Lock()
	e.sessions[s] = struct{}{}
	e.mu.Unlock()
	e.publishLifecycle(SessionConnected, s)

	if !s.start(t) {
		e.forget(s)
		return nil, s.closeErr()
	}
	s.logger.Info("Session connected")
	return s, nil
}

func (e *Engine) forget(s *Session) {
	e.mu.Lock()
	_, ok := e.sessions[s]
	delete(e.sessions, s)
	e.mu.Unlock()
	if ok {
		e.publishLifecycle(SessionDisconnected, s)
	}
}

func (e *Engine) publishLifecycle(ev pubsub.Event[SessionLifecycle], s *Session) {
	if e.bus == nil {
		return
	}
	payload := SessionLifecycle{
		SessionID: s.id,
		UserID:    s.member.User.ID,
		Room:      s.member.RoomGroup,
		At:        time.Now().UTC(),
	}
	if err := pubsub.Publish(context.Background(), e.bus, ev, s.member.User.ID, payload); err != nil {
		e.logger.Error("Failed to publish session lifecycle", "topic", ev.Name(), "error", err)
	}
}

// Active returns the number of connected sessions.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Shutdown disconnects every session with "going away".
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Disconnect(CloseGoingAway, "server shutting down")
		}()
	}
	wg.Wait()
	return nil
}
