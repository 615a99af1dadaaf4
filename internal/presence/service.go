// Package presence derives each user's online flag from chat session
// lifecycle events and writes it to the user directory.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nfrund/pairchat/internal/chat"
	"github.com/nfrund/pairchat/internal/pubsub"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

const (
	// OfflineDebounceDelay is the time to wait before marking a user as offline
	// after their last session closes. It absorbs page reloads and quick
	// reconnects. Override it with WithOfflineDebounce.
	OfflineDebounceDelay = 5 * time.Second

	defaultWriteTimeout = 5 * time.Second
)

// StatusUpdate is published whenever a user's online flag changes.
type StatusUpdate struct {
	UserID int64     `json:"user_id"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// TopicStatusUpdate carries StatusUpdate events.
var TopicStatusUpdate = pubsub.NewEvent[StatusUpdate]("presence.status_update")

// Presence is a snapshot of one online user.
type Presence struct {
	UserID   int64     `json:"user_id"`
	Status   Status    `json:"status"`
	Sessions int       `json:"sessions"`
	Since    time.Time `json:"since"`
}

// Directory is the part of the user directory presence writes to.
type Directory interface {
	SetOnline(ctx context.Context, id int64, online bool, at time.Time) error
}

type Service struct {
	mu       sync.Mutex
	sessions map[int64]map[string]time.Time // userID -> sessionID -> connected at
	gone     map[string]struct{}            // disconnects that overtook their connect event
	offline  map[int64]*time.Timer          // pending debounced offline writes
	closed   bool

	writeMu sync.Mutex
	written map[int64]bool

	directory Directory
	publisher pubsub.Publisher
	logger    *slog.Logger

	offlineDebounceDelay time.Duration
	writeTimeout         time.Duration
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithOfflineDebounce sets the delay before a user with no sessions is
// marked offline. Zero marks them offline immediately.
func WithOfflineDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.offlineDebounceDelay = d
	}
}

// WithPublisher publishes a StatusUpdate on every online flag change.
func WithPublisher(p pubsub.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l.With("service", "presence")
	}
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// NewService creates a presence service. Call Start to begin consuming
// session lifecycle events.
func NewService(directory Directory, opts ...Option) *Service {
	svc := &Service{
		sessions:             make(map[int64]map[string]time.Time),
		gone:                 make(map[string]struct{}),
		offline:              make(map[int64]*time.Timer),
		written:              make(map[int64]bool),
		directory:            directory,
		logger:               slog.Default().With("service", "presence"),
		offlineDebounceDelay: OfflineDebounceDelay,
		writeTimeout:         defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Start subscribes to the chat session lifecycle topics.
func (s *Service) Start(ctx context.Context, subscriber pubsub.Subscriber) error {
	if err := pubsub.Subscribe(ctx, subscriber, chat.SessionConnected, s.handleConnected); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, subscriber, chat.SessionDisconnected, s.handleDisconnected); err != nil {
		return err
	}
	s.logger.Info("Presence service started",
		"connected_topic", chat.SessionConnected.Name(),
		"disconnected_topic", chat.SessionDisconnected.Name())
	return nil
}

func (s *Service) handleConnected(_ context.Context, ev chat.SessionLifecycle) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.gone[ev.SessionID]; ok {
		delete(s.gone, ev.SessionID)
		s.mu.Unlock()
		return nil
	}

	if timer, ok := s.offline[ev.UserID]; ok {
		timer.Stop()
		delete(s.offline, ev.UserID)
		s.logger.Debug("Cancelled offline debounce due to reconnection", "user_id", ev.UserID)
	}

	userSessions := s.sessions[ev.UserID]
	if userSessions == nil {
		userSessions = make(map[string]time.Time)
		s.sessions[ev.UserID] = userSessions
	}
	userSessions[ev.SessionID] = ev.At
	s.logger.Debug("Session opened", "user_id", ev.UserID, "sessions", len(userSessions))
	s.mu.Unlock()

	s.sync(ev.UserID)
	return nil
}

func (s *Service) handleDisconnected(_ context.Context, ev chat.SessionLifecycle) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	userSessions := s.sessions[ev.UserID]
	if _, ok := userSessions[ev.SessionID]; !ok {
		s.gone[ev.SessionID] = struct{}{}
		s.mu.Unlock()
		return nil
	}
	delete(userSessions, ev.SessionID)
	if len(userSessions) > 0 {
		s.logger.Debug("Session closed", "user_id", ev.UserID, "remaining", len(userSessions))
		s.mu.Unlock()
		return nil
	}
	delete(s.sessions, ev.UserID)

	if s.offlineDebounceDelay > 0 {
		userID := ev.UserID
		if timer, ok := s.offline[userID]; ok {
			timer.Stop()
		}
		var timer *time.Timer
		timer = time.AfterFunc(s.offlineDebounceDelay, func() {
			s.handleDebouncedOffline(userID, &timer)
		})
		s.offline[userID] = timer
		s.logger.Debug("Scheduling offline update", "user_id", userID, "debounce_delay", s.offlineDebounceDelay)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.sync(ev.UserID)
	return nil
}

// handleDebouncedOffline runs when a debounce timer fires. A reconnect during
// the debounce period keeps the user online.
func (s *Service) handleDebouncedOffline(userID int64, timer **time.Timer) {
	s.mu.Lock()
	if s.offline[userID] != *timer {
		s.mu.Unlock()
		return
	}
	delete(s.offline, userID)
	s.mu.Unlock()
	s.sync(userID)
}

// sync writes the user's current online flag to the directory if it differs
// from the last one written. Writes are serialized so a late offline write
// cannot overtake a newer online one.
func (s *Service) sync(userID int64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	_, pending := s.offline[userID]
	online := len(s.sessions[userID]) > 0 || pending
	if s.closed {
		online = false
	}
	s.mu.Unlock()

	if last, ok := s.written[userID]; ok && last == online {
		return
	}

	now := Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.directory.SetOnline(ctx, userID, online, now); err != nil {
		s.logger.Error("Failed to update online flag", "user_id", userID, "online", online, "error", err)
		return
	}
	s.written[userID] = online

	status := StatusOffline
	if online {
		status = StatusOnline
	}
	s.logger.Info("User status changed", "user_id", userID, "status", status)

	if s.publisher == nil {
		return
	}
	update := StatusUpdate{UserID: userID, Status: status, At: now}
	if err := pubsub.Publish(ctx, s.publisher, TopicStatusUpdate, userID, update); err != nil {
		s.logger.Error("Failed to publish presence update", "topic", TopicStatusUpdate.Name(), "error", err)
	}
}

// GetPresence returns the presence of an online user.
func (s *Service) GetPresence(userID int64) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userSessions := s.sessions[userID]
	if len(userSessions) == 0 {
		return Presence{}, false
	}
	p := Presence{UserID: userID, Status: StatusOnline, Sessions: len(userSessions)}
	for _, at := range userSessions {
		if p.Since.IsZero() || at.Before(p.Since) {
			p.Since = at
		}
	}
	return p, true
}

// OnlineUsers returns the ids of users with at least one session, ascending.
func (s *Service) OnlineUsers() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]int64, 0, len(s.sessions))
	for userID, userSessions := range s.sessions {
		if len(userSessions) > 0 {
			result = append(result, userID)
		}
	}
	slices.Sort(result)
	return result
}

// Shutdown stops event handling and marks every user this service put
// online as offline.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for userID, timer := range s.offline {
		timer.Stop()
		delete(s.offline, userID)
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	users := make([]int64, 0, len(s.written))
	for userID, online := range s.written {
		if online {
			users = append(users, userID)
		}
	}
	s.writeMu.Unlock()

	for _, userID := range users {
		s.sync(userID)
	}
}
