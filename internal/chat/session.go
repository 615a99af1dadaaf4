package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Close codes passed to Transport.Close. They match the WebSocket status codes.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseTryAgainLater   = 1013
)

var (
	// ErrSessionClosed is returned when delivering to a disconnected session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSlowConsumer is returned when a session's send queue is full.
	ErrSlowConsumer = errors.New("session send queue full")
)

// Transport is one bidirectional frame channel to a client.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close(code int, reason string) error
}

// Session is one live client connection: its identity, its two group
// memberships and the goroutines pumping frames in and out.
type Session struct {
	id        string
	member    Membership
	engine    *Engine
	transport Transport
	logger    *slog.Logger

	send chan Outbound

	ctx    context.Context
	cancel context.CancelFunc

	connectedAt time.Time
	mu          sync.Mutex
	closeCode   int
	closeReason string
	closeOnce   sync.Once
	done        chan struct{}
}

func newSession(e *Engine, m Membership) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:     id,
		member: m,
		engine: e,
		logger: e.logger.With("session", id, "user", m.User.ID, "room", m.RoomGroup),
		send:   make(chan Outbound, e.opts.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),

		connectedAt: time.Now(),
	}
}

// closeErr describes why a session ended before it started.
func (s *Session) closeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCode == CloseTryAgainLater {
		return ErrSlowConsumer
	}
	return fmt.Errorf("%w: %s", ErrSessionClosed, s.closeReason)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Membership returns the session's identity and groups.
func (s *Session) Membership() Membership { return s.member }

// Done is closed once the session has disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver queues an event for the write pump without blocking. A full queue
// disconnects the session.
func (s *Session) Deliver(e Outbound) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- e:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		// Disconnect leaves the groups, which needs the lock the publisher holds.
		go s.Disconnect(CloseTryAgainLater, "send queue full")
		return ErrSlowConsumer
	}
}

// Disconnect leaves both groups, closes the transport and stops the pumps.
// Calling it again does nothing.
func (s *Session) Disconnect(code int, reason string) {
	s.closeOnce.Do(func() {
		// start reads the code once done is closed, so both change under mu.
		s.mu.Lock()
		s.closeCode, s.closeReason = code, reason
		close(s.done)
		t := s.transport
		s.mu.Unlock()

		s.engine.fanout.Leave(s.member.RoomGroup, s)
		s.engine.fanout.Leave(s.member.PersonalGroup, s)

		if t != nil {
			if err := t.Close(code, reason); err != nil {
				s.logger.Debug("Transport close failed", "error", err)
			}
		}
		s.cancel()
		s.engine.forget(s)
		s.logger.Info("Session disconnected", "code", code, "reason", reason,
			"duration", time.Since(s.connectedAt).Round(time.Millisecond))
	})
}

// start attaches the accepted transport and runs the pumps. It reports false,
// after closing t with the code the session was disconnected with, when the
// session was already disconnected.
func (s *Session) start(t Transport) bool {
	s.mu.Lock()
	select {
	case <-s.done:
		code, reason := s.closeCode, s.closeReason
		s.mu.Unlock()
		_ = t.Close(code, reason)
		return false
	default:
	}
	s.transport = t
	s.mu.Unlock()

	go s.writePump()
	go s.readPump()
	return true
}

// readPump handles inbound frames one at a time until the transport fails or
// the session is disconnected. Store calls are detached from the session so
// a write already started completes even if the client goes away.
func (s *Session) readPump() {
	for {
		raw, err := s.transport.Read(s.ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("Read ended", "error", err)
			}
			s.Disconnect(CloseNormal, "read closed")
			return
		}

		select {
		case <-s.done:
			return
		default:
		}

		ev, err := DecodeInbound(raw)
		if err != nil {
			s.logger.Debug("Dropping malformed frame", "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.engine.opts.StoreTimeout)
		if err := s.engine.dispatcher.Handle(ctx, s.member, ev); err != nil {
			s.logger.Debug("Dropped inbound event", "error", err)
		}
		cancel()
	}
}

// writePump encodes queued events and writes them to the transport.
func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.send:
			frame, err := Encode(ev)
			if err != nil {
				s.logger.Error("Failed to encode event", "type", ev.Type(), "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(s.ctx, s.engine.opts.WriteTimeout)
			err = s.transport.Write(ctx, frame)
			cancel()
			if err != nil {
				s.logger.Debug("Write failed", "error", err)
				s.Disconnect(CloseGoingAway, "write failed")
				return
			}
		}
	}
}

// Wait blocks until the session disconnects or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
