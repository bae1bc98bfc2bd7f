// Package session accepts websocket clients, authenticates them and routes their messages.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Session is one websocket connection. Identity fields are written by the Manager loop and read
// under mu by broadcasters.
type Session struct {
	ID          string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu            sync.RWMutex
	authenticated bool
	userID        string
	username      string
	role          domain.Role
}

func newSession(id string, conn *websocket.Conn, buffer int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:          id,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, buffer),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Identity returns the authenticated user of the session.
func (s *Session) Identity() (userID, username string, role domain.Role, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.username, s.role, s.authenticated
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated && s.role == domain.RoleAdmin
}

func (s *Session) setIdentity(u *domain.User) {
	s.mu.Lock()
	s.authenticated = true
	s.userID = u.ID
	s.username = u.Username
	s.role = u.Role
	s.mu.Unlock()
}

func (s *Session) Closed() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// enqueue hands a frame to the write pump. A full buffer means the client cannot keep up and
// the session is closed.
func (s *Session) enqueue(frame []byte) {
	if s.Closed() {
		return
	}
	select {
	case s.send <- frame:
	default:
		obslog.L().Warn("session_slow_close", zap.String("session_id", s.ID), zap.Int("buffer", cap(s.send)))
		s.close(websocket.StatusPolicyViolation, "send buffer full")
	}
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.conn != nil {
			_ = s.conn.Close(code, reason)
		}
	})
}

func (s *Session) writePump(writeTimeout, pingInterval time.Duration) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		s.close(websocket.StatusNormalClosure, "")
	}()
	for {
		select {
		case frame := <-s.send:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				obslog.L().Debug("session_write_error", zap.String("session_id", s.ID), zap.Error(err))
				return
			}
		case <-ping.C:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				obslog.L().Debug("session_ping_error", zap.String("session_id", s.ID), zap.Error(err))
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
