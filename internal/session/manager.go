package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/guard"
	"github.com/park285/matka-round-server/internal/ledger"
	"github.com/park285/matka-round-server/internal/msgcat"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/park285/matka-round-server/internal/orchestrator"
	"github.com/park285/matka-round-server/internal/roundclock"
	"github.com/park285/matka-round-server/internal/wallet"
	"github.com/park285/matka-round-server/pkg/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	// OriginPatterns is passed to websocket.Accept; empty allows any origin.
	OriginPatterns []string
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		ReadLimit:    64 << 10,
	}
}

// Deps are the collaborators messages are routed to.
type Deps struct {
	Auth     Authenticator
	Limiter  *guard.AuthLimiter
	Ledger   *ledger.Ledger
	Wallet   *wallet.Service
	Rounds   *orchestrator.Orchestrator
	Messages *msgcat.Catalog
}

type inboundFrame struct {
	s    *Session
	data []byte
}

// Manager tracks live sessions. Run is the single consumer of inbound frames and clock events;
// Send, Broadcast and SendToUser may be called from any goroutine.
type Manager struct {
	deps Deps
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session

	inbound chan inboundFrame
	left    chan *Session
	settled chan func()
	done    chan struct{}
	runOnce sync.Once
}

func NewManager(deps Deps, opts Options) *Manager {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if deps.Messages == nil {
		deps.Messages = msgcat.MustDefault()
	}
	m := &Manager{
		deps:     deps,
		opts:     opts,
		sessions: make(map[string]*Session),
		inbound:  make(chan inboundFrame, 256),
		left:     make(chan *Session, 64),
		settled:  make(chan func(), 256),
		done:     make(chan struct{}),
	}
	if deps.Wallet != nil {
		deps.Wallet.SetNotifier(m)
	}
	if deps.Rounds != nil {
		deps.Rounds.SetBroadcaster(m)
	}
	return m
}

// Run processes inbound frames, disconnects and clock events one at a time until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	defer m.runOnce.Do(func() { close(m.done) })
	var clock <-chan roundclock.Event
	if m.deps.Rounds != nil {
		clock = m.deps.Rounds.ClockEvents()
	}
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case f := <-m.inbound:
			m.handleFrame(ctx, f.s, f.data)
		case s := <-m.left:
			if m.remove(s) {
				m.broadcastUsersList()
			}
		case fn := <-m.settled:
			fn()
		case ev := <-clock:
			m.deps.Rounds.HandleClockEvent(ctx, ev)
		}
	}
}

// offload runs work on its own goroutine and hands the continuation it returns back to Run,
// so password hashing and storage round trips never hold up other sessions or the clock.
func (m *Manager) offload(work func() func()) {
	go func() {
		fn := work()
		if fn == nil {
			return
		}
		select {
		case m.settled <- fn:
		case <-m.done:
		}
	}()
}

// ServeHTTP upgrades the request and pumps frames until the client goes away.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     m.opts.OriginPatterns,
		InsecureSkipVerify: len(m.opts.OriginPatterns) == 0,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(m.opts.ReadLimit)

	s := newSession(uuid.NewString(), conn, m.opts.SendBuffer)
	m.add(s)
	obslog.L().Info("session_open", zap.String("session_id", s.ID), zap.String("remote", r.RemoteAddr))
	go s.writePump(m.opts.WriteTimeout, m.opts.PingInterval)

	defer func() {
		s.close(websocket.StatusNormalClosure, "")
		select {
		case m.left <- s:
		case <-m.done:
			m.remove(s)
		}
		obslog.L().Info("session_closed", zap.String("session_id", s.ID))
	}()

	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				obslog.L().Debug("session_read_error", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		select {
		case m.inbound <- inboundFrame{s: s, data: data}:
		case <-s.ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// remove reports whether s was registered.
func (m *Manager) remove(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return false
	}
	delete(m.sessions, s.ID)
	return true
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.close(websocket.StatusGoingAway, "server shutdown")
	}
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func encode(ev wire.Event) ([]byte, bool) {
	b, err := json.Marshal(ev)
	if err != nil {
		obslog.L().Error("event_encode_failed", zap.String("type", ev.Type), zap.Error(err))
		return nil, false
	}
	return b, true
}

// Send queues ev for s. It is a no-op for nil or closed sessions.
func (m *Manager) Send(s *Session, ev wire.Event) {
	if s == nil || s.Closed() {
		return
	}
	if b, ok := encode(ev); ok {
		s.enqueue(b)
	}
}

// Broadcast queues ev for every authenticated session. A failing session never stops the rest.
func (m *Manager) Broadcast(ev wire.Event) {
	b, ok := encode(ev)
	if !ok {
		return
	}
	for _, s := range m.snapshot() {
		if s.Authenticated() {
			s.enqueue(b)
		}
	}
}

// SendToUser queues ev for every authenticated session of userID.
func (m *Manager) SendToUser(userID string, ev wire.Event) {
	var b []byte
	for _, s := range m.snapshot() {
		id, _, _, ok := s.Identity()
		if !ok || id != userID {
			continue
		}
		if b == nil {
			var encoded bool
			if b, encoded = encode(ev); !encoded {
				return
			}
		}
		s.enqueue(b)
	}
}

func (m *Manager) sendToAdmins(ev wire.Event) {
	var b []byte
	for _, s := range m.snapshot() {
		if !s.IsAdmin() {
			continue
		}
		if b == nil {
			var encoded bool
			if b, encoded = encode(ev); !encoded {
				return
			}
		}
		s.enqueue(b)
	}
}

// UsersList lists authenticated users, one entry per user, ordered by username.
func (m *Manager) UsersList() []wire.UserSummary {
	seen := make(map[string]bool)
	var out []wire.UserSummary
	for _, s := range m.snapshot() {
		id, name, role, ok := s.Identity()
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, wire.UserSummary{ID: id, Username: name, IsAdmin: role == domain.RoleAdmin})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (m *Manager) broadcastUsersList() {
	m.Broadcast(wire.NewUsersList(m.UsersList()))
}
