package session

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/ledger"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/park285/matka-round-server/internal/orchestrator"
	"github.com/park285/matka-round-server/pkg/wire"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (m *Manager) handleFrame(ctx context.Context, s *Session, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		m.invalidPayload(s)
		return
	}
	m.Dispatch(ctx, s, env)
}

// Dispatch routes one message. Before authentication only auth is accepted; anything else is
// dropped without a reply. Unknown kinds are ignored.
func (m *Manager) Dispatch(ctx context.Context, s *Session, env wire.Envelope) {
	if env.Type != wire.TypeAuth && !s.Authenticated() {
		obslog.L().Debug("drop_unauthenticated", zap.String("session_id", s.ID), zap.String("type", env.Type))
		return
	}
	switch env.Type {
	case wire.TypeAuth:
		var req wire.AuthRequest
		if err := env.Decode(&req); err != nil {
			m.invalidPayload(s)
			return
		}
		m.offload(func() func() {
			u, err := m.verify(ctx, s, req)
			return func() { m.finishAuth(s, u, err) }
		})
	case wire.TypePlaceBet:
		var req wire.PlaceBetRequest
		if err := env.Decode(&req); err != nil {
			m.invalidPayload(s)
			return
		}
		m.offload(func() func() { return m.placeBet(ctx, s, req) })
	case wire.TypeGetWallet:
		m.offload(func() func() { return m.sendWallet(ctx, s) })
	case wire.TypeGetGameState:
		if m.deps.Rounds != nil {
			m.Send(s, wire.NewGameState(m.deps.Rounds.Snapshot()))
		}
	case wire.TypeAdminAction:
		var act wire.AdminAction
		if err := env.Decode(&act); err != nil {
			m.invalidPayload(s)
			return
		}
		m.adminAction(ctx, s, act)
	default:
		obslog.L().Debug("ignore_unknown_type", zap.String("session_id", s.ID), zap.String("type", env.Type))
	}
}

func (m *Manager) invalidPayload(s *Session) {
	m.Send(s, wire.NewError("invalid_message", m.deps.Messages.Text("message.invalid_format", "Invalid message format", nil)))
}

func (m *Manager) sendError(s *Session, err error) {
	m.Send(s, wire.NewError(domain.CodeOf(err), m.deps.Messages.ErrorText(err)))
}

// Authenticate verifies credentials and binds the identity to s. Failures are answered with
// auth_response{success:false}; the session stays unauthenticated.
func (m *Manager) Authenticate(ctx context.Context, s *Session, req wire.AuthRequest) bool {
	u, err := m.verify(ctx, s, req)
	return m.finishAuth(s, u, err)
}

// verify does the blocking part of authentication: the throttle lookup and the password check.
func (m *Manager) verify(ctx context.Context, s *Session, req wire.AuthRequest) (*domain.User, error) {
	username := strings.TrimSpace(req.Username)
	if err := m.deps.Limiter.Check(ctx, username); err != nil {
		obslog.L().Warn("auth_throttled", zap.String("session_id", s.ID), zap.String("username", username), zap.Error(err))
		return nil, err
	}
	u, err := m.deps.Auth.Verify(ctx, username, req.Password)
	if err != nil {
		if domain.KindOf(err) == domain.KindAuth {
			_ = m.deps.Limiter.Fail(ctx, username)
		}
		obslog.L().Info("auth_failed", zap.String("session_id", s.ID), zap.String("username", username), zap.String("code", domain.CodeOf(err)))
		return nil, err
	}
	_ = m.deps.Limiter.Reset(ctx, username)
	return u, nil
}

func (m *Manager) finishAuth(s *Session, u *domain.User, err error) bool {
	if err != nil {
		m.Send(s, wire.NewAuthResponse(wire.AuthResponsePayload{
			Success: false,
			Code:    domain.CodeOf(err),
			Message: m.deps.Messages.ErrorText(err),
		}))
		return false
	}
	if s.Closed() {
		return false
	}
	s.setIdentity(u)
	obslog.L().Info("auth_ok", zap.String("session_id", s.ID), zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	m.Send(s, wire.NewAuthResponse(wire.AuthResponsePayload{
		Success: true,
		Message: m.deps.Messages.Text("auth.ok", "Welcome", map[string]any{"Username": u.Username}),
		User:    &wire.UserInfo{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin(), WalletBalance: u.Balance},
	}))
	if m.deps.Rounds != nil {
		m.Send(s, wire.NewGameState(m.deps.Rounds.Snapshot()))
	}
	m.broadcastUsersList()
	return true
}

func wagerInfo(w *domain.Wager) wire.WagerInfo {
	return wire.WagerInfo{
		ID:              w.ID,
		RoundID:         w.RoundID,
		Kind:            string(w.Kind),
		Number:          w.Number,
		Amount:          w.Stake,
		PotentialPayout: w.PotentialPayout,
		Status:          string(w.Status),
	}
}

// placeBet runs the ledger call and returns the replies to send from Run.
func (m *Manager) placeBet(ctx context.Context, s *Session, req wire.PlaceBetRequest) func() {
	userID, username, _, _ := s.Identity()
	placed, err := m.deps.Ledger.PlaceWager(ctx, userID, ledger.Request{
		Kind:   domain.BetKind(strings.TrimSpace(req.Kind)),
		Number: req.Number,
		Stake:  req.Amount,
	})
	if err != nil {
		return func() {
			m.Send(s, wire.NewBetResponse(wire.BetResponsePayload{
				Success: false,
				Code:    domain.CodeOf(err),
				Message: m.deps.Messages.ErrorText(err),
			}))
		}
	}
	info := wagerInfo(placed.Wager)
	return func() {
		m.Send(s, wire.NewBetResponse(wire.BetResponsePayload{
			Success: true,
			Message: m.deps.Messages.Text("bet.accepted", "Bet placed successfully", nil),
			Wager:   &info,
		}))
		m.sendToAdmins(wire.NewBetPlaced(username, info))
	}
}

func (m *Manager) sendWallet(ctx context.Context, s *Session) func() {
	userID, _, _, _ := s.Identity()
	bal, err := m.deps.Wallet.Balance(ctx, userID)
	if err != nil {
		return func() { m.sendError(s, err) }
	}
	return func() { m.Send(s, wire.NewWalletUpdate(decimal.Zero, bal)) }
}

func (m *Manager) adminAction(ctx context.Context, s *Session, act wire.AdminAction) {
	if !s.IsAdmin() {
		m.sendError(s, domain.ErrForbidden)
		return
	}
	userID, _, _, _ := s.Identity()
	log := obslog.L().With(zap.String("admin_id", userID), zap.String("command", act.Command))

	var err error
	switch act.Command {
	case wire.CommandStartGame:
		_, err = m.deps.Rounds.StartRound(ctx)
	case wire.CommandStopGame:
		_, err = m.deps.Rounds.StopRound(ctx)
	case wire.CommandSetResult:
		mode := orchestrator.ResultMode(strings.ToLower(strings.TrimSpace(act.Mode)))
		if mode == "" {
			mode = orchestrator.ModeAuto
			if act.Result != nil {
				mode = orchestrator.ModeManual
			}
		}
		var manual *domain.Result
		if act.Result != nil {
			manual = &domain.Result{
				OpenPanna:  strings.TrimSpace(act.Result.OpenPanna),
				Jodi:       strings.TrimSpace(act.Result.Jodi),
				ClosePanna: strings.TrimSpace(act.Result.ClosePanna),
			}
		}
		_, _, err = m.deps.Rounds.DeclareResult(ctx, mode, manual)
	case wire.CommandUpdateWallet:
		if strings.TrimSpace(act.UserID) == "" || act.Amount.IsZero() {
			err = domain.ErrInvalidArgs
			break
		}
		_, err = m.deps.Rounds.UpdateWallet(ctx, strings.TrimSpace(act.UserID), act.Amount)
	default:
		err = domain.ErrInvalidArgs
	}
	if err != nil {
		log.Info("admin_action_failed", zap.String("code", domain.CodeOf(err)), zap.Error(err))
		m.sendError(s, err)
		return
	}
	log.Info("admin_action_ok")
}
