package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oakgames/chessrelay/internal/moderation"
	"github.com/oakgames/chessrelay/internal/notify"
	"github.com/oakgames/chessrelay/internal/obslog"
	"github.com/oakgames/chessrelay/internal/registry"
	"github.com/oakgames/chessrelay/internal/reports"
	"github.com/oakgames/chessrelay/internal/rooms"
	"github.com/oakgames/chessrelay/internal/social"
	"github.com/oakgames/chessrelay/pkg/relaydto"
)

// handle runs one decoded message to completion. Every branch replies with a
// typed message; silent drops are limited to suppressed chat and offline
// notification targets.
func (s *Server) handle(ctx context.Context, connID string, conn registry.Transport, msg relaydto.Inbound) {
	switch m := msg.(type) {
	case relaydto.Authenticate:
		s.handleAuthenticate(ctx, connID, conn, m)
	case relaydto.ListRooms:
		_ = conn.Send(relaydto.NewRoomList(s.dir.List()))
	case relaydto.Join:
		s.handleJoin(connID, conn, m)
	case relaydto.Leave:
		s.dir.Leave(connID)
		_ = conn.Send(relaydto.NewLeft())
	case relaydto.Move:
		s.handleMove(ctx, connID, conn, m)
	case relaydto.DrawOffer:
		s.replyRoomErr(conn, s.dir.OfferDraw(connID), "drawOffer")
	case relaydto.DrawAccept:
		s.replyRoomErr(conn, s.dir.AcceptDraw(connID), "drawAccept")
	case relaydto.DrawDecline:
		s.replyRoomErr(conn, s.dir.DeclineDraw(connID), "drawDecline")
	case relaydto.Resign:
		s.replyRoomErr(conn, s.dir.Resign(connID), "resign")
	case relaydto.Chat:
		s.handleChat(ctx, connID, conn, m)
	case relaydto.BanUser:
		s.handleBanUser(ctx, connID, conn, m)
	case relaydto.UnbanUser:
		s.handleUnbanUser(ctx, connID, conn, m)
	case relaydto.GetBannedUsers:
		s.handleGetBannedUsers(ctx, connID, conn)
	case relaydto.SendFriendRequest:
		s.handleSocialOp(connID, conn, relaydto.NewAck("sendFriendRequest"), func(id string) error {
			return s.graph.SendRequest(id, m.To)
		})
	case relaydto.AcceptFriendRequest:
		s.handleSocialOp(connID, conn, relaydto.NewAck("acceptFriendRequest"), func(id string) error {
			return s.graph.AcceptRequest(id, m.From)
		})
	case relaydto.RejectFriendRequest:
		s.handleSocialOp(connID, conn, relaydto.NewAck("rejectFriendRequest"), func(id string) error {
			return s.graph.RejectRequest(id, m.From)
		})
	case relaydto.RemoveFriend:
		s.handleSocialOp(connID, conn, relaydto.NewAck("removeFriend"), func(id string) error {
			return s.graph.RemoveFriend(id, m.Username)
		})
	case relaydto.BlockUser:
		s.handleSocialOp(connID, conn, relaydto.NewBlocked(normName(m.Username)), func(id string) error {
			return s.graph.Block(id, m.Username)
		})
	case relaydto.UnblockUser:
		s.handleSocialOp(connID, conn, relaydto.NewUnblocked(normName(m.Username)), func(id string) error {
			return s.graph.Unblock(id, m.Username)
		})
	case relaydto.Report:
		s.handleReport(connID, conn, m)
	default:
		// Decode produced a type handle does not know; keep the connection.
		_ = conn.Send(relaydto.NewError(relaydto.CodeProtocolError, "unhandled message"))
	}
}

func (s *Server) handleAuthenticate(ctx context.Context, connID string, conn registry.Transport, m relaydto.Authenticate) {
	name := strings.ToLower(strings.TrimSpace(m.Username))

	rec, err := s.ledger.ActiveRecord(ctx, name)
	if err != nil {
		obslog.L().Error("ban_lookup_error", zap.String("identity", name), zap.Error(err))
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
		return
	}
	if rec != nil {
		_ = conn.Send(relaydto.NewUserBanned(rec.Reason, rec.Duration, string(rec.Unit), rec.ExpiresAt,
			s.cat.Text("ban.rejected", map[string]any{"Reason": rec.Reason})))
		conn.Close("banned")
		return
	}

	notice := relaydto.NewAccountConflict(s.cat.Text("auth.conflict", nil))
	evictedID, err := s.reg.Bind(connID, name, notice)
	if err != nil {
		if errors.Is(err, registry.ErrNameInvalid) {
			_ = conn.Send(relaydto.NewError(relaydto.CodeNameInvalid,
				s.cat.Text("auth.name_invalid", map[string]any{"Min": s.cfg.MinUsernameLen})))
			return
		}
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
		return
	}
	if evictedID != "" {
		// the evicted connection left the registry already; free its seat
		s.dir.Leave(evictedID)
	}
	_ = conn.Send(relaydto.NewAuthenticated(name))
}

func (s *Server) handleJoin(connID string, conn registry.Transport, m relaydto.Join) {
	if _, ok := s.requireIdentity(connID, conn); !ok {
		return
	}
	roomID := strings.TrimSpace(m.RoomID)
	if roomID == "" {
		_ = conn.Send(relaydto.NewError(relaydto.CodeProtocolError, "roomId required"))
		return
	}
	color, err := s.dir.Join(connID, roomID)
	switch {
	case errors.Is(err, rooms.ErrAlreadySeated):
		_ = conn.Send(relaydto.NewError(relaydto.CodeAlreadySeated, "already seated in a room"))
	case errors.Is(err, rooms.ErrRoomFull):
		_ = conn.Send(relaydto.NewError(relaydto.CodeRoomFull, "room is full"))
	case errors.Is(err, rooms.ErrMatchFinished):
		_ = conn.Send(relaydto.NewError(relaydto.CodeMatchFinished, "match already finished"))
	case err != nil:
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
	default:
		_ = conn.Send(relaydto.NewJoined(string(color)))
	}
}

func (s *Server) handleMove(ctx context.Context, connID string, conn registry.Transport, m relaydto.Move) {
	identity, ok := s.requireIdentity(connID, conn)
	if !ok {
		return
	}

	res, err := s.dir.SubmitMove(connID, m)
	switch {
	case errors.Is(err, rooms.ErrNotInRoom):
		_ = conn.Send(relaydto.NewError(relaydto.CodeNotInRoom, "join a room first"))
	case errors.Is(err, rooms.ErrGameNotActive):
		_ = conn.Send(relaydto.NewError(relaydto.CodeGameNotActive, "match is not active"))
	case errors.Is(err, rooms.ErrNotYourTurn):
		_ = conn.Send(relaydto.NewError(relaydto.CodeNotYourTurn, "not your turn"))
	case errors.Is(err, rooms.ErrIllegalMove):
		s.monitor.RecordEvent(ctx, identity, "illegal_move")
		_ = conn.Send(relaydto.NewError(relaydto.CodeIllegalMove, "illegal move"))
	case err != nil:
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
	default:
		// only accepted moves advance the timing baseline; rejected requests
		// never touch the session and must not accrue suspicion
		if ok, elapsed := s.monitor.CheckMoveTiming(identity); !ok {
			obslog.L().Debug("move_timing_flag", zap.String("identity", identity), zap.Duration("elapsed", elapsed))
			s.monitor.RecordEvent(ctx, identity, "rapid_move")
		}
		_ = conn.Send(relaydto.NewMoveAccepted(res.FEN, string(res.Turn)))
	}
}

func (s *Server) handleChat(ctx context.Context, connID string, conn registry.Transport, m relaydto.Chat) {
	identity, ok := s.requireIdentity(connID, conn)
	if !ok {
		return
	}
	if strings.TrimSpace(m.Message) == "" {
		_ = conn.Send(relaydto.NewError(relaydto.CodeProtocolError, "message required"))
		return
	}
	if _, inRoom := s.dir.RoomOf(connID); !inRoom {
		_ = conn.Send(relaydto.NewError(relaydto.CodeNotInRoom, "join a room first"))
		return
	}

	if ok, _ := s.monitor.CheckChatTiming(identity); !ok {
		s.monitor.RecordEvent(ctx, identity, "chat_flood")
	}

	relayMsg := relaydto.NewChatRelay(identity, m.Message)
	// echo doubles as the delivery ack
	_ = conn.Send(relayMsg)
	oppID, hasOpponent := s.dir.OpponentOf(connID)
	if !hasOpponent {
		return
	}
	oppIdentity, _ := s.reg.Identity(oppID)
	if oppIdentity != "" && s.graph.IsBlocked(oppIdentity, identity) {
		// suppressed by a block edge; sender is not told
		return
	}
	s.sendToConn(oppID, relayMsg)
}

func (s *Server) handleBanUser(ctx context.Context, connID string, conn registry.Transport, m relaydto.BanUser) {
	identity, ok := s.requireIdentity(connID, conn)
	if !ok {
		return
	}
	rec, err := s.ledger.Ban(ctx, identity, m.Username, m.Reason, m.Duration, m.Unit)
	switch {
	case errors.Is(err, moderation.ErrForbidden), errors.Is(err, moderation.ErrExemptTarget):
		_ = conn.Send(relaydto.NewError(relaydto.CodeForbidden, "not allowed"))
	case errors.Is(err, moderation.ErrAlreadyBanned):
		_ = conn.Send(relaydto.NewError(relaydto.CodeAlreadyBanned, "target already banned"))
	case errors.Is(err, moderation.ErrInvalidUnit):
		_ = conn.Send(relaydto.NewError(relaydto.CodeInvalidUnit, "unit must be minutes, hours, days or permanent"))
	case errors.Is(err, moderation.ErrInvalidDuration):
		_ = conn.Send(relaydto.NewError(relaydto.CodeInvalidDuration, "duration must be positive"))
	case err != nil:
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
	default:
		_ = conn.Send(relaydto.NewBanApplied(rec.Identity, rec.ExpiresAt))
	}
}

func (s *Server) handleUnbanUser(ctx context.Context, connID string, conn registry.Transport, m relaydto.UnbanUser) {
	identity, ok := s.requireIdentity(connID, conn)
	if !ok {
		return
	}
	err := s.ledger.Unban(ctx, identity, m.Username)
	switch {
	case errors.Is(err, moderation.ErrForbidden):
		_ = conn.Send(relaydto.NewError(relaydto.CodeForbidden, "not allowed"))
	case errors.Is(err, moderation.ErrNotBanned):
		_ = conn.Send(relaydto.NewError(relaydto.CodeNotBanned, "target is not banned"))
	case err != nil:
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
	default:
		_ = conn.Send(relaydto.NewUnbanApplied(strings.ToLower(strings.TrimSpace(m.Username))))
	}
}

func (s *Server) handleGetBannedUsers(ctx context.Context, connID string, conn registry.Transport) {
	identity, ok := s.requireIdentity(connID, conn)
	if !ok {
		return
	}
	if !s.ledger.IsAdmin(identity) {
		_ = conn.Send(relaydto.NewError(relaydto.CodeForbidden, "not allowed"))
		return
	}
	recs, err := s.ledger.List(ctx)
	if err != nil {
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
		return
	}
	users := make([]relaydto.BannedUser, 0, len(recs))
	for _, rec := range recs {
		users = append(users, relaydto.BannedUser{
			Username:  rec.Identity,
			Reason:    rec.Reason,
			Actor:     rec.Actor,
			Duration:  rec.Duration,
			Unit:      string(rec.Unit),
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.ExpiresAt,
		})
	}
	_ = conn.Send(relaydto.NewBannedUsersList(users))
}

// handleSocialOp runs one social-graph mutation and replies with okReply on
// success or the mapped graph error.
func (s *Server) handleSocialOp(connID string, conn registry.Transport, okReply any, fn func(identity string) error) {
	identity, ok := s.requireIdentity(connID, conn)
	if !ok {
		return
	}
	err := fn(identity)
	switch {
	case errors.Is(err, social.ErrSelf):
		_ = conn.Send(relaydto.NewError(relaydto.CodeSelfTarget, "cannot target yourself"))
	case errors.Is(err, social.ErrNotFound):
		_ = conn.Send(relaydto.NewError(relaydto.CodeNotFound, "unknown user"))
	case errors.Is(err, social.ErrBlocked):
		_ = conn.Send(relaydto.NewError(relaydto.CodeBlocked, "request not delivered"))
	case errors.Is(err, social.ErrNoRequest):
		_ = conn.Send(relaydto.NewError(relaydto.CodeNoRequest, "no pending request"))
	case err != nil:
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
	default:
		_ = conn.Send(okReply)
	}
}

func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (s *Server) handleReport(connID string, conn registry.Transport, m relaydto.Report) {
	identity, ok := s.requireIdentity(connID, conn)
	if !ok {
		return
	}
	rep := &reports.Report{
		Reporter:    identity,
		ReportType:  m.ReportType,
		Reason:      m.Reason,
		Description: m.Description,
		CreatedAt:   time.Now(),
	}
	obslog.L().Info("report_received",
		zap.String("reporter", identity),
		zap.String("report_type", m.ReportType),
	)
	if s.repo != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.repo.SaveReport(ctx, rep); err != nil {
				obslog.L().Error("report_persist_error", zap.Error(err))
			}
		}()
	}
	if s.alerts != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			alert := &notify.Alert{
				Reporter:    rep.Reporter,
				ReportType:  rep.ReportType,
				Reason:      rep.Reason,
				Description: rep.Description,
				ReceivedAt:  rep.CreatedAt.Format(time.RFC3339),
			}
			if err := s.alerts.SendAlert(ctx, alert); err != nil {
				obslog.L().Error("report_alert_error", zap.Error(err))
			}
		}()
	}
	_ = conn.Send(relaydto.NewReportReceived())
}

// replyRoomErr maps directory errors shared by the draw/resign relays.
func (s *Server) replyRoomErr(conn registry.Transport, err error, op string) {
	switch {
	case err == nil:
		_ = conn.Send(relaydto.NewAck(op))
	case errors.Is(err, rooms.ErrNotInRoom):
		_ = conn.Send(relaydto.NewError(relaydto.CodeNotInRoom, "join a room first"))
	case errors.Is(err, rooms.ErrGameNotActive):
		_ = conn.Send(relaydto.NewError(relaydto.CodeGameNotActive, "match is not active"))
	case errors.Is(err, rooms.ErrNoDrawOffer):
		_ = conn.Send(relaydto.NewError(relaydto.CodeNoDrawOffer, "no pending draw offer"))
	default:
		_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
	}
}

// requireIdentity replies with an error when connID is unauthenticated.
func (s *Server) requireIdentity(connID string, conn registry.Transport) (string, bool) {
	identity, ok := s.reg.Identity(connID)
	if !ok {
		_ = conn.Send(relaydto.NewError(relaydto.CodeNotAuthenticated, "authenticate first"))
		return "", false
	}
	return identity, true
}
