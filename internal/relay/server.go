package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/oakgames/chessrelay/internal/config"
	"github.com/oakgames/chessrelay/internal/moderation"
	"github.com/oakgames/chessrelay/internal/msgcat"
	"github.com/oakgames/chessrelay/internal/notify"
	"github.com/oakgames/chessrelay/internal/obslog"
	"github.com/oakgames/chessrelay/internal/registry"
	"github.com/oakgames/chessrelay/internal/reports"
	"github.com/oakgames/chessrelay/internal/rooms"
	"github.com/oakgames/chessrelay/internal/social"
	"github.com/oakgames/chessrelay/internal/suspicion"
	"github.com/oakgames/chessrelay/pkg/relaydto"
)

// Server owns the constructor-injected component state and turns inbound
// websocket frames into component calls. Nothing here is a process-wide
// singleton; tests build a Server per case.
type Server struct {
	cfg     *config.AppConfig
	cat     *msgcat.Catalog
	reg     *registry.Registry
	dir     *rooms.Directory
	ledger  *moderation.Ledger
	monitor *suspicion.Monitor
	graph   *social.Graph
	repo    *reports.Repository // may be nil
	alerts  *notify.Client      // may be nil
}

// NewServer wires the directory and social graph around the injected
// components and registers itself as the ledger's notifier.
func NewServer(
	cfg *config.AppConfig,
	cat *msgcat.Catalog,
	reg *registry.Registry,
	ledger *moderation.Ledger,
	monitor *suspicion.Monitor,
	repo *reports.Repository,
	alerts *notify.Client,
) *Server {
	s := &Server{
		cfg:     cfg,
		cat:     cat,
		reg:     reg,
		ledger:  ledger,
		monitor: monitor,
		repo:    repo,
		alerts:  alerts,
	}
	s.dir = rooms.NewDirectory(s.sendToConn, rooms.WithResultHook(s.persistResult))
	s.graph = social.NewGraph(reg, s.sendToIdentity)
	ledger.SetNotifier(s)
	return s
}

// Directory exposes the room directory, mainly for tests.
func (s *Server) Directory() *rooms.Directory { return s.dir }

// Graph exposes the social graph, mainly for tests.
func (s *Server) Graph() *social.Graph { return s.graph }

// Handler returns the HTTP surface: a single websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}
	conn := newWSConn(sock)
	connID := s.reg.Register(conn)
	defer s.Disconnect(connID, "connection closed")

	ctx := r.Context()
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, sock, &raw); err != nil {
			return
		}
		s.reg.Touch(connID)
		s.dispatch(ctx, connID, conn, raw)
	}
}

// dispatch decodes one frame and runs its handler to completion. A panic is
// converted to a generic internal error reply; the connection stays open.
func (s *Server) dispatch(ctx context.Context, connID string, conn registry.Transport, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("handler_panic", zap.String("conn_id", connID), zap.Any("panic", r))
			_ = conn.Send(relaydto.NewError(relaydto.CodeInternalError, "internal error"))
		}
	}()

	msg, err := relaydto.Decode(raw)
	if err != nil {
		_ = conn.Send(relaydto.NewError(relaydto.CodeProtocolError, err.Error()))
		return
	}
	s.handle(ctx, connID, conn, msg)
}

// Disconnect runs the full teardown in the required order: room leave while
// the seat index still knows the connection, then registry removal, then the
// transport close.
func (s *Server) Disconnect(connID, reason string) {
	t, live := s.reg.Lookup(connID)
	s.dir.Leave(connID)
	s.reg.Unregister(connID)
	if live {
		t.Close(reason)
	}
}

// Run drives the periodic sweeps until ctx is done: idle-connection reaping
// and suspicion-window cleanup.
func (s *Server) Run(ctx context.Context) {
	idleTimeout := time.Duration(s.cfg.IdleTimeoutSec) * time.Second
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reg.Reap(idleTimeout, func(connID string, idleFor time.Duration) {
				if t, ok := s.reg.Lookup(connID); ok {
					_ = t.Send(relaydto.NewError(relaydto.CodeProtocolError,
						s.cat.Text("idle.kicked", map[string]any{"Minutes": int(idleTimeout.Minutes())})))
				}
				s.Disconnect(connID, "idle timeout")
			})
			s.monitor.Sweep()
		}
	}
}

// sendToConn is the rooms.Sender: best-effort delivery by connection id.
func (s *Server) sendToConn(connID string, msg any) {
	t, ok := s.reg.Lookup(connID)
	if !ok {
		return
	}
	if err := t.Send(msg); err != nil {
		obslog.L().Debug("send_error", zap.String("conn_id", connID), zap.Error(err))
	}
}

// sendToIdentity is the social.Sender: best-effort delivery to whichever
// connection currently holds the identity.
func (s *Server) sendToIdentity(identity string, msg any) {
	_, t, ok := s.reg.ByIdentity(identity)
	if !ok {
		return
	}
	if err := t.Send(msg); err != nil {
		obslog.L().Debug("send_error", zap.String("identity", identity), zap.Error(err))
	}
}

// persistResult is the rooms.ResultHook; history is best effort.
func (s *Server) persistResult(roomID, result, winner string, movesUCI []string) {
	if s.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.SaveResult(ctx, roomID, result, winner, movesUCI); err != nil {
			obslog.L().Error("result_persist_error", zap.String("room_id", roomID), zap.Error(err))
		}
	}()
}

// BanApplied implements moderation.Notifier: the target's live connection
// gets the ban details and is force-closed.
func (s *Server) BanApplied(identity string, rec *moderation.Record) {
	_, t, ok := s.reg.ByIdentity(identity)
	if !ok {
		return
	}
	msg := s.banText(rec)
	_ = t.Send(relaydto.NewUserBanned(rec.Reason, rec.Duration, string(rec.Unit), rec.ExpiresAt, msg))
	t.Close("banned")
}

// BanLifted implements moderation.Notifier.
func (s *Server) BanLifted(identity string) {
	s.sendToIdentity(identity, relaydto.NewBanExpired(s.cat.Text("ban.expired", nil)))
}

func (s *Server) banText(rec *moderation.Record) string {
	if rec.Unit == moderation.UnitPermanent {
		return s.cat.Text("ban.applied", map[string]any{"Reason": rec.Reason})
	}
	return s.cat.Text("ban.applied_temp", map[string]any{
		"Reason":   rec.Reason,
		"Duration": rec.Duration,
		"Unit":     string(rec.Unit),
	})
}
