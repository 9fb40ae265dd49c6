package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/oakgames/chessrelay/internal/config"
	"github.com/oakgames/chessrelay/internal/moderation"
	"github.com/oakgames/chessrelay/internal/msgcat"
	"github.com/oakgames/chessrelay/internal/registry"
	"github.com/oakgames/chessrelay/internal/suspicion"
	"github.com/oakgames/chessrelay/pkg/relaydto"
)

// fakeTransport stands in for a websocket connection.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
	reason string
}

func (t *fakeTransport) Send(v any) error {
	t.mu.Lock()
	t.sent = append(t.sent, v)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close(reason string) {
	t.mu.Lock()
	t.closed = true
	t.reason = reason
	t.mu.Unlock()
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) messages() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]any(nil), t.sent...)
}

func (t *fakeTransport) last() any {
	msgs := t.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (t *fakeTransport) lastError() (relaydto.ErrorReply, bool) {
	for i := len(t.messages()) - 1; i >= 0; i-- {
		if e, ok := t.messages()[i].(relaydto.ErrorReply); ok {
			return e, true
		}
	}
	return relaydto.ErrorReply{}, false
}

func (t *fakeTransport) has(match func(any) bool) bool {
	for _, m := range t.messages() {
		if match(m) {
			return true
		}
	}
	return false
}

type harness struct {
	srv    *Server
	ledger *moderation.Ledger
}

func newTestServer(t *testing.T) *harness {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	cfg := &config.AppConfig{
		MinUsernameLen:    3,
		IdleTimeoutSec:    300,
		MinMoveIntervalMs: 500,
		MinChatIntervalMs: 300,
	}
	reg := registry.New(cfg.MinUsernameLen)
	ledger := moderation.NewLedger(moderation.NewMemoryStore(), []string{"admin"}, nil, "")
	monitor := suspicion.NewMonitor(suspicion.DefaultConfig(), func(ctx context.Context, target, reason string, count int) error {
		_, err := ledger.AutoBan(ctx, target, reason, count)
		return err
	})
	srv := NewServer(cfg, cat, reg, ledger, monitor, nil, nil)
	return &harness{srv: srv, ledger: ledger}
}

// connect registers a transport and authenticates it as name.
func (h *harness) connect(t *testing.T, name string) (string, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	id := h.srv.reg.Register(tr)
	h.srv.handle(context.Background(), id, tr, relaydto.Authenticate{Username: name})
	return id, tr
}

func (h *harness) send(connID string, tr *fakeTransport, msg relaydto.Inbound) {
	h.srv.handle(context.Background(), connID, tr, msg)
}

func TestAuthenticateReplies(t *testing.T) {
	h := newTestServer(t)
	_, tr := h.connect(t, "alice")

	auth, ok := tr.last().(relaydto.Authenticated)
	if !ok || auth.Username != "alice" {
		t.Fatalf("unexpected reply: %#v", tr.last())
	}
}

func TestAuthenticateRejectsShortName(t *testing.T) {
	h := newTestServer(t)
	_, tr := h.connect(t, "ab")

	e, ok := tr.lastError()
	if !ok || e.Code != relaydto.CodeNameInvalid {
		t.Fatalf("expected name_invalid error, got %#v", tr.last())
	}
}

func TestAuthenticateBannedIdentityClosed(t *testing.T) {
	h := newTestServer(t)
	if _, err := h.ledger.Ban(context.Background(), "admin", "mallory", "abuse", 0, "permanent"); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	_, tr := h.connect(t, "mallory")
	if !tr.isClosed() {
		t.Fatalf("banned identity must be disconnected")
	}
	banned := false
	for _, m := range tr.messages() {
		if _, ok := m.(relaydto.UserBanned); ok {
			banned = true
		}
	}
	if !banned {
		t.Fatalf("banned identity must receive the ban notice, got %v", tr.messages())
	}
}

func TestAuthenticateConflictEvictsOldConnection(t *testing.T) {
	h := newTestServer(t)
	c1ID, tr1 := h.connect(t, "alice")
	h.send(c1ID, tr1, relaydto.Join{RoomID: "r1"})

	_, tr2 := h.connect(t, "alice")
	if !tr1.isClosed() {
		t.Fatalf("first connection must be force-closed")
	}
	if !tr1.has(func(m any) bool { _, ok := m.(relaydto.AccountConflict); return ok }) {
		t.Fatalf("first connection must get the conflict notice")
	}
	if auth, ok := tr2.last().(relaydto.Authenticated); !ok || auth.Username != "alice" {
		t.Fatalf("second connection not authenticated: %#v", tr2.last())
	}
	// the evicted connection's seat was released
	if ids := h.srv.Directory().List(); len(ids) != 0 {
		t.Fatalf("evicted connection's room must be cleaned up: %v", ids)
	}
}

func TestUnauthenticatedOperationsRejected(t *testing.T) {
	h := newTestServer(t)
	tr := &fakeTransport{}
	id := h.srv.reg.Register(tr)

	msgs := []relaydto.Inbound{
		relaydto.Join{RoomID: "r1"},
		relaydto.Move{From: "e2", To: "e4"},
		relaydto.Chat{Message: "hi"},
		relaydto.BanUser{Username: "bob"},
		relaydto.SendFriendRequest{To: "bob"},
	}
	for _, m := range msgs {
		h.send(id, tr, m)
		e, ok := tr.lastError()
		if !ok || e.Code != relaydto.CodeNotAuthenticated {
			t.Fatalf("%T: expected not_authenticated, got %#v", m, tr.last())
		}
	}
}

func TestJoinAndMoveFlow(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")
	bobID, trB := h.connect(t, "bob")

	h.send(aliceID, trA, relaydto.Join{RoomID: "r1"})
	if j, ok := trA.last().(relaydto.Joined); !ok || j.Color != "white" {
		t.Fatalf("alice join reply: %#v", trA.last())
	}
	h.send(bobID, trB, relaydto.Join{RoomID: "r1"})
	if !trA.has(func(m any) bool { _, ok := m.(relaydto.Start); return ok }) {
		t.Fatalf("alice missed the start broadcast")
	}

	// bob moving first is rejected
	h.send(bobID, trB, relaydto.Move{From: "e7", To: "e5"})
	if e, ok := trB.lastError(); !ok || e.Code != relaydto.CodeNotYourTurn {
		t.Fatalf("expected not_your_turn, got %#v", trB.last())
	}

	h.send(aliceID, trA, relaydto.Move{From: "e2", To: "e4"})
	acc, ok := trA.last().(relaydto.MoveAccepted)
	if !ok || acc.Turn != "black" {
		t.Fatalf("alice move reply: %#v", trA.last())
	}
	if !trB.has(func(m any) bool {
		mv, ok := m.(relaydto.MoveRelay)
		return ok && mv.From == "e2" && mv.To == "e4"
	}) {
		t.Fatalf("bob missed the move relay: %v", trB.messages())
	}
}

func TestListRooms(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")

	h.send(aliceID, trA, relaydto.ListRooms{})
	if list, ok := trA.last().(relaydto.RoomList); !ok || len(list.IDs) != 0 {
		t.Fatalf("empty listing expected: %#v", trA.last())
	}

	h.send(aliceID, trA, relaydto.Join{RoomID: "r1"})
	h.send(aliceID, trA, relaydto.ListRooms{})
	if list, ok := trA.last().(relaydto.RoomList); !ok || len(list.IDs) != 1 || list.IDs[0] != "r1" {
		t.Fatalf("unexpected listing: %#v", trA.last())
	}
}

func TestChatRelayAndBlockSuppression(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")
	bobID, trB := h.connect(t, "bob")
	h.send(aliceID, trA, relaydto.Join{RoomID: "r1"})
	h.send(bobID, trB, relaydto.Join{RoomID: "r1"})

	h.send(aliceID, trA, relaydto.Chat{Message: "good luck"})
	match := func(m any) bool {
		c, ok := m.(relaydto.ChatRelay)
		return ok && c.Username == "alice" && c.Message == "good luck"
	}
	if !trA.has(match) {
		t.Fatalf("sender echo missing")
	}
	if !trB.has(match) {
		t.Fatalf("opponent missed the chat relay")
	}

	// bob blocks alice; her next line reaches only herself
	if err := h.srv.Graph().Block("bob", "alice"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	h.send(aliceID, trA, relaydto.Chat{Message: "still there?"})
	suppressed := func(m any) bool {
		c, ok := m.(relaydto.ChatRelay)
		return ok && c.Message == "still there?"
	}
	if !trA.has(suppressed) {
		t.Fatalf("sender echo must survive the block")
	}
	if trB.has(suppressed) {
		t.Fatalf("blocked chat leaked to the opponent")
	}
}

func TestChatOutsideRoomRejected(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")

	h.send(aliceID, trA, relaydto.Chat{Message: "anyone?"})
	if e, ok := trA.lastError(); !ok || e.Code != relaydto.CodeNotInRoom {
		t.Fatalf("expected not_in_room, got %#v", trA.last())
	}
}

func TestBanDisconnectsLiveTarget(t *testing.T) {
	h := newTestServer(t)
	adminID, trAdmin := h.connect(t, "admin")
	_, trBob := h.connect(t, "bob")

	h.send(adminID, trAdmin, relaydto.BanUser{Username: "bob", Reason: "spam", Duration: 1, Unit: "hours"})
	if _, ok := trAdmin.last().(relaydto.BanApplied); !ok {
		t.Fatalf("admin reply: %#v", trAdmin.last())
	}
	if !trBob.isClosed() {
		t.Fatalf("banned target's connection must close")
	}
	if !trBob.has(func(m any) bool { _, ok := m.(relaydto.UserBanned); return ok }) {
		t.Fatalf("banned target missed the notice: %v", trBob.messages())
	}
}

func TestBanRequiresAdmin(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")

	h.send(aliceID, trA, relaydto.BanUser{Username: "bob", Reason: "spam", Duration: 1, Unit: "hours"})
	if e, ok := trA.lastError(); !ok || e.Code != relaydto.CodeForbidden {
		t.Fatalf("expected forbidden, got %#v", trA.last())
	}
}

func TestGetBannedUsersAdminOnly(t *testing.T) {
	h := newTestServer(t)
	adminID, trAdmin := h.connect(t, "admin")
	aliceID, trA := h.connect(t, "alice")

	h.send(adminID, trAdmin, relaydto.BanUser{Username: "mallory", Reason: "abuse", Duration: 0, Unit: "permanent"})
	h.send(adminID, trAdmin, relaydto.GetBannedUsers{})
	list, ok := trAdmin.last().(relaydto.BannedUsersList)
	if !ok || len(list.Users) != 1 || list.Users[0].Username != "mallory" {
		t.Fatalf("unexpected listing: %#v", trAdmin.last())
	}

	h.send(aliceID, trA, relaydto.GetBannedUsers{})
	if e, ok := trA.lastError(); !ok || e.Code != relaydto.CodeForbidden {
		t.Fatalf("non-admin listing: %#v", trA.last())
	}
}

func TestFriendOpsThroughHandlers(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")
	bobID, trB := h.connect(t, "bob")

	h.send(aliceID, trA, relaydto.SendFriendRequest{To: "bob"})
	if ack, ok := trA.last().(relaydto.Ack); !ok || ack.Op != "sendFriendRequest" {
		t.Fatalf("request ack: %#v", trA.last())
	}
	if !trB.has(func(m any) bool { _, ok := m.(relaydto.FriendRequestNotice); return ok }) {
		t.Fatalf("bob missed the request notice")
	}

	h.send(bobID, trB, relaydto.AcceptFriendRequest{From: "alice"})
	if !h.srv.Graph().AreFriends("alice", "bob") {
		t.Fatalf("friendship not recorded")
	}
	if !trA.has(func(m any) bool { _, ok := m.(relaydto.FriendAccepted); return ok }) {
		t.Fatalf("alice missed the accept notice")
	}

	h.send(aliceID, trA, relaydto.SendFriendRequest{To: "ghost"})
	if e, ok := trA.lastError(); !ok || e.Code != relaydto.CodeNotFound {
		t.Fatalf("unknown target: %#v", trA.last())
	}
}

func TestJoinFinishedMatchRejected(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")
	bobID, trB := h.connect(t, "bob")
	h.send(aliceID, trA, relaydto.Join{RoomID: "r1"})
	h.send(bobID, trB, relaydto.Join{RoomID: "r1"})

	h.send(aliceID, trA, relaydto.Resign{})
	h.send(bobID, trB, relaydto.Leave{})

	carolID, trC := h.connect(t, "carol")
	h.send(carolID, trC, relaydto.Join{RoomID: "r1"})
	if e, ok := trC.lastError(); !ok || e.Code != relaydto.CodeMatchFinished {
		t.Fatalf("join into finished match: %#v", trC.last())
	}
	if trC.has(func(m any) bool { _, ok := m.(relaydto.Start); return ok }) {
		t.Fatalf("finished match must not restart for a new joiner")
	}
}

func TestRejectedMovesDoNotFeedSuspicion(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")
	bobID, trB := h.connect(t, "bob")
	h.send(aliceID, trA, relaydto.Join{RoomID: "r1"})
	h.send(bobID, trB, relaydto.Join{RoomID: "r1"})

	// bob hammers out-of-turn moves; none reach the session
	for i := 0; i < 5; i++ {
		h.send(bobID, trB, relaydto.Move{From: "e7", To: "e5"})
	}
	if ev := h.srv.monitor.Evaluate("bob"); ev.Count != 0 {
		t.Fatalf("rejected moves accrued suspicion: %+v", ev)
	}

	// back-to-back accepted moves do advance the timing baseline
	h.send(aliceID, trA, relaydto.Move{From: "e2", To: "e4"})
	h.send(bobID, trB, relaydto.Move{From: "e7", To: "e5"})
	h.send(aliceID, trA, relaydto.Move{From: "d2", To: "d4"})
	if ev := h.srv.monitor.Evaluate("alice"); ev.Count != 1 {
		t.Fatalf("rapid accepted move not flagged: %+v", ev)
	}
}

func TestBlockUnblockTypedReplies(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")
	h.connect(t, "bob")

	h.send(aliceID, trA, relaydto.BlockUser{Username: " Bob "})
	if b, ok := trA.last().(relaydto.Blocked); !ok || b.Username != "bob" {
		t.Fatalf("block reply: %#v", trA.last())
	}
	if !h.srv.Graph().IsBlocked("alice", "bob") {
		t.Fatalf("block edge missing")
	}

	h.send(aliceID, trA, relaydto.UnblockUser{Username: "bob"})
	if u, ok := trA.last().(relaydto.Unblocked); !ok || u.Username != "bob" {
		t.Fatalf("unblock reply: %#v", trA.last())
	}
	if h.srv.Graph().IsBlocked("alice", "bob") {
		t.Fatalf("block edge survived unblock")
	}
}

func TestReportAcknowledged(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")

	h.send(aliceID, trA, relaydto.Report{ReportType: "user", Reason: "harassment", Description: "details"})
	if _, ok := trA.last().(relaydto.ReportReceived); !ok {
		t.Fatalf("report reply: %#v", trA.last())
	}
}

func TestDispatchProtocolErrors(t *testing.T) {
	h := newTestServer(t)
	tr := &fakeTransport{}
	id := h.srv.reg.Register(tr)

	h.srv.dispatch(context.Background(), id, tr, json.RawMessage(`{"type":"teleport"}`))
	if e, ok := tr.lastError(); !ok || e.Code != relaydto.CodeProtocolError {
		t.Fatalf("unknown type: %#v", tr.last())
	}

	h.srv.dispatch(context.Background(), id, tr, json.RawMessage(`not json`))
	if e, ok := tr.lastError(); !ok || e.Code != relaydto.CodeProtocolError {
		t.Fatalf("malformed frame: %#v", tr.last())
	}
}

func TestDisconnectClosesRoom(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")
	bobID, trB := h.connect(t, "bob")
	h.send(aliceID, trA, relaydto.Join{RoomID: "r1"})
	h.send(bobID, trB, relaydto.Join{RoomID: "r1"})

	h.srv.Disconnect(aliceID, "test")
	if !trA.isClosed() {
		t.Fatalf("disconnected transport not closed")
	}
	if !trB.has(func(m any) bool { _, ok := m.(relaydto.RoomClosed); return ok }) {
		t.Fatalf("bob missed the room-closed notice")
	}
	if _, _, ok := h.srv.reg.ByIdentity("alice"); ok {
		t.Fatalf("identity mapping survived disconnect")
	}
}

func TestBanExpiryAllowsReauthentication(t *testing.T) {
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	cfg := &config.AppConfig{MinUsernameLen: 3, IdleTimeoutSec: 300}
	reg := registry.New(cfg.MinUsernameLen)

	var mu sync.Mutex
	cur := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	ledger := moderation.NewLedger(moderation.NewMemoryStore(), []string{"admin"}, nil, "",
		moderation.WithClock(now))
	monitor := suspicion.NewMonitor(suspicion.DefaultConfig(), nil)
	srv := NewServer(cfg, cat, reg, ledger, monitor, nil, nil)

	if _, err := ledger.Ban(context.Background(), "admin", "carol", "griefing", 1, "days"); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	tr1 := &fakeTransport{}
	id1 := reg.Register(tr1)
	srv.handle(context.Background(), id1, tr1, relaydto.Authenticate{Username: "carol"})
	if !tr1.isClosed() {
		t.Fatalf("carol must be rejected while the ban is in force")
	}

	mu.Lock()
	cur = cur.Add(25 * time.Hour)
	mu.Unlock()

	tr2 := &fakeTransport{}
	id2 := reg.Register(tr2)
	srv.handle(context.Background(), id2, tr2, relaydto.Authenticate{Username: "carol"})
	if auth, ok := tr2.last().(relaydto.Authenticated); !ok || auth.Username != "carol" {
		t.Fatalf("carol must authenticate after the ban expires: %#v", tr2.last())
	}
}

func TestDrawAndResignAcks(t *testing.T) {
	h := newTestServer(t)
	aliceID, trA := h.connect(t, "alice")
	bobID, trB := h.connect(t, "bob")
	h.send(aliceID, trA, relaydto.Join{RoomID: "r1"})
	h.send(bobID, trB, relaydto.Join{RoomID: "r1"})

	h.send(bobID, trB, relaydto.DrawAccept{})
	if e, ok := trB.lastError(); !ok || e.Code != relaydto.CodeNoDrawOffer {
		t.Fatalf("accept without offer: %#v", trB.last())
	}

	h.send(aliceID, trA, relaydto.DrawOffer{})
	if ack, ok := trA.last().(relaydto.Ack); !ok || ack.Op != "drawOffer" {
		t.Fatalf("offer ack: %#v", trA.last())
	}
	h.send(bobID, trB, relaydto.DrawAccept{})
	if !trA.has(func(m any) bool {
		g, ok := m.(relaydto.GameOver)
		return ok && g.Result == "draw"
	}) {
		t.Fatalf("alice missed the draw game-over")
	}
}
