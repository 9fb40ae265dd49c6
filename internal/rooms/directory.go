package rooms

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oakgames/chessrelay/internal/obslog"
	"github.com/oakgames/chessrelay/pkg/relaydto"
)

// Sender delivers an outbound message to a connection id. Delivery failures
// are the sender's problem; a failed write to one occupant never rolls back
// what the other already received.
type Sender func(connID string, msg any)

// ResultHook observes terminal matches, e.g. to persist the result. Called
// outside the directory lock.
type ResultHook func(roomID, result, winner string, movesUCI []string)

// Directory owns every room and the connection-to-seat index. Rooms are
// created on first join to an unknown id and deleted the moment they become
// fully empty.
type Directory struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	seats    map[string]string // conn id -> room id
	send     Sender
	onResult ResultHook
	now      func() time.Time
}

type Option func(*Directory)

func WithResultHook(h ResultHook) Option {
	return func(d *Directory) { d.onResult = h }
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

func NewDirectory(send Sender, opts ...Option) *Directory {
	d := &Directory{
		rooms: make(map[string]*Room),
		seats: make(map[string]string),
		send:  send,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// List returns a sorted snapshot of room ids.
func (d *Directory) List() []string {
	d.mu.Lock()
	ids := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Join seats connID in roomID, creating the room when the id is unseen. The
// first joiner takes white, the second black; a third join errors and leaves
// the room untouched. A connection already seated anywhere is rejected; there
// is no implicit leave-then-join.
func (d *Directory) Join(connID, roomID string) (Color, error) {
	d.mu.Lock()

	if _, seated := d.seats[connID]; seated {
		d.mu.Unlock()
		return "", ErrAlreadySeated
	}

	room, ok := d.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, CreatedAt: d.now(), Session: newSession()}
		d.rooms[roomID] = room
	}
	// terminal is absorbing; a finished match never reopens for a new seat
	if room.Session.state == StateTerminal {
		d.mu.Unlock()
		return "", ErrMatchFinished
	}

	var color Color
	switch {
	case room.White == "":
		room.White = connID
		color = White
	case room.Black == "":
		room.Black = connID
		color = Black
	default:
		d.mu.Unlock()
		return "", ErrRoomFull
	}
	d.seats[connID] = roomID

	started := room.White != "" && room.Black != "" && room.Session.state == StateWaiting
	var occupants []string
	if started {
		room.Session.state = StateActive
		occupants = room.occupants()
	}
	d.mu.Unlock()

	obslog.L().Info("room_join",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.String("color", string(color)),
		zap.Bool("started", started),
	)
	if started {
		for _, occ := range occupants {
			d.send(occ, relaydto.NewStart())
		}
	}
	return color, nil
}

// Leave frees connID's seat. The remaining occupant, if any, is notified and
// the match goes terminal; a fully empty room is deleted immediately.
func (d *Directory) Leave(connID string) {
	d.mu.Lock()
	roomID, ok := d.seats[connID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.seats, connID)
	room := d.rooms[roomID]
	color, _ := room.colorOf(connID)
	if color == White {
		room.White = ""
	} else {
		room.Black = ""
	}

	remaining := room.occupants()
	if len(remaining) == 0 {
		delete(d.rooms, roomID)
	} else if room.Session.state == StateActive {
		room.Session.finish("opponent_left", color.Opponent())
	}
	d.mu.Unlock()

	obslog.L().Info("room_leave",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.Int("remaining", len(remaining)),
	)
	for _, occ := range remaining {
		d.send(occ, relaydto.NewRoomClosed("opponent left"))
	}
}

// RoomOf returns the room id connID occupies.
func (d *Directory) RoomOf(connID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	roomID, ok := d.seats[connID]
	return roomID, ok
}

// OpponentOf returns the conn id seated opposite connID.
func (d *Directory) OpponentOf(connID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, _, ok := d.seatLocked(connID)
	if !ok {
		return "", false
	}
	color, _ := room.colorOf(connID)
	opp := room.seatOf(color.Opponent())
	return opp, opp != ""
}

// SubmitMove validates and relays one move from connID. Acceptance advances
// the engine position and broadcasts the move to the opponent; a terminal
// outcome additionally broadcasts game over to both seats and fires the
// result hook.
func (d *Directory) SubmitMove(connID string, mv relaydto.Move) (MoveResult, error) {
	d.mu.Lock()
	room, color, ok := d.seatLocked(connID)
	if !ok {
		d.mu.Unlock()
		return MoveResult{}, ErrNotInRoom
	}

	res, err := room.Session.apply(color, mv.UCI())
	if err != nil {
		d.mu.Unlock()
		return MoveResult{}, err
	}
	opp := room.seatOf(color.Opponent())
	occupants := room.occupants()
	roomID := room.ID
	moves := room.Session.MovesUCI()
	d.mu.Unlock()

	obslog.L().Info("move_accepted",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.String("uci", mv.UCI()),
		zap.String("turn", string(res.Turn)),
		zap.Bool("game_over", res.GameOver),
	)
	if opp != "" {
		d.send(opp, relaydto.NewMoveRelay(mv.From, mv.To, mv.Promotion, res.FEN))
	}
	if res.GameOver {
		for _, occ := range occupants {
			d.send(occ, relaydto.NewGameOver(res.Result, string(res.Winner)))
		}
		if d.onResult != nil {
			d.onResult(roomID, res.Result, string(res.Winner), moves)
		}
	}
	return res, nil
}

// OfferDraw relays a draw offer to the opponent and records it as pending.
func (d *Directory) OfferDraw(connID string) error {
	d.mu.Lock()
	room, color, ok := d.seatLocked(connID)
	if !ok {
		d.mu.Unlock()
		return ErrNotInRoom
	}
	if room.Session.state != StateActive {
		d.mu.Unlock()
		return ErrGameNotActive
	}
	room.Session.drawFrom = color
	opp := room.seatOf(color.Opponent())
	d.mu.Unlock()

	d.send(opp, relaydto.NewDrawOffer())
	return nil
}

// AcceptDraw accepts the opponent's pending offer and ends the match drawn.
func (d *Directory) AcceptDraw(connID string) error {
	d.mu.Lock()
	room, color, ok := d.seatLocked(connID)
	if !ok {
		d.mu.Unlock()
		return ErrNotInRoom
	}
	if room.Session.state != StateActive {
		d.mu.Unlock()
		return ErrGameNotActive
	}
	if room.Session.drawFrom != color.Opponent() {
		d.mu.Unlock()
		return ErrNoDrawOffer
	}
	room.Session.finish("draw", "")
	occupants := room.occupants()
	roomID := room.ID
	moves := room.Session.MovesUCI()
	d.mu.Unlock()

	obslog.L().Info("draw_agreed", zap.String("room_id", roomID))
	for _, occ := range occupants {
		d.send(occ, relaydto.NewGameOver("draw", ""))
	}
	if d.onResult != nil {
		d.onResult(roomID, "draw", "", moves)
	}
	return nil
}

// DeclineDraw clears the opponent's pending offer and relays the decline.
func (d *Directory) DeclineDraw(connID string) error {
	d.mu.Lock()
	room, color, ok := d.seatLocked(connID)
	if !ok {
		d.mu.Unlock()
		return ErrNotInRoom
	}
	if room.Session.drawFrom != color.Opponent() {
		d.mu.Unlock()
		return ErrNoDrawOffer
	}
	room.Session.drawFrom = ""
	opp := room.seatOf(color.Opponent())
	d.mu.Unlock()

	d.send(opp, relaydto.NewDrawDecline())
	return nil
}

// Resign ends the match immediately; the winner is the opponent's color.
func (d *Directory) Resign(connID string) error {
	d.mu.Lock()
	room, color, ok := d.seatLocked(connID)
	if !ok {
		d.mu.Unlock()
		return ErrNotInRoom
	}
	if room.Session.state != StateActive {
		d.mu.Unlock()
		return ErrGameNotActive
	}
	winner := color.Opponent()
	room.Session.finish("resignation", winner)
	occupants := room.occupants()
	roomID := room.ID
	moves := room.Session.MovesUCI()
	d.mu.Unlock()

	obslog.L().Info("resign", zap.String("room_id", roomID), zap.String("conn_id", connID), zap.String("winner", string(winner)))
	for _, occ := range occupants {
		d.send(occ, relaydto.NewResignNotice(string(winner)))
	}
	if d.onResult != nil {
		d.onResult(roomID, "resignation", string(winner), moves)
	}
	return nil
}

// ReportGameOver finishes the match from the engine's own verdict, covering
// terminal positions reached outside the move path, and broadcasts the
// result. Errors when the engine still sees a live game.
func (d *Directory) ReportGameOver(connID string) error {
	d.mu.Lock()
	room, _, ok := d.seatLocked(connID)
	if !ok {
		d.mu.Unlock()
		return ErrNotInRoom
	}
	if room.Session.state != StateActive {
		d.mu.Unlock()
		return ErrGameNotActive
	}
	result, winner, over := room.Session.engineOutcome()
	if !over {
		d.mu.Unlock()
		return ErrGameNotOver
	}
	room.Session.finish(result, winner)
	occupants := room.occupants()
	roomID := room.ID
	moves := room.Session.MovesUCI()
	d.mu.Unlock()

	for _, occ := range occupants {
		d.send(occ, relaydto.NewGameOver(result, string(winner)))
	}
	if d.onResult != nil {
		d.onResult(roomID, result, string(winner), moves)
	}
	return nil
}

// SessionView returns a read-only snapshot of the session backing connID's
// room.
func (d *Directory) SessionView(connID string) (SessionView, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, color, ok := d.seatLocked(connID)
	if !ok {
		return SessionView{}, false
	}
	result, winner := room.Session.Result()
	return SessionView{
		RoomID: room.ID,
		Color:  color,
		State:  room.Session.State(),
		FEN:    room.Session.FEN(),
		Turn:   room.Session.Turn(),
		Ply:    room.Session.Ply(),
		Result: result,
		Winner: winner,
	}, true
}

// SessionView is a point-in-time snapshot used by handlers and tests.
type SessionView struct {
	RoomID string
	Color  Color
	State  State
	FEN    string
	Turn   Color
	Ply    int
	Result string
	Winner Color
}

func (d *Directory) seatLocked(connID string) (*Room, Color, bool) {
	roomID, ok := d.seats[connID]
	if !ok {
		return nil, "", false
	}
	room, ok := d.rooms[roomID]
	if !ok {
		return nil, "", false
	}
	color, ok := room.colorOf(connID)
	return room, color, ok
}
