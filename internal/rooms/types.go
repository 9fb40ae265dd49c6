package rooms

import (
	"errors"
	"time"
)

// Color identifies a seat.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other seat's color.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// State is the match session lifecycle. Terminal is absorbing; a new match
// requires a new room.
type State string

const (
	StateWaiting  State = "WAITING"
	StateActive   State = "ACTIVE"
	StateTerminal State = "TERMINAL"
)

// Room is a two-seat match container. Seats hold connection ids, never
// connection objects; the registry owns those.
type Room struct {
	ID        string
	CreatedAt time.Time
	White     string // conn id, "" when empty
	Black     string
	Session   *Session
}

func (r *Room) occupants() []string {
	out := make([]string, 0, 2)
	if r.White != "" {
		out = append(out, r.White)
	}
	if r.Black != "" {
		out = append(out, r.Black)
	}
	return out
}

func (r *Room) colorOf(connID string) (Color, bool) {
	switch connID {
	case r.White:
		if connID != "" {
			return White, true
		}
	case r.Black:
		if connID != "" {
			return Black, true
		}
	}
	return "", false
}

func (r *Room) seatOf(c Color) string {
	if c == White {
		return r.White
	}
	return r.Black
}

var (
	ErrAlreadySeated = errors.New("connection already occupies a room")
	ErrRoomFull      = errors.New("room already has two occupants")
	ErrMatchFinished = errors.New("match already finished")
	ErrNotInRoom     = errors.New("connection occupies no room")
	ErrGameNotActive = errors.New("match is not active")
	ErrNotYourTurn   = errors.New("not your turn")
	ErrIllegalMove   = errors.New("illegal move")
	ErrNoDrawOffer   = errors.New("no pending draw offer")
	ErrGameNotOver   = errors.New("position is not a finished game")
)

// MoveResult is the authoritative state after an accepted move.
type MoveResult struct {
	FEN      string
	SAN      string
	Turn     Color
	Ply      int
	GameOver bool
	Result   string // checkmate | stalemate | draw, set when GameOver
	Winner   Color  // "" on draw
}
