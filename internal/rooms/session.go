package rooms

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Session is the authoritative game state bound to an occupied room. It is
// mutated only under the directory lock; the directory is the sole caller.
type Session struct {
	game     *nchess.Game
	state    State
	ply      int
	movesUCI []string
	drawFrom Color // seat with a pending draw offer, "" when none
	result   string
	winner   Color
}

func newSession() *Session {
	return &Session{game: nchess.NewGame(), state: StateWaiting}
}

// Turn returns the color to move, always derived from the engine position so
// it cannot disagree with the authoritative board.
func (s *Session) Turn() Color {
	return colorFrom(s.game.Position().Turn())
}

// FEN returns the authoritative position.
func (s *Session) FEN() string { return s.game.FEN() }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Ply returns the number of accepted half-moves.
func (s *Session) Ply() int { return s.ply }

// Result returns the terminal result and winner, valid once terminal.
func (s *Session) Result() (string, Color) { return s.result, s.winner }

// MovesUCI returns the accepted move list.
func (s *Session) MovesUCI() []string {
	out := make([]string, len(s.movesUCI))
	copy(out, s.movesUCI)
	return out
}

// apply validates and plays one UCI move for mover. On acceptance the turn
// advances with the engine position; the session never tracks turn
// separately.
func (s *Session) apply(mover Color, uci string) (MoveResult, error) {
	if s.state != StateActive {
		return MoveResult{}, ErrGameNotActive
	}
	if s.Turn() != mover {
		return MoveResult{}, ErrNotYourTurn
	}

	uci = strings.ToLower(strings.TrimSpace(uci))
	if uci == "" {
		return MoveResult{}, ErrIllegalMove
	}
	pos := s.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return MoveResult{}, ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := s.game.Move(mv, nil); err != nil {
		return MoveResult{}, ErrIllegalMove
	}
	s.ply++
	s.movesUCI = append(s.movesUCI, uci)
	s.drawFrom = "" // a played move voids any standing draw offer

	res := MoveResult{
		FEN:  s.game.FEN(),
		SAN:  san,
		Turn: s.Turn(),
		Ply:  s.ply,
	}
	if result, winner, over := s.engineOutcome(); over {
		s.finish(result, winner)
		res.GameOver = true
		res.Result = result
		res.Winner = winner
	}
	return res, nil
}

// engineOutcome maps the engine's outcome to a terminal result.
func (s *Session) engineOutcome() (string, Color, bool) {
	switch s.game.Outcome() {
	case nchess.WhiteWon:
		return "checkmate", White, true
	case nchess.BlackWon:
		return "checkmate", Black, true
	case nchess.Draw:
		if s.game.Method() == nchess.Stalemate {
			return "stalemate", "", true
		}
		return "draw", "", true
	}
	return "", "", false
}

func (s *Session) finish(result string, winner Color) {
	s.state = StateTerminal
	s.result = result
	s.winner = winner
	s.drawFrom = ""
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}
