package relaydto

// Stable error codes carried by ErrorReply.Code.
const (
	CodeProtocolError    = "protocol_error"
	CodeInternalError    = "internal_error"
	CodeNotAuthenticated = "not_authenticated"
	CodeNameInvalid      = "name_invalid"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeRoomFull         = "room_full"
	CodeMatchFinished    = "match_finished"
	CodeAlreadySeated    = "already_seated"
	CodeNotInRoom        = "not_in_room"
	CodeNotYourTurn      = "not_your_turn"
	CodeIllegalMove      = "illegal_move"
	CodeGameNotActive    = "game_not_active"
	CodeNoDrawOffer      = "no_draw_offer"
	CodeAlreadyBanned    = "already_banned"
	CodeNotBanned        = "not_banned"
	CodeInvalidUnit      = "invalid_unit"
	CodeInvalidDuration  = "invalid_duration"
	CodeSelfTarget       = "self_target"
	CodeBlocked          = "blocked"
	CodeNoRequest        = "no_request"
)
