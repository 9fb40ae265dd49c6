package relaydto

import "time"

// Outbound messages carry their own "type" discriminator so they can be
// written to the transport as-is. Constructors fill the discriminator.

type Authenticated struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

func NewAuthenticated(username string) Authenticated {
	return Authenticated{Type: "authenticated", Username: username}
}

type ErrorReply struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) ErrorReply {
	return ErrorReply{Type: "error", Code: code, Message: message}
}

type UserBanned struct {
	Type      string     `json:"type"`
	Reason    string     `json:"reason"`
	Duration  int        `json:"duration"`
	Unit      string     `json:"unit"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Message   string     `json:"message"`
}

func NewUserBanned(reason string, duration int, unit string, expiresAt *time.Time, message string) UserBanned {
	return UserBanned{Type: "userBanned", Reason: reason, Duration: duration, Unit: unit, ExpiresAt: expiresAt, Message: message}
}

type RoomList struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

func NewRoomList(ids []string) RoomList { return RoomList{Type: "rooms", IDs: ids} }

type Joined struct {
	Type  string `json:"type"`
	Color string `json:"color"`
}

func NewJoined(color string) Joined { return Joined{Type: "joined", Color: color} }

type Start struct {
	Type string `json:"type"`
}

func NewStart() Start { return Start{Type: "start"} }

type Left struct {
	Type string `json:"type"`
}

func NewLeft() Left { return Left{Type: "left"} }

type MoveRelay struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	FEN       string `json:"fen"`
}

func NewMoveRelay(from, to, promotion, fen string) MoveRelay {
	return MoveRelay{Type: "move", From: from, To: to, Promotion: promotion, FEN: fen}
}

type MoveAccepted struct {
	Type string `json:"type"`
	FEN  string `json:"fen"`
	Turn string `json:"turn"`
}

func NewMoveAccepted(fen, turn string) MoveAccepted {
	return MoveAccepted{Type: "moveAccepted", FEN: fen, Turn: turn}
}

type RoomClosed struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewRoomClosed(message string) RoomClosed {
	return RoomClosed{Type: "roomClosed", Message: message}
}

type DrawOfferRelay struct {
	Type string `json:"type"`
}

func NewDrawOffer() DrawOfferRelay { return DrawOfferRelay{Type: "drawOffer"} }

type DrawDeclineRelay struct {
	Type string `json:"type"`
}

func NewDrawDecline() DrawDeclineRelay { return DrawDeclineRelay{Type: "drawDecline"} }

type ResignNotice struct {
	Type   string `json:"type"`
	Winner string `json:"winner"`
}

func NewResignNotice(winner string) ResignNotice {
	return ResignNotice{Type: "resign", Winner: winner}
}

type GameOver struct {
	Type   string `json:"type"`
	Result string `json:"result"`
	Winner string `json:"winner,omitempty"`
}

func NewGameOver(result, winner string) GameOver {
	return GameOver{Type: "gameOver", Result: result, Winner: winner}
}

type ChatRelay struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

func NewChatRelay(username, message string) ChatRelay {
	return ChatRelay{Type: "chat", Username: username, Message: message}
}

type AccountConflict struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAccountConflict(message string) AccountConflict {
	return AccountConflict{Type: "accountConflict", Message: message}
}

// BannedUser is one entry of BannedUsersList.
type BannedUser struct {
	Username  string     `json:"username"`
	Reason    string     `json:"reason"`
	Actor     string     `json:"actor"`
	Duration  int        `json:"duration"`
	Unit      string     `json:"unit"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type BannedUsersList struct {
	Type  string       `json:"type"`
	Users []BannedUser `json:"users"`
}

func NewBannedUsersList(users []BannedUser) BannedUsersList {
	return BannedUsersList{Type: "bannedUsersList", Users: users}
}

type BanApplied struct {
	Type      string     `json:"type"`
	Username  string     `json:"username"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func NewBanApplied(username string, expiresAt *time.Time) BanApplied {
	return BanApplied{Type: "banApplied", Username: username, ExpiresAt: expiresAt}
}

type UnbanApplied struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

func NewUnbanApplied(username string) UnbanApplied {
	return UnbanApplied{Type: "unbanApplied", Username: username}
}

type BanExpired struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewBanExpired(message string) BanExpired {
	return BanExpired{Type: "banExpired", Message: message}
}

type FriendRequestNotice struct {
	Type string `json:"type"`
	From string `json:"from"`
}

func NewFriendRequestNotice(from string) FriendRequestNotice {
	return FriendRequestNotice{Type: "friendRequest", From: from}
}

type FriendAccepted struct {
	Type   string `json:"type"`
	Friend string `json:"friend"`
}

func NewFriendAccepted(friend string) FriendAccepted {
	return FriendAccepted{Type: "friendAccepted", Friend: friend}
}

type FriendRejected struct {
	Type   string `json:"type"`
	Friend string `json:"friend"`
}

func NewFriendRejected(friend string) FriendRejected {
	return FriendRejected{Type: "friendRejected", Friend: friend}
}

type FriendRemoved struct {
	Type   string `json:"type"`
	Friend string `json:"friend"`
}

func NewFriendRemoved(friend string) FriendRemoved {
	return FriendRemoved{Type: "friendRemoved", Friend: friend}
}

type Blocked struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

func NewBlocked(username string) Blocked { return Blocked{Type: "blocked", Username: username} }

type Unblocked struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

func NewUnblocked(username string) Unblocked {
	return Unblocked{Type: "unblocked", Username: username}
}

type ReportReceived struct {
	Type string `json:"type"`
}

func NewReportReceived() ReportReceived { return ReportReceived{Type: "reportReceived"} }

// Ack is the generic success reply for requests with no richer response
// shape; Op names the request being acknowledged.
type Ack struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

func NewAck(op string) Ack { return Ack{Type: "ok", Op: op} }
