package relaydto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound is the closed set of client->server messages. Every message is a
// single JSON object carrying a "type" discriminator; Decode resolves the
// discriminator exactly once at the transport boundary.
type Inbound interface {
	inbound()
}

type Authenticate struct {
	Username string `json:"username"`
}

type ListRooms struct{}

type Join struct {
	RoomID string `json:"roomId"`
}

type Leave struct{}

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI returns the move in UCI notation (e2e4, e7e8q).
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

type DrawOffer struct{}
type DrawAccept struct{}
type DrawDecline struct{}
type Resign struct{}

type Chat struct {
	Message string `json:"message"`
}

type BanUser struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
	Duration int    `json:"duration"`
	Unit     string `json:"unit"`
}

type UnbanUser struct {
	Username string `json:"username"`
}

type GetBannedUsers struct{}

type SendFriendRequest struct {
	To string `json:"to"`
}

type AcceptFriendRequest struct {
	From string `json:"from"`
}

type RejectFriendRequest struct {
	From string `json:"from"`
}

type RemoveFriend struct {
	Username string `json:"username"`
}

type BlockUser struct {
	Username string `json:"username"`
}

type UnblockUser struct {
	Username string `json:"username"`
}

type Report struct {
	ReportType  string `json:"reportType"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (Authenticate) inbound()        {}
func (ListRooms) inbound()           {}
func (Join) inbound()                {}
func (Leave) inbound()               {}
func (Move) inbound()                {}
func (DrawOffer) inbound()           {}
func (DrawAccept) inbound()          {}
func (DrawDecline) inbound()         {}
func (Resign) inbound()              {}
func (Chat) inbound()                {}
func (BanUser) inbound()             {}
func (UnbanUser) inbound()           {}
func (GetBannedUsers) inbound()      {}
func (SendFriendRequest) inbound()   {}
func (AcceptFriendRequest) inbound() {}
func (RejectFriendRequest) inbound() {}
func (RemoveFriend) inbound()        {}
func (BlockUser) inbound()           {}
func (UnblockUser) inbound()         {}
func (Report) inbound()              {}

var ErrUnknownType = errors.New("unknown message type")

// Decode parses one raw transport frame into its typed inbound message.
func Decode(raw []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	var (
		msg Inbound
		err error
	)
	switch env.Type {
	case "authenticate":
		msg, err = into[Authenticate](raw)
	case "listRooms":
		msg, err = into[ListRooms](raw)
	case "join":
		msg, err = into[Join](raw)
	case "leave":
		msg, err = into[Leave](raw)
	case "move":
		msg, err = into[Move](raw)
	case "drawOffer":
		msg, err = into[DrawOffer](raw)
	case "drawAccept":
		msg, err = into[DrawAccept](raw)
	case "drawDecline":
		msg, err = into[DrawDecline](raw)
	case "resign":
		msg, err = into[Resign](raw)
	case "chat":
		msg, err = into[Chat](raw)
	case "banUser":
		msg, err = into[BanUser](raw)
	case "unbanUser":
		msg, err = into[UnbanUser](raw)
	case "getBannedUsers":
		msg, err = into[GetBannedUsers](raw)
	case "sendFriendRequest":
		msg, err = into[SendFriendRequest](raw)
	case "acceptFriendRequest":
		msg, err = into[AcceptFriendRequest](raw)
	case "rejectFriendRequest":
		msg, err = into[RejectFriendRequest](raw)
	case "removeFriend":
		msg, err = into[RemoveFriend](raw)
	case "blockUser":
		msg, err = into[BlockUser](raw)
	case "unblockUser":
		msg, err = into[UnblockUser](raw)
	case "report":
		msg, err = into[Report](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return msg, err
}

func into[T Inbound](raw []byte) (Inbound, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	return v, nil
}
