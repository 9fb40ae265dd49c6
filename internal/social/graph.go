package social

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/oakgames/chessrelay/internal/obslog"
	"github.com/oakgames/chessrelay/pkg/relaydto"
)

var (
	ErrSelf      = errors.New("cannot target yourself")
	ErrNotFound  = errors.New("identity not known")
	ErrBlocked   = errors.New("target has blocked you")
	ErrNoRequest = errors.New("no pending request from that identity")
)

// Presence answers the one identity question the graph cannot answer itself:
// whether an identity has ever authenticated in this process. Implemented by
// registry.Registry.
type Presence interface {
	Known(identity string) bool
}

// Sender delivers an outbound message to an identity's live connection, if
// any. Deliveries to offline identities are silently skipped; pending state
// still mutates so the notice arrives through other means when the identity
// returns.
type Sender func(identity string, msg any)

// Graph holds friendships as two directed adjacency entries per edge, plus
// pending friend requests and directed block edges. All identities are
// lowercased at the boundary.
type Graph struct {
	mu       sync.Mutex
	friends  map[string]map[string]bool // identity -> set of friends
	pending  map[string]map[string]bool // to -> set of from
	blocks   map[string]map[string]bool // blocker -> set of blocked
	presence Presence
	send     Sender
}

func NewGraph(presence Presence, send Sender) *Graph {
	return &Graph{
		friends:  make(map[string]map[string]bool),
		pending:  make(map[string]map[string]bool),
		blocks:   make(map[string]map[string]bool),
		presence: presence,
		send:     send,
	}
}

// SendRequest files a pending friend request from -> to and notifies the
// target's live connection. The target does not need to be online, but it
// must have been seen by the relay at some point.
func (g *Graph) SendRequest(from, to string) error {
	from, to = norm(from), norm(to)
	if from == to {
		return ErrSelf
	}
	if !g.presence.Known(to) {
		return ErrNotFound
	}

	g.mu.Lock()
	if g.blocks[to][from] {
		g.mu.Unlock()
		return ErrBlocked
	}
	if g.friends[from][to] {
		g.mu.Unlock()
		return nil // already friends; treat as a no-op
	}
	addEdge(g.pending, to, from)
	g.mu.Unlock()

	obslog.L().Info("friend_request", zap.String("from", from), zap.String("to", to))
	g.send(to, relaydto.NewFriendRequestNotice(from))
	return nil
}

// AcceptRequest materializes the symmetric friendship edge, removes the
// pending request, and notifies both sides.
func (g *Graph) AcceptRequest(identity, from string) error {
	identity, from = norm(identity), norm(from)

	g.mu.Lock()
	if !g.pending[identity][from] {
		g.mu.Unlock()
		return ErrNoRequest
	}
	removeEdge(g.pending, identity, from)
	addEdge(g.friends, identity, from)
	addEdge(g.friends, from, identity)
	g.mu.Unlock()

	obslog.L().Info("friend_accept", zap.String("identity", identity), zap.String("from", from))
	g.send(identity, relaydto.NewFriendAccepted(from))
	g.send(from, relaydto.NewFriendAccepted(identity))
	return nil
}

// RejectRequest drops the pending request and notifies the requester.
func (g *Graph) RejectRequest(identity, from string) error {
	identity, from = norm(identity), norm(from)

	g.mu.Lock()
	if !g.pending[identity][from] {
		g.mu.Unlock()
		return ErrNoRequest
	}
	removeEdge(g.pending, identity, from)
	g.mu.Unlock()

	g.send(from, relaydto.NewFriendRejected(identity))
	return nil
}

// RemoveFriend removes both directed adjacency entries and notifies the
// other side if online.
func (g *Graph) RemoveFriend(identity, other string) error {
	identity, other = norm(identity), norm(other)

	g.mu.Lock()
	removeEdge(g.friends, identity, other)
	removeEdge(g.friends, other, identity)
	g.mu.Unlock()

	g.send(other, relaydto.NewFriendRemoved(identity))
	return nil
}

// Block adds a directed block edge and severs any existing friendship along
// with pending requests in either direction. The severing is silent to the
// blocked side.
func (g *Graph) Block(identity, other string) error {
	identity, other = norm(identity), norm(other)
	if identity == other {
		return ErrSelf
	}

	g.mu.Lock()
	addEdge(g.blocks, identity, other)
	removeEdge(g.friends, identity, other)
	removeEdge(g.friends, other, identity)
	removeEdge(g.pending, identity, other)
	removeEdge(g.pending, other, identity)
	g.mu.Unlock()

	obslog.L().Info("block", zap.String("identity", identity), zap.String("other", other))
	return nil
}

// Unblock removes the block edge only; a severed friendship stays severed.
func (g *Graph) Unblock(identity, other string) error {
	identity, other = norm(identity), norm(other)

	g.mu.Lock()
	removeEdge(g.blocks, identity, other)
	g.mu.Unlock()
	return nil
}

// IsBlocked reports whether blocker has a block edge to blocked; presence of
// the edge suppresses friend-request and chat delivery in that direction.
func (g *Graph) IsBlocked(blocker, blocked string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocks[norm(blocker)][norm(blocked)]
}

// Friends returns identity's friend list.
func (g *Graph) Friends(identity string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.friends[norm(identity)]
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	return out
}

// AreFriends reports whether the symmetric edge exists.
func (g *Graph) AreFriends(a, b string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.friends[norm(a)][norm(b)]
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func addEdge(m map[string]map[string]bool, from, to string) {
	set, ok := m[from]
	if !ok {
		set = make(map[string]bool)
		m[from] = set
	}
	set[to] = true
}

func removeEdge(m map[string]map[string]bool, from, to string) {
	if set, ok := m[from]; ok {
		delete(set, to)
		if len(set) == 0 {
			delete(m, from)
		}
	}
}
