package ws

import (
	"slices"
	"sync"

	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/transport"
)

type member struct {
	peer   Peer
	userID string
}

// RoomManager tracks connected peers and the chats each one joined. It is
// safe for concurrent use so HTTP handlers can broadcast without the hub loop.
type RoomManager struct {
	peers  map[string]Peer                // peerID -> peer
	rooms  map[string]map[string]*member  // chatID -> peerID -> member
	joined map[string]map[string]struct{} // peerID -> chatIDs
	logger logging.Logger
	mu     sync.RWMutex

	// onSlow is called for a peer whose buffer was full. It must not block.
	onSlow func(Peer)
}

func NewRoomManager(logger logging.Logger) *RoomManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RoomManager{
		peers:  make(map[string]Peer),
		rooms:  make(map[string]map[string]*member),
		joined: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

func (rm *RoomManager) AddPeer(p Peer) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.peers[p.ID()]; exists {
		return false
	}
	rm.peers[p.ID()] = p
	return true
}

// RemovePeer drops p from every chat and returns chatID -> userID for each
// membership it held. ok is false when p was not registered.
func (rm *RoomManager) RemovePeer(p Peer) (left map[string]string, ok bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.peers[p.ID()]; !exists {
		return nil, false
	}
	delete(rm.peers, p.ID())

	left = make(map[string]string)
	for chatID := range rm.joined[p.ID()] {
		if m, ok := rm.rooms[chatID][p.ID()]; ok {
			left[chatID] = m.userID
		}
		rm.removeLocked(chatID, p.ID())
	}
	delete(rm.joined, p.ID())

	return left, true
}

// Join reports whether the membership changed.
func (rm *RoomManager) Join(chatID, userID string, p Peer) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.peers[p.ID()]; !exists {
		return false
	}

	room, ok := rm.rooms[chatID]
	if !ok {
		room = make(map[string]*member)
		rm.rooms[chatID] = room
	}
	if m, exists := room[p.ID()]; exists && m.userID == userID {
		return false
	}
	room[p.ID()] = &member{peer: p, userID: userID}

	chats, ok := rm.joined[p.ID()]
	if !ok {
		chats = make(map[string]struct{})
		rm.joined[p.ID()] = chats
	}
	chats[chatID] = struct{}{}

	return true
}

func (rm *RoomManager) Leave(chatID string, p Peer) (userID string, ok bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.rooms[chatID][p.ID()]
	if !ok {
		return "", false
	}
	rm.removeLocked(chatID, p.ID())
	delete(rm.joined[p.ID()], chatID)

	return m.userID, true
}

func (rm *RoomManager) removeLocked(chatID, peerID string) {
	room, ok := rm.rooms[chatID]
	if !ok {
		return
	}
	delete(room, peerID)
	if len(room) == 0 {
		delete(rm.rooms, chatID)
	}
}

func (rm *RoomManager) Peers() []Peer {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	peers := make([]Peer, 0, len(rm.peers))
	for _, p := range rm.peers {
		peers = append(peers, p)
	}
	return peers
}

// Members returns the user ids present in a chat, sorted and deduplicated.
func (rm *RoomManager) Members(chatID string) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	users := make([]string, 0, len(rm.rooms[chatID]))
	for _, m := range rm.rooms[chatID] {
		users = append(users, m.userID)
	}
	slices.Sort(users)
	return slices.Compact(users)
}

// BroadcastToRoom delivers frame to every member of chatID except skip.
func (rm *RoomManager) BroadcastToRoom(chatID string, frame transport.Frame, skip Peer) int {
	rm.mu.RLock()
	targets := make([]Peer, 0, len(rm.rooms[chatID]))
	for _, m := range rm.rooms[chatID] {
		if skip == nil || m.peer.ID() != skip.ID() {
			targets = append(targets, m.peer)
		}
	}
	rm.mu.RUnlock()

	return rm.deliver(targets, frame, chatID)
}

// BroadcastAll delivers frame to every connected peer except skip.
func (rm *RoomManager) BroadcastAll(frame transport.Frame, skip Peer) int {
	rm.mu.RLock()
	targets := make([]Peer, 0, len(rm.peers))
	for _, p := range rm.peers {
		if skip == nil || p.ID() != skip.ID() {
			targets = append(targets, p)
		}
	}
	rm.mu.RUnlock()

	return rm.deliver(targets, frame, "")
}

func (rm *RoomManager) deliver(targets []Peer, frame transport.Frame, chatID string) int {
	delivered := 0
	for _, p := range targets {
		if p.Deliver(frame) {
			delivered++
			continue
		}
		// A frame the peer never sees would leave a silent gap in its stream,
		// so a slow peer is disconnected and has to resync.
		rm.logger.Warn(logging.Hub, logging.Wire, "peer buffer full, disconnecting", map[logging.ExtraKey]any{
			logging.SessionID: p.ID(),
			logging.ChatID:    chatID,
			logging.Event:     frame.Type,
		})
		if rm.onSlow != nil {
			rm.onSlow(p)
		}
	}
	return delivered
}
