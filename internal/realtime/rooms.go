package realtime

import (
	"maps"
	"slices"

	"github.com/hilthontt/visper-realtime/internal/domain"
)

// rooms is the joined set replayed after every reconnection. It is guarded by
// the Manager's mutex.
type rooms struct {
	joined map[string]string // chatID -> userID
}

func newRooms() *rooms {
	return &rooms{joined: make(map[string]string)}
}

// join records the intent and reports whether it changed anything.
func (r *rooms) join(chatID, userID string) bool {
	if prev, ok := r.joined[chatID]; ok && prev == userID {
		return false
	}
	r.joined[chatID] = userID
	return true
}

// leave reports whether the room was joined.
func (r *rooms) leave(chatID string) bool {
	if _, ok := r.joined[chatID]; !ok {
		return false
	}
	delete(r.joined, chatID)
	return true
}

func (r *rooms) has(chatID string) bool {
	_, ok := r.joined[chatID]
	return ok
}

func (r *rooms) ids() []string {
	return slices.Sorted(maps.Keys(r.joined))
}

// memberships returns one join payload per room, ordered by chat id.
func (r *rooms) memberships() []domain.MembershipPayload {
	out := make([]domain.MembershipPayload, 0, len(r.joined))
	for _, chatID := range r.ids() {
		out = append(out, domain.MembershipPayload{ChatID: chatID, UserID: r.joined[chatID]})
	}
	return out
}
