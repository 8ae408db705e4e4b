package testutil

import (
	"sync"

	"github.com/google/uuid"
)

// Delivery is one event pushed to one user.
type Delivery struct {
	UserID uuid.UUID
	Event  any
}

// Notifier records pushed events and reports a user as reached when it was
// marked online with SetOnline. It is safe for concurrent use.
type Notifier struct {
	mu         sync.Mutex
	online     map[uuid.UUID]bool
	deliveries []Delivery
}

func NewNotifier() *Notifier {
	return &Notifier{online: make(map[uuid.UUID]bool)}
}

func (n *Notifier) SetOnline(userID uuid.UUID, online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.online[userID] = online
}

func (n *Notifier) IsOnline(userID uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online[userID]
}

func (n *Notifier) DeliverToUser(userID uuid.UUID, event any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.online[userID] {
		return false
	}
	n.deliveries = append(n.deliveries, Delivery{UserID: userID, Event: event})
	return true
}

func (n *Notifier) DeliverToUsers(userIDs []uuid.UUID, event any) map[uuid.UUID]bool {
	reached := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		if n.DeliverToUser(id, event) {
			reached[id] = true
		}
	}
	return reached
}

// For returns the events delivered to userID in order.
func (n *Notifier) For(userID uuid.UUID) []any {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []any
	for _, d := range n.deliveries {
		if d.UserID == userID {
			out = append(out, d.Event)
		}
	}
	return out
}

func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = nil
}
