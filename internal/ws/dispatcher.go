package ws

import (
	"encoding/json"

	"chatline/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher pushes events to the sessions held in the Registry. Delivery
// is best effort: a session that fails a push is evicted and closed, and
// the failure is never reported to the caller.
type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewDispatcher(registry *Registry, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		metrics:  m,
		log:      log,
	}
}

// DeliverToUser reports whether the event was handed to userID's session.
func (d *Dispatcher) DeliverToUser(userID uuid.UUID, event any) bool {
	data, ok := d.encode(event)
	if !ok {
		return false
	}
	return d.deliver(userID, data)
}

// DeliverToUsers pushes the event to each user independently and returns
// the users it reached. Sends never block, so recipients are served in turn.
func (d *Dispatcher) DeliverToUsers(userIDs []uuid.UUID, event any) map[uuid.UUID]bool {
	reached := make(map[uuid.UUID]bool, len(userIDs))
	data, ok := d.encode(event)
	if !ok {
		return reached
	}
	for _, id := range userIDs {
		if d.deliver(id, data) {
			reached[id] = true
		}
	}
	return reached
}

// BroadcastAll pushes the event to every registered session.
func (d *Dispatcher) BroadcastAll(event any) {
	data, ok := d.encode(event)
	if !ok {
		return
	}
	for userID, s := range d.registry.all() {
		d.push(userID, s, data)
	}
}

func (d *Dispatcher) encode(event any) ([]byte, bool) {
	data, err := json.Marshal(event)
	if err != nil {
		d.log.Error("failed to marshal event", zap.Error(err))
		return nil, false
	}
	return data, true
}

func (d *Dispatcher) deliver(userID uuid.UUID, data []byte) bool {
	s, ok := d.registry.Lookup(userID)
	if !ok {
		d.metrics.Deliveries.WithLabelValues("offline").Inc()
		return false
	}
	return d.push(userID, s, data)
}

func (d *Dispatcher) push(userID uuid.UUID, s Session, data []byte) bool {
	if err := s.Send(data); err != nil {
		d.metrics.Deliveries.WithLabelValues("failed").Inc()
		d.log.Warn("push failed, evicting session", zap.Stringer("user_id", userID), zap.Error(err))
		d.registry.Unregister(userID, s)
		s.Close()
		return false
	}
	d.metrics.Deliveries.WithLabelValues("delivered").Inc()
	return true
}
