package ws

import (
	"strings"

	"github.com/comanda-app/api/internal/events"
)

// Bridge forwards order events from the broker to the staff room and to the
// room of the order they concern. Cancel the returned subscription to stop.
func Bridge(hub *Hub, broker *events.Broker) *events.Subscription {
	isOrderEvent := func(e events.Event) bool {
		return strings.HasPrefix(e.Type, "order.")
	}
	return broker.Subscribe(isOrderEvent, func(e events.Event) {
		msg := Event{Type: e.Type, Status: e.Status, Payload: e.Payload}
		hub.Broadcast(StaffRoom, msg)
		hub.Broadcast(OrderRoom(e.EntityID), msg)
	})
}
