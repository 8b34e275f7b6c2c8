package gateway

import (
	"testing"

	"loolgw/internal/models"
)

func TestMatchRegistryDeliverToWaiter(t *testing.T) {
	m := newMatchRegistry()
	id := models.NewSessionID()

	ch := m.register(id)
	link := &workerLink{sessionID: id, jailID: "jail-1", pid: 42}
	m.deliver(id, link)

	got := <-ch
	if got != link {
		t.Fatalf("expected delivered link to be the registered one")
	}
}

func TestMatchRegistryUnregisterStopsDelivery(t *testing.T) {
	m := newMatchRegistry()
	id := models.NewSessionID()

	ch := m.register(id)
	m.unregister(id)

	select {
	case <-ch:
		t.Fatalf("unregistered channel should never receive")
	default:
	}
}
