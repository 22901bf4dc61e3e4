package server

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"tradefeed/models"
)

// Broadcaster fans trade events out to the connected SSE clients
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.TradeEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.TradeEvent),
	}
}

// Broadcast sends the event to every client without blocking. Clients whose
// buffer is full miss the event.
func (b *Broadcaster) Broadcast(event models.TradeEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.clients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping %s event for client: %v", event.Type, id)
		}
	}
}

func (b *Broadcaster) AddClient(key string, client chan models.TradeEvent) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client
	sseClients.Set(float64(len(b.clients)))
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

// RemoveClient closes and forgets the client channel. Unknown keys are ignored.
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}
	sseClients.Set(float64(len(b.clients)))

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Count() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
	sseClients.Set(0)
}
