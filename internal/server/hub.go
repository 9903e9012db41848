package server

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/logging"
	"github.com/sjawhar/newscast/internal/session"
)

// Hub fans session events out to every connected UI. Slow subscribers miss
// messages rather than blocking the session.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	log     *zap.Logger
}

var _ session.EventBroadcaster = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		log:     logging.OrNop(logger),
	}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) BroadcastModeChanged(mode session.Mode) {
	h.broadcastEvent(ModeChangedEvent{
		Event: newEvent("mode_changed", time.Now().UTC()),
		Mode:  mode.String(),
	})
}

func (h *Hub) BroadcastStatusChanged(line string) {
	h.broadcastEvent(StatusChangedEvent{
		Event:  newEvent("status_changed", time.Now().UTC()),
		Status: line,
	})
}

func (h *Hub) BroadcastTranscribed(text string) {
	h.broadcastEvent(TranscribedEvent{
		Event: newEvent("transcribed", time.Now().UTC()),
		Text:  text,
	})
}

func (h *Hub) BroadcastReturnAvailable(available bool) {
	h.broadcastEvent(ReturnAvailableEvent{
		Event:     newEvent("return_available", time.Now().UTC()),
		Available: available,
	})
}

func (h *Hub) BroadcastBriefLoaded(briefID string, position time.Duration) {
	h.broadcastEvent(BriefLoadedEvent{
		Event:    newEvent("brief_loaded", time.Now().UTC()),
		BriefID:  briefID,
		Position: position.Seconds(),
	})
}

func (h *Hub) BroadcastVADChanged(enabled bool) {
	h.broadcastEvent(VADChangedEvent{
		Event:   newEvent("vad_changed", time.Now().UTC()),
		Enabled: enabled,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("event marshal failed", zap.Error(err))
		return
	}
	h.Broadcast(payload)
}
