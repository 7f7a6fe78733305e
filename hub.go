package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub owns the set of rooms and routes every mutation of room state.
// Room creation, destruction, and the grace-timer set are guarded by
// the hub lock; per-room member churn happens under each room's lock.
type Hub struct {
	cfg   *Config
	log   *zap.Logger
	docs  *DocumentRegistry
	quota *ConnQuota

	mu          sync.RWMutex
	rooms       map[string]*Room
	graceTimers map[string]*time.Timer

	startedAt time.Time
}

func NewHub(cfg *Config, log *zap.Logger, docs *DocumentRegistry, quota *ConnQuota) *Hub {
	return &Hub{
		cfg:         cfg,
		log:         log,
		docs:        docs,
		quota:       quota,
		rooms:       make(map[string]*Room),
		graceTimers: make(map[string]*time.Timer),
		startedAt:   time.Now(),
	}
}

// AddClient registers a client, creating the room on first join and
// cancelling any pending grace timer in the same critical section so a
// rejoin can never lose to a concurrent expiry.
func (h *Hub) AddClient(roomID string, c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.graceTimers[roomID]; ok {
		t.Stop()
		delete(h.graceTimers, roomID)
		h.log.Info("grace period cancelled by rejoin", zap.String("room", roomID))
	}
	room, ok := h.rooms[roomID]
	if !ok {
		room = newRoom(roomID, c.info)
		h.rooms[roomID] = room
		h.log.Info("room created",
			zap.String("room", roomID),
			zap.String("kind", c.info.Kind.String()))
	}
	count := room.add(c)
	h.log.Info("client joined",
		zap.String("room", roomID),
		zap.String("client", c.id),
		zap.Int("active", count))
	return count
}

// RemoveClient drops a client from its room. Removing a non-member is a
// no-op that still reports the current active count. When the room's
// active count reaches zero its kind decides between immediate
// destruction and a grace timer.
func (h *Hub) RemoveClient(roomID string, c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return 0
	}
	count, removed := room.remove(c)
	if !removed {
		return count
	}
	h.log.Info("client left",
		zap.String("room", roomID),
		zap.String("client", c.id),
		zap.Int("active", count))
	if count == 0 {
		h.onRoomEmptyLocked(roomID, room.info.Kind)
	}
	return count
}

// Broadcast relays a payload to the sender's peers. Code-editor frames
// are mirrored into the room's document replica first, so the server
// copy always reflects a prefix of what peers were sent, even when a
// downstream send fails.
func (h *Hub) Broadcast(roomID string, payload []byte, sender *Client) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	if room.info.Kind.allowsDocument() && h.cfg.CodeEditorFeatures {
		h.docs.ApplyUpdate(roomID, payload)
	}
	delivered, dead := room.broadcast(payload, sender)
	for _, c := range dead {
		h.log.Error("send failed, evicting peer",
			zap.String("room", roomID),
			zap.String("client", c.id))
		c.terminate()
	}
	if len(dead) > 0 && room.activeCount() == 0 {
		h.mu.Lock()
		if _, ok := h.rooms[roomID]; ok {
			h.onRoomEmptyLocked(roomID, room.info.Kind)
		}
		h.mu.Unlock()
	}
	return delivered
}

func (h *Hub) ActiveClientCount(roomID string) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.activeCount()
}

func (h *Hub) totalActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, room := range h.rooms {
		total += room.activeCount()
	}
	return total
}

func (h *Hub) roomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ReapDeadClients evicts members failing the liveness predicate from
// every room and returns how many were evicted. Rooms emptied by the
// sweep go through the same empty-room policy as a normal departure.
func (h *Hub) ReapDeadClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	reaped := 0
	for id, room := range h.rooms {
		var dead []*Client
		for _, c := range room.members() {
			if !c.active() {
				dead = append(dead, c)
			}
		}
		if len(dead) == 0 {
			continue
		}
		reaped += room.purge(dead)
		for _, c := range dead {
			c.terminate()
		}
		h.log.Info("reaped dead clients",
			zap.String("room", id),
			zap.Int("count", len(dead)))
		if room.activeCount() == 0 {
			h.onRoomEmptyLocked(id, room.info.Kind)
		}
	}
	return reaped
}

// ReapEmptyRooms destroys rooms with no active clients and no pending
// grace timer, returning how many were destroyed.
func (h *Hub) ReapEmptyRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	destroyed := 0
	for id, room := range h.rooms {
		if room.activeCount() > 0 {
			continue
		}
		if _, pending := h.graceTimers[id]; pending {
			continue
		}
		h.destroyRoomLocked(id, websocket.CloseGoingAway, "room cleanup")
		destroyed++
	}
	return destroyed
}

// ForceCleanupAll tears every room down at once: all connections closed
// with a policy-violation code, all documents destroyed, all grace
// timers dropped. Returns the number of connections closed.
func (h *Hub) ForceCleanupAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	closed := 0
	for _, room := range h.rooms {
		for _, c := range room.members() {
			c.closeWith(websocket.ClosePolicyViolation, "server cleanup")
			closed++
		}
	}
	for id, t := range h.graceTimers {
		t.Stop()
		delete(h.graceTimers, id)
	}
	h.rooms = make(map[string]*Room)
	h.docs.DestroyAll()
	h.log.Warn("force cleanup completed", zap.Int("connectionsClosed", closed))
	return closed
}

// destroyRoomLocked removes a room, closes any straggling members, and
// releases its document. Callers hold the hub lock.
func (h *Hub) destroyRoomLocked(roomID string, closeCode int, reason string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for _, c := range room.members() {
		c.closeWith(closeCode, reason)
	}
	delete(h.rooms, roomID)
	if t, ok := h.graceTimers[roomID]; ok {
		t.Stop()
		delete(h.graceTimers, roomID)
	}
	if room.info.Kind.allowsDocument() {
		h.docs.Destroy(roomID)
	}
	h.log.Info("room destroyed",
		zap.String("room", roomID),
		zap.String("kind", room.info.Kind.String()))
}

// allClients snapshots every member of every room.
func (h *Hub) allClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	for _, room := range h.rooms {
		out = append(out, room.members()...)
	}
	return out
}
