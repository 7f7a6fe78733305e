package main

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Run drives the hub's timers until the context is cancelled: a
// heartbeat at the configured ping interval and a reap pass on a fixed
// cadence. Both stop before Shutdown closes the sockets.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.cfg.PingInterval())
	reap := time.NewTicker(reapInterval)
	defer heartbeat.Stop()
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			h.heartbeat()
		case <-reap.C:
			h.reapPass()
		}
	}
}

// heartbeat terminates peers that failed the previous interval, then
// clears every survivor's liveness flag and pings it. Pong or any
// inbound message restores the flag before the next tick.
func (h *Hub) heartbeat() {
	for _, c := range h.allClients() {
		if !c.active() {
			c.terminate()
			continue
		}
		c.alive.Store(false)
		if err := c.ping(); err != nil {
			c.terminate()
		}
	}
}

// reapPass evicts dead peers, destroys orphaned rooms, and checks the
// aggregate client count against the anomaly threshold. Exceeding it
// triggers the emergency drain: everything is closed and the quota
// table reset.
func (h *Hub) reapPass() {
	reaped := h.ReapDeadClients()
	destroyed := h.ReapEmptyRooms()
	if reaped > 0 || destroyed > 0 {
		h.log.Info("reap pass",
			zap.Int("clientsReaped", reaped),
			zap.Int("roomsDestroyed", destroyed))
	}
	if total := h.totalActiveClients(); total > anomalyThreshold {
		h.log.Warn("active client anomaly, draining",
			zap.Int("active", total),
			zap.Int("threshold", anomalyThreshold))
		h.ForceCleanupAll()
		h.quota.Reset()
	}
}

// onRoomEmptyLocked applies the kind's empty-room policy. Code-editor
// rooms get one grace timer; everything else is destroyed immediately.
// Callers hold the hub lock.
func (h *Hub) onRoomEmptyLocked(roomID string, kind RoomKind) {
	if !kind.usesGrace() {
		h.destroyRoomLocked(roomID, websocket.CloseGoingAway, "room closed")
		return
	}
	if _, pending := h.graceTimers[roomID]; pending {
		return
	}
	h.graceTimers[roomID] = time.AfterFunc(h.cfg.GracePeriod(), func() {
		h.graceExpired(roomID)
	})
	h.log.Info("grace period started",
		zap.String("room", roomID),
		zap.Duration("grace", h.cfg.GracePeriod()))
}

// graceExpired runs when a room's grace timer fires. The room survives
// if anyone rejoined after the timer was armed.
func (h *Hub) graceExpired(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.graceTimers, roomID)
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if room.activeCount() > 0 {
		h.log.Info("grace period lapsed but room is occupied",
			zap.String("room", roomID))
		return
	}
	h.destroyRoomLocked(roomID, websocket.CloseGoingAway, "grace period expired")
}

// Shutdown closes every connection with "going away", drops all grace
// timers, and destroys all rooms and documents.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	for id, t := range h.graceTimers {
		t.Stop()
		delete(h.graceTimers, id)
	}
	closed := 0
	for _, room := range h.rooms {
		for _, c := range room.members() {
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			closed++
		}
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()
	destroyed := h.docs.DestroyAll()
	h.log.Info("hub shut down",
		zap.Int("connectionsClosed", closed),
		zap.Int("documentsDestroyed", destroyed))
}
