package main

import (
	"sync"
	"time"
)

// Room is one broadcast group. Kind and id are fixed at creation; the
// member set and activity stamp are guarded by the room's own lock so
// broadcasts in one room never contend with another.
type Room struct {
	id        string
	info      RoomInfo
	createdAt time.Time

	mu           sync.RWMutex
	clients      map[string]*Client
	lastActivity time.Time
}

func newRoom(id string, info RoomInfo) *Room {
	now := time.Now()
	return &Room{
		id:           id,
		info:         info,
		createdAt:    now,
		clients:      make(map[string]*Client),
		lastActivity: now,
	}
}

// add inserts a client; inserting the same client twice is a no-op.
// Returns the active count after insertion.
func (r *Room) add(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.id] = c
	r.lastActivity = time.Now()
	return r.activeCountLocked()
}

// remove deletes a client if present. Returns the active count after
// removal and whether the client was a member.
func (r *Room) remove(c *Client) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.id]; !ok {
		return r.activeCountLocked(), false
	}
	delete(r.clients, c.id)
	r.lastActivity = time.Now()
	return r.activeCountLocked(), true
}

func (r *Room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// activeCount counts members passing the liveness predicate; dormant
// peers still occupying the member set are excluded.
func (r *Room) activeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCountLocked()
}

func (r *Room) activeCountLocked() int {
	n := 0
	for _, c := range r.clients {
		if c.active() {
			n++
		}
	}
	return n
}

func (r *Room) members() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Room) lastActive() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

// broadcast fans a payload out to every member except the sender.
// Members with a closed transport or a full send buffer are collected
// into a dead list and purged after iteration completes; evicting while
// iterating would invalidate the traversal.
func (r *Room) broadcast(payload []byte, sender *Client) (delivered int, dead []*Client) {
	r.mu.RLock()
	for _, c := range r.clients {
		if sender != nil && c.id == sender.id {
			continue
		}
		if !c.open() || !c.enqueue(payload) {
			dead = append(dead, c)
			continue
		}
		delivered++
	}
	r.mu.RUnlock()

	r.mu.Lock()
	for _, c := range dead {
		delete(r.clients, c.id)
	}
	r.lastActivity = time.Now()
	r.mu.Unlock()
	return delivered, dead
}

// purge removes the given members. Returns how many were present.
func (r *Room) purge(clients []*Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range clients {
		if _, ok := r.clients[c.id]; ok {
			delete(r.clients, c.id)
			n++
		}
	}
	return n
}
