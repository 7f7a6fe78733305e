package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testRoomClient(id string) *Client {
	c := &Client{
		id:     id,
		roomID: "savepoint-1",
		conn:   newFakeConn(),
		send:   make(chan []byte, 10),
		done:   make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

func TestRoomAddRemove(t *testing.T) {
	room := newRoom("savepoint-1", ParseRoomID("savepoint-1"))

	c1 := testRoomClient("client_1_a")
	c2 := testRoomClient("client_2_b")

	assert.Equal(t, 1, room.add(c1))
	assert.Equal(t, 2, room.add(c2))
	// Adding the same client again is a no-op.
	assert.Equal(t, 2, room.add(c1))

	count, removed := room.remove(c1)
	assert.True(t, removed)
	assert.Equal(t, 1, count)

	count, removed = room.remove(c1)
	assert.False(t, removed)
	assert.Equal(t, 1, count)

	count, _ = room.remove(c2)
	assert.Equal(t, 0, count)
}

func TestRoomBroadcast(t *testing.T) {
	room := newRoom("savepoint-1", ParseRoomID("savepoint-1"))

	c1 := testRoomClient("client_1_a")
	c2 := testRoomClient("client_2_b")
	c3 := testRoomClient("client_3_c")
	room.add(c1)
	room.add(c2)
	room.add(c3)

	delivered, dead := room.broadcast([]byte("hello"), c1)
	assert.Equal(t, 2, delivered)
	assert.Empty(t, dead)

	for _, c := range []*Client{c2, c3} {
		select {
		case msg := <-c.send:
			assert.Equal(t, "hello", string(msg))
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s did not receive message", c.id)
		}
	}

	select {
	case <-c1.send:
		t.Fatal("sender should not receive own broadcast")
	default:
	}
}

func TestRoomBroadcastCollectsThenPurges(t *testing.T) {
	room := newRoom("savepoint-1", ParseRoomID("savepoint-1"))

	sender := testRoomClient("client_1_a")
	full := testRoomClient("client_2_b")
	full.send = make(chan []byte) // unbuffered and never drained
	closed := testRoomClient("client_3_c")
	closed.terminate()
	ok := testRoomClient("client_4_d")
	room.add(sender)
	room.add(full)
	room.add(closed)
	room.add(ok)

	delivered, dead := room.broadcast([]byte{0xff}, sender)
	assert.Equal(t, 1, delivered)
	assert.Len(t, dead, 2)
	assert.Equal(t, 2, room.size(), "dead members purged after iteration")
}

func TestRoomActiveCountIgnoresDormant(t *testing.T) {
	room := newRoom("repo-1-a.ts", ParseRoomID("repo-1-a.ts"))
	c1 := testRoomClient("client_1_a")
	c2 := testRoomClient("client_2_b")
	room.add(c1)
	room.add(c2)

	c2.alive.Store(false)
	assert.Equal(t, 2, room.size())
	assert.Equal(t, 1, room.activeCount())
}

func TestRoomLastActivity(t *testing.T) {
	room := newRoom("savepoint-1", ParseRoomID("savepoint-1"))
	before := room.lastActive()
	time.Sleep(10 * time.Millisecond)

	room.add(testRoomClient("client_1_a"))
	assert.True(t, room.lastActive().After(before))
}
