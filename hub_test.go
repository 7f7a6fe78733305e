package main

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DeepDirect/deepwebide-yjs/ycrdt"
)

func testConfig() *Config {
	return &Config{
		Port:               1234,
		Env:                "development",
		MaxClientsPerRoom:  50,
		PingIntervalMs:     30000,
		GracePeriodMs:      40,
		APIBaseURL:         "http://localhost:3000/api",
		LogLevel:           "debug",
		CodeEditorFeatures: true,
	}
}

// fakeConn satisfies wsConn for tests without a network.
type fakeConn struct {
	mu          sync.Mutex
	closed      bool
	closedCh    chan struct{}
	closeCode   int
	closeReason string
	pings       int
	written     [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{closeCode: -1, closedCh: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closedCh
	return 0, nil, errors.New("connection closed")
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch messageType {
	case websocket.PingMessage:
		f.pings++
	case websocket.CloseMessage:
		if len(data) >= 2 {
			f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
			f.closeReason = string(data[2:])
		}
	}
	return nil
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
	return nil
}

func (f *fakeConn) lastCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func newTestHub(cfg *Config) *Hub {
	log := zap.NewNop()
	return NewHub(cfg, log, NewDocumentRegistry(log), NewConnQuota(maxConnsPerIPPerRoom))
}

func newTestClient(h *Hub, roomID string) (*Client, *fakeConn) {
	fc := newFakeConn()
	c := newClient(h, fc, roomID, ParseRoomID(roomID), "10.0.0.1", zap.NewNop())
	return c, fc
}

func TestAddRemoveClient(t *testing.T) {
	h := newTestHub(testConfig())
	c, _ := newTestClient(h, "repo-7-main.ts")

	assert.Equal(t, 1, h.AddClient("repo-7-main.ts", c))
	assert.Equal(t, 1, h.ActiveClientCount("repo-7-main.ts"))

	// Re-adding the same client changes nothing.
	assert.Equal(t, 1, h.AddClient("repo-7-main.ts", c))

	assert.Equal(t, 0, h.RemoveClient("repo-7-main.ts", c))
	// Removing a non-member is a no-op.
	assert.Equal(t, 0, h.RemoveClient("repo-7-main.ts", c))
}

func TestGraceTimerCancelledByRejoin(t *testing.T) {
	h := newTestHub(testConfig())
	c1, _ := newTestClient(h, "repo-7-main.ts")
	h.AddClient("repo-7-main.ts", c1)
	h.RemoveClient("repo-7-main.ts", c1)

	require.Equal(t, 1, h.Status().GracePeriodRooms)

	c2, _ := newTestClient(h, "repo-7-main.ts")
	h.AddClient("repo-7-main.ts", c2)
	assert.Equal(t, 0, h.Status().GracePeriodRooms)

	// Well past the grace period the room must still exist.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.roomCount())
}

func TestGraceExpiryDestroysRoomAndDocument(t *testing.T) {
	h := newTestHub(testConfig())
	c, _ := newTestClient(h, "repo-7-main.ts")
	h.AddClient("repo-7-main.ts", c)

	src := ycrdt.NewDocWithClientID(1)
	require.NoError(t, src.InsertText("monaco-content", 0, "package main"))
	h.docs.ApplyUpdate("repo-7-main.ts", ycrdt.EncodeSyncUpdate(src.EncodeStateAsUpdate()))
	require.Equal(t, 1, h.docs.Count())

	h.RemoveClient("repo-7-main.ts", c)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 0, h.roomCount())
	assert.Equal(t, 0, h.docs.Count())
	assert.Equal(t, 0, h.Status().GracePeriodRooms)
}

func TestFileTreeRoomDestroyedImmediately(t *testing.T) {
	h := newTestHub(testConfig())
	c, _ := newTestClient(h, "filetree-42")
	h.AddClient("filetree-42", c)
	h.RemoveClient("filetree-42", c)

	assert.Equal(t, 0, h.roomCount())
	assert.Equal(t, 0, h.Status().GracePeriodRooms)
}

func TestBroadcastExcludesSenderAndEvictsDead(t *testing.T) {
	h := newTestHub(testConfig())
	sender, _ := newTestClient(h, "savepoint-3")
	peer, _ := newTestClient(h, "savepoint-3")
	dead, _ := newTestClient(h, "savepoint-3")
	h.AddClient("savepoint-3", sender)
	h.AddClient("savepoint-3", peer)
	h.AddClient("savepoint-3", dead)
	dead.terminate()

	delivered := h.Broadcast("savepoint-3", []byte{0x01, 0x02}, sender)
	assert.Equal(t, 1, delivered)

	select {
	case msg := <-peer.send:
		assert.Equal(t, []byte{0x01, 0x02}, msg)
	default:
		t.Fatal("peer did not receive broadcast")
	}
	select {
	case <-sender.send:
		t.Fatal("sender received own broadcast")
	default:
	}

	h.mu.RLock()
	size := h.rooms["savepoint-3"].size()
	h.mu.RUnlock()
	assert.Equal(t, 2, size, "dead peer should be purged")
}

func TestBroadcastMirrorsCodeEditorDocument(t *testing.T) {
	h := newTestHub(testConfig())
	sender, _ := newTestClient(h, "repo-7-src/main.ts")
	peer, _ := newTestClient(h, "repo-7-src/main.ts")
	h.AddClient("repo-7-src/main.ts", sender)
	h.AddClient("repo-7-src/main.ts", peer)

	src := ycrdt.NewDocWithClientID(1)
	require.NoError(t, src.InsertText("monaco-content", 0, "hello"))
	frame := ycrdt.EncodeSyncUpdate(src.EncodeStateAsUpdate())

	delivered := h.Broadcast("repo-7-src/main.ts", frame, sender)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, "hello", h.docs.ReadText("repo-7-src/main.ts"))

	info := h.docs.Info("repo-7-src/main.ts")
	assert.True(t, info.Exists)
	assert.Greater(t, info.StateSize, 0)

	select {
	case msg := <-peer.send:
		assert.Equal(t, frame, msg, "relayed bytes must be untouched")
	default:
		t.Fatal("peer did not receive frame")
	}
}

func TestActiveClientCountExcludesDormantPeers(t *testing.T) {
	h := newTestHub(testConfig())
	c1, _ := newTestClient(h, "repo-1-a.ts")
	c2, _ := newTestClient(h, "repo-1-a.ts")
	h.AddClient("repo-1-a.ts", c1)
	h.AddClient("repo-1-a.ts", c2)

	c2.alive.Store(false)
	assert.Equal(t, 1, h.ActiveClientCount("repo-1-a.ts"))
}

func TestReapDeadClients(t *testing.T) {
	h := newTestHub(testConfig())
	alive, _ := newTestClient(h, "repo-1-a.ts")
	dormant, _ := newTestClient(h, "repo-1-a.ts")
	h.AddClient("repo-1-a.ts", alive)
	h.AddClient("repo-1-a.ts", dormant)
	dormant.alive.Store(false)

	assert.Equal(t, 1, h.ReapDeadClients())
	assert.Equal(t, 1, h.ActiveClientCount("repo-1-a.ts"))
	assert.True(t, dormant.closed.Load())
}

func TestReapDeadClientsEmptiesRoomThroughPolicy(t *testing.T) {
	h := newTestHub(testConfig())
	c, _ := newTestClient(h, "filetree-9")
	h.AddClient("filetree-9", c)
	c.alive.Store(false)

	h.ReapDeadClients()
	assert.Equal(t, 0, h.roomCount(), "emptied file tree room is destroyed at once")
}

func TestReapEmptyRooms(t *testing.T) {
	h := newTestHub(testConfig())
	h.mu.Lock()
	h.rooms["repo-5-x.ts"] = newRoom("repo-5-x.ts", ParseRoomID("repo-5-x.ts"))
	h.mu.Unlock()

	assert.Equal(t, 1, h.ReapEmptyRooms())
	assert.Equal(t, 0, h.roomCount())
}

func TestReapEmptyRoomsSparesGracePeriod(t *testing.T) {
	cfg := testConfig()
	cfg.GracePeriodMs = 60000
	h := newTestHub(cfg)
	c, _ := newTestClient(h, "repo-5-x.ts")
	h.AddClient("repo-5-x.ts", c)
	h.RemoveClient("repo-5-x.ts", c)

	require.Equal(t, 1, h.Status().GracePeriodRooms)
	assert.Equal(t, 0, h.ReapEmptyRooms())
	assert.Equal(t, 1, h.roomCount())
}

func TestForceCleanupAll(t *testing.T) {
	h := newTestHub(testConfig())
	c1, fc1 := newTestClient(h, "repo-7-a.ts")
	c2, fc2 := newTestClient(h, "filetree-7")
	h.AddClient("repo-7-a.ts", c1)
	h.AddClient("filetree-7", c2)
	h.docs.ApplyUpdate("repo-7-a.ts", []byte{0x00})

	closed := h.ForceCleanupAll()
	assert.Equal(t, 2, closed)
	assert.Equal(t, websocket.ClosePolicyViolation, fc1.lastCloseCode())
	assert.Equal(t, websocket.ClosePolicyViolation, fc2.lastCloseCode())
	assert.Equal(t, 0, h.roomCount())
	assert.Equal(t, 0, h.docs.Count())
}

func TestEmergencyDrainOnAnomaly(t *testing.T) {
	h := newTestHub(testConfig())
	h.quota.Admit("10.0.0.1", "repo-1-a.ts")
	for i := 0; i < anomalyThreshold+1; i++ {
		c, _ := newTestClient(h, "savepoint-1")
		h.AddClient("savepoint-1", c)
	}
	require.Greater(t, h.totalActiveClients(), anomalyThreshold)

	h.reapPass()

	assert.Equal(t, 0, h.roomCount())
	assert.Equal(t, 0, h.totalActiveClients())
	assert.Equal(t, 0, h.quota.Count("10.0.0.1", "repo-1-a.ts"))
}

func TestHeartbeatReapsUnresponsivePeers(t *testing.T) {
	h := newTestHub(testConfig())
	c, fc := newTestClient(h, "repo-7-a.ts")
	h.AddClient("repo-7-a.ts", c)

	h.heartbeat()
	assert.Equal(t, 1, fc.pings)
	assert.False(t, c.alive.Load())

	// No pong before the next tick: the peer is terminated.
	h.heartbeat()
	assert.True(t, c.closed.Load())
}

func TestHeartbeatSparesAcknowledgedPeers(t *testing.T) {
	h := newTestHub(testConfig())
	c, fc := newTestClient(h, "repo-7-a.ts")
	h.AddClient("repo-7-a.ts", c)

	h.heartbeat()
	c.alive.Store(true) // simulated pong
	h.heartbeat()

	assert.Equal(t, 2, fc.pings)
	assert.False(t, c.closed.Load())
}

func TestStatusCountsKinds(t *testing.T) {
	cfg := testConfig()
	cfg.GracePeriodMs = 60000
	h := newTestHub(cfg)
	ce, _ := newTestClient(h, "repo-7-a.ts")
	ft, _ := newTestClient(h, "filetree-7")
	gone, _ := newTestClient(h, "repo-8-b.ts")
	h.AddClient("repo-7-a.ts", ce)
	h.AddClient("filetree-7", ft)
	h.AddClient("repo-8-b.ts", gone)
	h.RemoveClient("repo-8-b.ts", gone)

	s := h.Status()
	assert.Equal(t, 2, s.TotalRooms)
	assert.Equal(t, 2, s.TotalClients)
	assert.Equal(t, 1, s.CodeEditorRooms)
	assert.Equal(t, 1, s.FileTreeRooms)
	assert.Equal(t, 1, s.GracePeriodRooms)
	assert.GreaterOrEqual(t, s.UptimeSeconds, 0.0)
	assert.Greater(t, s.Memory.Goroutines, 0)
}

func TestShutdownClosesEverything(t *testing.T) {
	h := newTestHub(testConfig())
	c, fc := newTestClient(h, "repo-7-a.ts")
	h.AddClient("repo-7-a.ts", c)
	h.docs.Ensure("repo-7-a.ts")

	h.Shutdown()

	assert.Equal(t, websocket.CloseGoingAway, fc.lastCloseCode())
	assert.Equal(t, 0, h.roomCount())
	assert.Equal(t, 0, h.docs.Count())
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newTestHub(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub.Run did not return after cancel")
	}
}
