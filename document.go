package main

import (
	"sync"

	"go.uber.org/zap"

	"github.com/DeepDirect/deepwebide-yjs/ycrdt"
)

// contentField is the named text every editor client binds its buffer to.
const contentField = "monaco-content"

// DocumentInfo describes a room's replica without exposing it.
type DocumentInfo struct {
	Exists        bool `json:"exists"`
	ContentLength int  `json:"contentLength"`
	StateSize     int  `json:"stateSize"`
}

// DocumentRegistry owns one CRDT replica per code-editor room. It is the
// only component that creates or destroys native document handles.
// Applies are serialized per room but never hold the registry lock, so a
// busy document cannot stall lookups for other rooms.
type DocumentRegistry struct {
	mu   sync.Mutex
	docs map[string]*docEntry
	log  *zap.Logger
}

type docEntry struct {
	mu    sync.Mutex
	doc   *ycrdt.Doc
	state []byte // most recent encoded snapshot
}

func NewDocumentRegistry(log *zap.Logger) *DocumentRegistry {
	return &DocumentRegistry{
		docs: make(map[string]*docEntry),
		log:  log,
	}
}

// Ensure creates the room's replica if it does not exist yet.
func (r *DocumentRegistry) Ensure(roomID string) {
	r.ensure(roomID)
}

func (r *DocumentRegistry) ensure(roomID string) *docEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.docs[roomID]
	if !ok {
		e = &docEntry{doc: ycrdt.NewDoc()}
		r.docs[roomID] = e
		r.log.Debug("document created", zap.String("room", roomID))
	}
	return e
}

// ApplyUpdate mirrors one inbound frame into the room's replica and
// refreshes the stored snapshot. Sync-update envelopes are unwrapped and
// bare updates are applied as they are; frames that decode as neither
// (awareness, auth, malformed bytes) are dropped without error; the
// relay forwards them regardless.
func (r *DocumentRegistry) ApplyUpdate(roomID string, payload []byte) {
	e := r.ensure(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()

	update := payload
	if u, err := ycrdt.ExtractUpdate(payload); err == nil {
		update = u
	}
	if err := e.doc.ApplyUpdate(update); err != nil {
		r.log.Debug("frame not applied to document",
			zap.String("room", roomID),
			zap.Int("bytes", len(payload)),
			zap.Error(err))
		return
	}
	e.state = e.doc.EncodeStateAsUpdate()
}

// ReadText returns the current editor content for the room, or "" when
// the room has no replica.
func (r *DocumentRegistry) ReadText(roomID string) string {
	r.mu.Lock()
	e, ok := r.docs[roomID]
	r.mu.Unlock()
	if !ok {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Text(contentField)
}

func (r *DocumentRegistry) Info(roomID string) DocumentInfo {
	r.mu.Lock()
	e, ok := r.docs[roomID]
	r.mu.Unlock()
	if !ok {
		return DocumentInfo{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return DocumentInfo{
		Exists:        true,
		ContentLength: len(e.doc.Text(contentField)),
		StateSize:     len(e.state),
	}
}

// Destroy releases the room's replica. Destroying a room without one is
// a no-op.
func (r *DocumentRegistry) Destroy(roomID string) {
	r.mu.Lock()
	e, ok := r.docs[roomID]
	delete(r.docs, roomID)
	r.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.doc.Destroy()
	e.state = nil
	e.mu.Unlock()
	r.log.Debug("document destroyed", zap.String("room", roomID))
}

// DestroyAll releases every replica and returns how many were released.
func (r *DocumentRegistry) DestroyAll() int {
	r.mu.Lock()
	docs := r.docs
	r.docs = make(map[string]*docEntry)
	r.mu.Unlock()
	for _, e := range docs {
		e.mu.Lock()
		e.doc.Destroy()
		e.state = nil
		e.mu.Unlock()
	}
	return len(docs)
}

// Count returns the number of replicas in memory.
func (r *DocumentRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}
