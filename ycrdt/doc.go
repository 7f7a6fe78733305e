// Package ycrdt maintains server-side replicas of Yjs documents. It
// decodes the Yjs v1 binary update format, integrates items into per-root
// text sequences, tracks deletions, and re-encodes the full state as a
// single update. Concurrent inserts at the same position are ordered by
// client id, which keeps replicas deterministic for the relay's use of
// the document (text extraction and state snapshots).
package ycrdt

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
)

var ErrDestroyed = errors.New("ycrdt: document destroyed")

type rootText struct {
	head *Item
}

// Doc is a single CRDT document replica.
type Doc struct {
	mu        sync.Mutex
	clientID  uint64
	store     map[uint64][]*Item
	roots     map[string]*rootText
	pending   []*Item
	pendingDS []deleteRange
	destroyed bool
}

func NewDoc() *Doc {
	return NewDocWithClientID(uint64(rand.Uint32()))
}

func NewDocWithClientID(clientID uint64) *Doc {
	return &Doc{
		clientID: clientID,
		store:    make(map[uint64][]*Item),
		roots:    make(map[string]*rootText),
	}
}

func (d *Doc) ClientID() uint64 { return d.clientID }

// state returns the next expected clock for a client. The store is kept
// contiguous per client; anything beyond it lives in pending.
func (d *Doc) state(client uint64) uint64 {
	items := d.store[client]
	if len(items) == 0 {
		return 0
	}
	last := items[len(items)-1]
	return last.id.Clock + last.length
}

func (d *Doc) hasID(id ID) bool {
	return d.state(id.Client) > id.Clock
}

// ApplyUpdate decodes and integrates a v1 update. Items whose
// dependencies have not arrived yet are kept pending and retried on
// every later apply. Returns ErrInvalidUpdate for frames that are not
// updates (awareness traffic, malformed bytes).
func (d *Doc) ApplyUpdate(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	u, err := decodeUpdate(data)
	if err != nil {
		return err
	}
	for _, client := range u.order {
		for _, it := range u.structs[client] {
			if !d.integrate(it) {
				d.pending = append(d.pending, it)
			}
		}
	}
	d.pendingDS = append(d.pendingDS, u.ds...)
	d.drainPending()
	return nil
}

// drainPending retries queued items and delete ranges until a full pass
// makes no progress.
func (d *Doc) drainPending() {
	for {
		progress := false
		if len(d.pending) > 0 {
			rest := d.pending[:0]
			for _, it := range d.pending {
				if d.integrate(it) {
					progress = true
				} else {
					rest = append(rest, it)
				}
			}
			d.pending = rest
		}
		if len(d.pendingDS) > 0 {
			rest := d.pendingDS[:0]
			for _, r := range d.pendingDS {
				if d.applyDeleteRange(r) {
					progress = true
				} else {
					rest = append(rest, r)
				}
			}
			d.pendingDS = rest
		}
		if !progress {
			return
		}
	}
}

// integrate places one item. Returns false when a dependency is missing
// and the item must wait.
func (d *Doc) integrate(it *Item) bool {
	state := d.state(it.id.Client)
	if it.id.Clock > state {
		return false
	}
	if it.id.Clock+it.length <= state {
		return true // fully known already
	}
	if it.id.Clock < state {
		// A prefix is already integrated; keep only the tail. The tail's
		// origin is the last unit of the known prefix.
		diff := state - it.id.Clock
		last := ID{Client: it.id.Client, Clock: state - 1}
		it.origin = &last
		it.id.Clock = state
		it.length -= diff
		switch it.kind {
		case contentString:
			it.text = it.text[diff:]
		case contentOpaque:
			it.demoteToDeleted()
		}
	}
	if it.origin != nil && !d.hasID(*it.origin) {
		return false
	}
	if it.rightOrigin != nil && !d.hasID(*it.rightOrigin) {
		return false
	}
	if it.kind != contentGC && it.parentID == nil {
		d.place(it)
	}
	d.store[it.id.Client] = append(d.store[it.id.Client], it)
	return true
}

// place links the item into its root's sequence.
func (d *Doc) place(it *Item) {
	var left *Item
	if it.origin != nil {
		left = d.findItemEnd(*it.origin)
		if it.parent == "" {
			it.parent = left.parent
		}
	}
	var rightBound *Item
	if it.rightOrigin != nil {
		rightBound = d.findItemStart(*it.rightOrigin)
		if it.parent == "" {
			it.parent = rightBound.parent
		}
	}
	root := d.getRoot(it.parent)

	next := root.head
	if left != nil {
		next = left.right
	}
	// Conflict scan: competitors inserted at the same origin win when
	// their client id is smaller. Continuation runs of a skipped
	// competitor are skipped with it so its text is never interleaved.
	var lastSkipped *Item
	for next != nil {
		if rightBound != nil && next == rightBound {
			break
		}
		if sameOrigin(next.origin, it.origin) {
			if next.id.Client >= it.id.Client {
				break
			}
			left, lastSkipped = next, next
			next = next.right
			continue
		}
		if lastSkipped != nil && next.origin != nil &&
			next.id.Client == lastSkipped.id.Client && *next.origin == lastSkipped.lastID() {
			left, lastSkipped = next, next
			next = next.right
			continue
		}
		break
	}

	it.left = left
	it.right = next
	if left != nil {
		left.right = it
	} else {
		root.head = it
	}
	if next != nil {
		next.left = it
	}
}

func sameOrigin(a, b *ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (d *Doc) getRoot(name string) *rootText {
	root, ok := d.roots[name]
	if !ok {
		root = &rootText{}
		d.roots[name] = root
	}
	return root
}

// findIndex locates the store index of the item containing the clock.
func (d *Doc) findIndex(client, clock uint64) int {
	items := d.store[client]
	return sort.Search(len(items), func(i int) bool {
		return items[i].id.Clock+items[i].length > clock
	})
}

// findItemEnd returns the item whose last clock unit is id, splitting
// a longer run so the boundary falls exactly after id.
func (d *Doc) findItemEnd(id ID) *Item {
	idx := d.findIndex(id.Client, id.Clock)
	it := d.store[id.Client][idx]
	if it.lastID().Clock != id.Clock {
		right := it.split(id.Clock - it.id.Clock + 1)
		d.insertIntoStore(id.Client, idx+1, right)
	}
	return d.store[id.Client][idx]
}

// findItemStart returns the item whose first clock unit is id, splitting
// a longer run so the boundary falls exactly before id.
func (d *Doc) findItemStart(id ID) *Item {
	idx := d.findIndex(id.Client, id.Clock)
	it := d.store[id.Client][idx]
	if it.id.Clock == id.Clock {
		return it
	}
	right := it.split(id.Clock - it.id.Clock)
	d.insertIntoStore(id.Client, idx+1, right)
	return right
}

func (d *Doc) insertIntoStore(client uint64, idx int, it *Item) {
	items := d.store[client]
	items = append(items, nil)
	copy(items[idx+1:], items[idx:])
	items[idx] = it
	d.store[client] = items
}

// applyDeleteRange marks the addressed clock units deleted. Returns
// false when the range reaches beyond known state.
func (d *Doc) applyDeleteRange(r deleteRange) bool {
	if r.length == 0 {
		return true
	}
	if r.clock+r.length > d.state(r.client) {
		return false
	}
	first := d.findItemStart(ID{Client: r.client, Clock: r.clock})
	idx := d.findIndex(r.client, r.clock)
	end := r.clock + r.length
	for it := first; it != nil && it.id.Clock < end; {
		if it.id.Clock+it.length > end {
			right := it.split(end - it.id.Clock)
			d.insertIntoStore(r.client, idx+1, right)
		}
		it.deleted = true
		idx++
		items := d.store[r.client]
		if idx >= len(items) {
			break
		}
		it = items[idx]
	}
	return true
}

// Text returns the current visible content of the named root text.
func (d *Doc) Text(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, ok := d.roots[name]
	if !ok {
		return ""
	}
	var units []uint16
	for it := root.head; it != nil; it = it.right {
		// Map entries (parentSub set) share the root but are not part
		// of the text sequence.
		if it.deleted || it.kind != contentString || it.parentSub != "" {
			continue
		}
		units = append(units, it.text...)
	}
	return utf16String(units)
}

// InsertText inserts at a visible UTF-16 index of the named root text,
// producing locally owned items that EncodeStateAsUpdate will carry.
func (d *Doc) InsertText(name string, index int, s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	units := utf16Units(s)
	if len(units) == 0 {
		return nil
	}
	root := d.getRoot(name)
	left, right := d.seek(root, index)
	it := &Item{
		id:     ID{Client: d.clientID, Clock: d.state(d.clientID)},
		parent: name,
		kind:   contentString,
		text:   units,
		length: uint64(len(units)),
		left:   left,
		right:  right,
	}
	if left != nil {
		last := left.lastID()
		it.origin = &last
		left.right = it
	} else {
		root.head = it
	}
	if right != nil {
		it.rightOrigin = &right.id
		right.left = it
	}
	d.store[d.clientID] = append(d.store[d.clientID], it)
	return nil
}

// DeleteText removes length visible UTF-16 units starting at index.
func (d *Doc) DeleteText(name string, index, length int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	root, ok := d.roots[name]
	if !ok || length <= 0 {
		return nil
	}
	_, it := d.seek(root, index)
	remaining := length
	for it != nil && remaining > 0 {
		if it.deleted || !it.countable() {
			it = it.right
			continue
		}
		if int(it.length) > remaining {
			idx := d.findIndex(it.id.Client, it.id.Clock)
			right := it.split(uint64(remaining))
			d.insertIntoStore(it.id.Client, idx+1, right)
		}
		it.deleted = true
		remaining -= int(it.length)
		it = it.right
	}
	return nil
}

// seek walks the root sequence to a visible index, splitting the run it
// lands inside. Returns the immediate left and right neighbors of the
// position.
func (d *Doc) seek(root *rootText, index int) (left, right *Item) {
	remaining := index
	for it := root.head; it != nil; it = it.right {
		if it.deleted || !it.countable() {
			left = it
			continue
		}
		if remaining == 0 {
			return left, it
		}
		if remaining < int(it.length) {
			idx := d.findIndex(it.id.Client, it.id.Clock)
			d.insertIntoStore(it.id.Client, idx+1, it.split(uint64(remaining)))
			return it, it.right
		}
		remaining -= int(it.length)
		left = it
	}
	return left, nil
}

// EncodeStateAsUpdate serializes the full document as one update that a
// fresh replica can apply.
func (d *Doc) EncodeStateAsUpdate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ds []deleteRange
	for client, items := range d.store {
		for _, it := range items {
			if !it.deleted {
				continue
			}
			n := len(ds)
			if n > 0 && ds[n-1].client == client && ds[n-1].clock+ds[n-1].length == it.id.Clock {
				ds[n-1].length += it.length
			} else {
				ds = append(ds, deleteRange{client: client, clock: it.id.Clock, length: it.length})
			}
		}
	}
	return encodeUpdate(d.store, ds)
}

// Destroy releases the replica. Further applies fail with ErrDestroyed;
// destroying twice is harmless.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.store = make(map[uint64][]*Item)
	d.roots = make(map[string]*rootText)
	d.pending = nil
	d.pendingDS = nil
}
