package ycrdt

import "unicode/utf16"

// ID addresses a single clock unit created by a client. Clocks count
// UTF-16 code units for string content, matching the Yjs wire format.
type ID struct {
	Client uint64
	Clock  uint64
}

type contentKind uint8

const (
	contentGC contentKind = iota
	contentDeleted
	contentString
	contentOpaque // JSON, binary, embed, format, type, any, subdoc
)

// Item is one struct from a Yjs update: a run of clock units with its
// integration origins and its content. Items form a doubly linked list
// per root type once integrated.
type Item struct {
	id          ID
	origin      *ID
	rightOrigin *ID
	parent      string // root type name ("" until resolved from a neighbor)
	parentID    *ID    // nested-type parent, carried opaquely
	parentSub   string

	kind    contentKind
	text    []uint16 // contentString payload
	raw     []byte   // verbatim content bytes for opaque kinds
	rawRef  byte     // content ref for opaque kinds
	length  uint64
	deleted bool

	left, right *Item
}

func (it *Item) lastID() ID {
	return ID{Client: it.id.Client, Clock: it.id.Clock + it.length - 1}
}

// countable reports whether the item occupies visible positions in its
// parent text. Format and similar opaque marks have length but no text.
func (it *Item) countable() bool {
	return it.kind == contentString
}

// split cuts the item at diff clock units and returns the right half.
// The right half derives its origin from the last unit of the left half,
// exactly as Yjs does when a later update addresses mid-run clocks.
func (it *Item) split(diff uint64) *Item {
	leftLast := ID{Client: it.id.Client, Clock: it.id.Clock + diff - 1}
	right := &Item{
		id:          ID{Client: it.id.Client, Clock: it.id.Clock + diff},
		origin:      &leftLast,
		rightOrigin: it.rightOrigin,
		parent:      it.parent,
		parentID:    it.parentID,
		parentSub:   it.parentSub,
		kind:        it.kind,
		length:      it.length - diff,
		deleted:     it.deleted,
		left:        it,
		right:       it.right,
	}
	switch it.kind {
	case contentString:
		right.text = it.text[diff:]
		it.text = it.text[:diff]
	case contentOpaque:
		// Opaque content bytes cannot be divided to match the new
		// lengths, so both halves degrade to deleted runs. Plain-text
		// extraction never reads opaque content, and the clock
		// structure stays valid for re-encoding.
		it.demoteToDeleted()
		right.demoteToDeleted()
	}
	if it.right != nil {
		it.right.left = right
	}
	it.right = right
	it.length = diff
	return right
}

func (it *Item) demoteToDeleted() {
	it.kind = contentDeleted
	it.deleted = true
	it.raw = nil
	it.rawRef = 0
}

func utf16Units(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func utf16String(units []uint16) string {
	return string(utf16.Decode(units))
}
