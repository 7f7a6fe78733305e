package ycrdt

import (
	"errors"
	"fmt"
	"sort"
)

// Content refs of the Yjs v1 struct encoding.
const (
	refGC      = 0
	refDeleted = 1
	refJSON    = 2
	refBinary  = 3
	refString  = 4
	refEmbed   = 5
	refFormat  = 6
	refType    = 7
	refAny     = 8
	refDoc     = 9
	refSkip    = 10
)

// Struct info flags.
const (
	flagOrigin      = 0x80
	flagRightOrigin = 0x40
	flagParentSub   = 0x20
	refMask         = 0x1f
)

// Type refs carrying an extra name string in ContentType.
const (
	typeRefXmlElement = 3
	typeRefXmlHook    = 5
)

var ErrInvalidUpdate = errors.New("ycrdt: not a valid update")

type deleteRange struct {
	client uint64
	clock  uint64
	length uint64
}

type update struct {
	structs map[uint64][]*Item
	order   []uint64 // client order as decoded
	ds      []deleteRange
}

func decodeUpdate(data []byte) (*update, error) {
	d := &decoder{buf: data}
	numClients, err := d.readVarUint()
	if err != nil {
		return nil, ErrInvalidUpdate
	}
	u := &update{structs: make(map[uint64][]*Item)}
	for i := uint64(0); i < numClients; i++ {
		numStructs, err := d.readVarUint()
		if err != nil {
			return nil, ErrInvalidUpdate
		}
		client, err := d.readVarUint()
		if err != nil {
			return nil, ErrInvalidUpdate
		}
		clock, err := d.readVarUint()
		if err != nil {
			return nil, ErrInvalidUpdate
		}
		if _, seen := u.structs[client]; !seen {
			u.order = append(u.order, client)
		}
		for j := uint64(0); j < numStructs; j++ {
			it, skipLen, err := decodeStruct(d, client, clock)
			if err != nil {
				return nil, err
			}
			if it != nil {
				u.structs[client] = append(u.structs[client], it)
				clock += it.length
			} else {
				// Skip structs announce a gap; nothing to integrate.
				clock += skipLen
			}
		}
	}
	ds, err := decodeDeleteSet(d)
	if err != nil {
		return nil, err
	}
	u.ds = ds
	return u, nil
}

func decodeStruct(d *decoder, client, clock uint64) (*Item, uint64, error) {
	info, err := d.readUint8()
	if err != nil {
		return nil, 0, ErrInvalidUpdate
	}
	ref := info & refMask
	switch ref {
	case refGC:
		length, err := d.readVarUint()
		if err != nil || length == 0 {
			return nil, 0, ErrInvalidUpdate
		}
		return &Item{
			id:     ID{Client: client, Clock: clock},
			kind:   contentGC,
			length: length,
		}, 0, nil
	case refSkip:
		length, err := d.readVarUint()
		if err != nil {
			return nil, 0, ErrInvalidUpdate
		}
		return nil, length, nil
	}

	it := &Item{id: ID{Client: client, Clock: clock}}
	if info&flagOrigin != 0 {
		id, err := readID(d)
		if err != nil {
			return nil, 0, err
		}
		it.origin = &id
	}
	if info&flagRightOrigin != 0 {
		id, err := readID(d)
		if err != nil {
			return nil, 0, err
		}
		it.rightOrigin = &id
	}
	if info&(flagOrigin|flagRightOrigin) == 0 {
		// Parent info is only present when neither origin is.
		isRoot, err := d.readVarUint()
		if err != nil {
			return nil, 0, ErrInvalidUpdate
		}
		if isRoot == 1 {
			name, err := d.readVarString()
			if err != nil {
				return nil, 0, ErrInvalidUpdate
			}
			it.parent = name
		} else {
			id, err := readID(d)
			if err != nil {
				return nil, 0, err
			}
			it.parentID = &id
		}
		if info&flagParentSub != 0 {
			sub, err := d.readVarString()
			if err != nil {
				return nil, 0, ErrInvalidUpdate
			}
			it.parentSub = sub
		}
	}
	if err := decodeContent(d, ref, it); err != nil {
		return nil, 0, err
	}
	if it.length == 0 {
		return nil, 0, ErrInvalidUpdate
	}
	return it, 0, nil
}

func decodeContent(d *decoder, ref byte, it *Item) error {
	start := d.pos
	switch ref {
	case refDeleted:
		length, err := d.readVarUint()
		if err != nil {
			return ErrInvalidUpdate
		}
		it.kind = contentDeleted
		it.deleted = true
		it.length = length
		return nil
	case refString:
		s, err := d.readVarString()
		if err != nil {
			return ErrInvalidUpdate
		}
		it.kind = contentString
		it.text = utf16Units(s)
		it.length = uint64(len(it.text))
		return nil
	case refJSON, refAny:
		n, err := d.readVarUint()
		if err != nil {
			return ErrInvalidUpdate
		}
		for i := uint64(0); i < n; i++ {
			if ref == refJSON {
				if _, err := d.readVarString(); err != nil {
					return ErrInvalidUpdate
				}
			} else if err := d.readAny(); err != nil {
				return ErrInvalidUpdate
			}
		}
		it.length = n
	case refBinary:
		if _, err := d.readVarUint8Array(); err != nil {
			return ErrInvalidUpdate
		}
		it.length = 1
	case refEmbed:
		if _, err := d.readVarString(); err != nil {
			return ErrInvalidUpdate
		}
		it.length = 1
	case refFormat:
		if _, err := d.readVarString(); err != nil {
			return ErrInvalidUpdate
		}
		if _, err := d.readVarString(); err != nil {
			return ErrInvalidUpdate
		}
		it.length = 1
	case refType:
		typeRef, err := d.readVarUint()
		if err != nil {
			return ErrInvalidUpdate
		}
		if typeRef == typeRefXmlElement || typeRef == typeRefXmlHook {
			if _, err := d.readVarString(); err != nil {
				return ErrInvalidUpdate
			}
		}
		it.length = 1
	case refDoc:
		if _, err := d.readVarString(); err != nil {
			return ErrInvalidUpdate
		}
		if err := d.readAny(); err != nil {
			return ErrInvalidUpdate
		}
		it.length = 1
	default:
		return fmt.Errorf("ycrdt: unknown content ref %d: %w", ref, ErrInvalidUpdate)
	}
	it.kind = contentOpaque
	it.rawRef = ref
	it.raw = append([]byte(nil), d.buf[start:d.pos]...)
	return nil
}

func readID(d *decoder) (ID, error) {
	client, err := d.readVarUint()
	if err != nil {
		return ID{}, ErrInvalidUpdate
	}
	clock, err := d.readVarUint()
	if err != nil {
		return ID{}, ErrInvalidUpdate
	}
	return ID{Client: client, Clock: clock}, nil
}

func decodeDeleteSet(d *decoder) ([]deleteRange, error) {
	numClients, err := d.readVarUint()
	if err != nil {
		return nil, ErrInvalidUpdate
	}
	var ds []deleteRange
	for i := uint64(0); i < numClients; i++ {
		client, err := d.readVarUint()
		if err != nil {
			return nil, ErrInvalidUpdate
		}
		numRanges, err := d.readVarUint()
		if err != nil {
			return nil, ErrInvalidUpdate
		}
		for j := uint64(0); j < numRanges; j++ {
			clock, err := d.readVarUint()
			if err != nil {
				return nil, ErrInvalidUpdate
			}
			length, err := d.readVarUint()
			if err != nil {
				return nil, ErrInvalidUpdate
			}
			ds = append(ds, deleteRange{client: client, clock: clock, length: length})
		}
	}
	return ds, nil
}

// encodeUpdate serializes items and a delete set back into the v1 update
// format. Gaps between a client's items become Skip structs so the result
// stays loadable by any Yjs implementation.
func encodeUpdate(structs map[uint64][]*Item, ds []deleteRange) []byte {
	e := &encoder{}
	clients := make([]uint64, 0, len(structs))
	for c, items := range structs {
		if len(items) > 0 {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	e.writeVarUint(uint64(len(clients)))
	for _, client := range clients {
		items := structs[client]
		numStructs := uint64(len(items))
		for i := 1; i < len(items); i++ {
			if items[i-1].id.Clock+items[i-1].length < items[i].id.Clock {
				numStructs++ // skip struct for the gap
			}
		}
		e.writeVarUint(numStructs)
		e.writeVarUint(client)
		e.writeVarUint(items[0].id.Clock)
		for i, it := range items {
			if i > 0 {
				prevEnd := items[i-1].id.Clock + items[i-1].length
				if prevEnd < it.id.Clock {
					e.writeUint8(refSkip)
					e.writeVarUint(it.id.Clock - prevEnd)
				}
			}
			encodeStruct(e, it)
		}
	}
	encodeDeleteSet(e, ds)
	return e.buf
}

func encodeStruct(e *encoder, it *Item) {
	if it.kind == contentGC {
		e.writeUint8(refGC)
		e.writeVarUint(it.length)
		return
	}
	var ref byte
	switch it.kind {
	case contentDeleted:
		ref = refDeleted
	case contentString:
		ref = refString
	default:
		ref = it.rawRef
	}
	info := ref
	if it.origin != nil {
		info |= flagOrigin
	}
	if it.rightOrigin != nil {
		info |= flagRightOrigin
	}
	if it.origin == nil && it.rightOrigin == nil && it.parentSub != "" {
		info |= flagParentSub
	}
	e.writeUint8(info)
	if it.origin != nil {
		writeID(e, *it.origin)
	}
	if it.rightOrigin != nil {
		writeID(e, *it.rightOrigin)
	}
	if it.origin == nil && it.rightOrigin == nil {
		if it.parentID != nil {
			e.writeVarUint(0)
			writeID(e, *it.parentID)
		} else {
			e.writeVarUint(1)
			e.writeVarString(it.parent)
		}
		if it.parentSub != "" {
			e.writeVarString(it.parentSub)
		}
	}
	switch it.kind {
	case contentDeleted:
		e.writeVarUint(it.length)
	case contentString:
		e.writeVarString(utf16String(it.text))
	default:
		e.writeRaw(it.raw)
	}
}

func writeID(e *encoder, id ID) {
	e.writeVarUint(id.Client)
	e.writeVarUint(id.Clock)
}

func encodeDeleteSet(e *encoder, ds []deleteRange) {
	byClient := make(map[uint64][]deleteRange)
	var clients []uint64
	for _, r := range ds {
		if _, ok := byClient[r.client]; !ok {
			clients = append(clients, r.client)
		}
		byClient[r.client] = append(byClient[r.client], r)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] > clients[j] })
	e.writeVarUint(uint64(len(clients)))
	for _, client := range clients {
		ranges := byClient[client]
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].clock < ranges[j].clock })
		e.writeVarUint(client)
		e.writeVarUint(uint64(len(ranges)))
		for _, r := range ranges {
			e.writeVarUint(r.clock)
			e.writeVarUint(r.length)
		}
	}
}
