package ycrdt

import "errors"

// y-protocol message framing as produced by y-websocket clients. Only
// the envelope is interpreted here; awareness payloads stay opaque.

type MessageType byte

const (
	MessageSync      MessageType = 0
	MessageAwareness MessageType = 1
	MessageAuth      MessageType = 2
)

type SyncStep byte

const (
	SyncStep1  SyncStep = 0 // client sends state vector
	SyncStep2  SyncStep = 1 // reply with missing updates
	SyncUpdate SyncStep = 2 // regular update broadcast
)

var ErrNotSyncUpdate = errors.New("ycrdt: frame is not a sync update")

// ExtractUpdate unwraps a sync-update or sync-step-2 envelope (both carry
// update bytes) and returns the raw update bytes. Frames of any other
// type fail with ErrNotSyncUpdate.
func ExtractUpdate(frame []byte) ([]byte, error) {
	d := &decoder{buf: frame}
	msgType, err := d.readVarUint()
	if err != nil || MessageType(msgType) != MessageSync {
		return nil, ErrNotSyncUpdate
	}
	step, err := d.readVarUint()
	if err != nil {
		return nil, ErrNotSyncUpdate
	}
	if s := SyncStep(step); s != SyncUpdate && s != SyncStep2 {
		return nil, ErrNotSyncUpdate
	}
	update, err := d.readVarUint8Array()
	if err != nil {
		return nil, ErrNotSyncUpdate
	}
	return update, nil
}

// EncodeSyncUpdate wraps raw update bytes in a sync-update envelope,
// the frame shape editor clients broadcast.
func EncodeSyncUpdate(update []byte) []byte {
	e := &encoder{}
	e.writeVarUint(uint64(MessageSync))
	e.writeVarUint(uint64(SyncUpdate))
	e.writeVarUint8Array(update)
	return e.buf
}
