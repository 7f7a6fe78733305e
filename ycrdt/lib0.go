package ycrdt

import (
	"encoding/binary"
	"errors"
	"math"
)

// Binary primitives of the lib0 encoding used by Yjs v1 updates:
// LEB128-style variable-length integers, length-prefixed strings and
// byte arrays, and the tagged "any" values embedded in content blocks.

var (
	ErrUnexpectedEOF = errors.New("ycrdt: unexpected end of update")
	errBadAnyTag     = errors.New("ycrdt: unknown any-value tag")
)

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) readUint8() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readVarUint() (uint64, error) {
	var num uint64
	var shift uint
	for {
		b, err := d.readUint8()
		if err != nil {
			return 0, err
		}
		num |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return num, nil
		}
		shift += 7
		if shift > 63 {
			return 0, errors.New("ycrdt: varuint overflow")
		}
	}
}

// readVarInt decodes a signed variable-length integer. The first byte
// carries the sign in bit 0x40 and six payload bits.
func (d *decoder) readVarInt() (int64, error) {
	b, err := d.readUint8()
	if err != nil {
		return 0, err
	}
	num := uint64(b & 0x3f)
	negative := b&0x40 != 0
	shift := uint(6)
	for b >= 0x80 {
		b, err = d.readUint8()
		if err != nil {
			return 0, err
		}
		num |= uint64(b&0x7f) << shift
		shift += 7
		if shift > 70 {
			return 0, errors.New("ycrdt: varint overflow")
		}
	}
	if negative {
		return -int64(num), nil
	}
	return int64(num), nil
}

func (d *decoder) readVarUint8Array() ([]byte, error) {
	n, err := d.readVarUint()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.remaining()) {
		return nil, ErrUnexpectedEOF
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

func (d *decoder) readVarString() (string, error) {
	b, err := d.readVarUint8Array()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) readFloat32() (float32, error) {
	if d.remaining() < 4 {
		return 0, ErrUnexpectedEOF
	}
	bits := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return math.Float32frombits(bits), nil
}

func (d *decoder) readFloat64() (float64, error) {
	if d.remaining() < 8 {
		return 0, ErrUnexpectedEOF
	}
	bits := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return math.Float64frombits(bits), nil
}

func (d *decoder) readInt64() (int64, error) {
	if d.remaining() < 8 {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return int64(v), nil
}

// readAny consumes one tagged lib0 "any" value. The value itself is
// discarded; only cursor advancement matters for opaque content.
func (d *decoder) readAny() error {
	tag, err := d.readUint8()
	if err != nil {
		return err
	}
	switch tag {
	case 127, 126, 121, 120: // undefined, null, false, true
		return nil
	case 125:
		_, err = d.readVarInt()
	case 124:
		_, err = d.readFloat32()
	case 123:
		_, err = d.readFloat64()
	case 122:
		_, err = d.readInt64()
	case 119:
		_, err = d.readVarString()
	case 118: // object
		var n uint64
		if n, err = d.readVarUint(); err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if _, err = d.readVarString(); err != nil {
				return err
			}
			if err = d.readAny(); err != nil {
				return err
			}
		}
	case 117: // array
		var n uint64
		if n, err = d.readVarUint(); err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err = d.readAny(); err != nil {
				return err
			}
		}
	case 116:
		_, err = d.readVarUint8Array()
	default:
		return errBadAnyTag
	}
	return err
}

type encoder struct {
	buf []byte
}

func (e *encoder) writeUint8(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) writeVarUint(num uint64) {
	for num >= 0x80 {
		e.buf = append(e.buf, byte(num)|0x80)
		num >>= 7
	}
	e.buf = append(e.buf, byte(num))
}

func (e *encoder) writeVarUint8Array(b []byte) {
	e.writeVarUint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) writeVarString(s string) {
	e.writeVarUint8Array([]byte(s))
}

func (e *encoder) writeRaw(b []byte) {
	e.buf = append(e.buf, b...)
}
