// Package wire frames distributed entries and backplane messages.
//
// All integers are big endian. Decoders are strict: unknown versions or kinds,
// truncated fields and trailing bytes are all ErrCorrupt.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/unkn0wn-root/layercache/backplane"
)

const (
	version     byte = 1
	kindEntry   byte = 1
	kindMessage byte = 2

	flagMeta     byte = 1 << 0
	flagFailSafe byte = 1 << 1

	headerLen = 4 + 1 + 1
)

var (
	ErrCorrupt = errors.New("layercache: corrupt frame")
	magic4     = [...]byte{'L', 'Y', 'R', 'C'}
)

func hasHeader(b []byte, kind byte) bool {
	return len(b) >= headerLen &&
		bytes.Equal(b[:4], magic4[:]) &&
		b[4] == version &&
		b[5] == kind
}

// Meta is the optional part of an entry frame.
type Meta struct {
	IsFromFailSafe  bool
	EagerExpiration int64 // unix nano, 0 = none
	LastModified    int64 // unix nano, 0 = none
	Size            int64
	Priority        uint8
	ETag            string
	Tags            []string
}

// Entry is a distributed cache entry. Expirations are unix nanoseconds.
type Entry struct {
	Timestamp          int64
	LogicalExpiration  int64
	PhysicalExpiration int64
	Meta               *Meta
	Payload            []byte
}

// Entry:
//
//	magic(4) | ver(1) | kind(1=entry) | ts(i64) | lexp(i64) | pexp(i64) | flags(1)
//	[meta: eager(i64) | lastmod(i64) | size(i64) | prio(1) | etagLen(u16) | etag | ntags(u16) | (tagLen(u16) | tag)*]
//	vlen(u32) | payload(vlen)
func EncodeEntry(e Entry) ([]byte, error) {
	if e.Meta != nil {
		if len(e.Meta.ETag) > 0xFFFF || len(e.Meta.Tags) > 0xFFFF {
			return nil, ErrCorrupt
		}
		for _, t := range e.Meta.Tags {
			if len(t) > 0xFFFF {
				return nil, ErrCorrupt
			}
		}
	}
	if uint64(len(e.Payload)) > 0xFFFFFFFF {
		return nil, ErrCorrupt
	}

	size := headerLen + 8*3 + 1 + 4 + len(e.Payload)
	if e.Meta != nil {
		size += 8*3 + 1 + 2 + len(e.Meta.ETag) + 2
		for _, t := range e.Meta.Tags {
			size += 2 + len(t)
		}
	}

	var buf bytes.Buffer
	buf.Grow(size)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	putU64(&buf, uint64(e.Timestamp))
	putU64(&buf, uint64(e.LogicalExpiration))
	putU64(&buf, uint64(e.PhysicalExpiration))

	var flags byte
	if e.Meta != nil {
		flags |= flagMeta
		if e.Meta.IsFromFailSafe {
			flags |= flagFailSafe
		}
	}
	buf.WriteByte(flags)

	if m := e.Meta; m != nil {
		putU64(&buf, uint64(m.EagerExpiration))
		putU64(&buf, uint64(m.LastModified))
		putU64(&buf, uint64(m.Size))
		buf.WriteByte(m.Priority)
		putStr16(&buf, m.ETag)
		putU16(&buf, uint16(len(m.Tags)))
		for _, t := range m.Tags {
			putStr16(&buf, t)
		}
	}

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

// DecodeEntry parses an entry frame. Payload aliases b.
func DecodeEntry(b []byte) (Entry, error) {
	if !hasHeader(b, kindEntry) {
		return Entry{}, ErrCorrupt
	}
	r := reader{b: b, off: headerLen, ok: true}

	var e Entry
	e.Timestamp = int64(r.u64())
	e.LogicalExpiration = int64(r.u64())
	e.PhysicalExpiration = int64(r.u64())
	flags := r.byte()
	if flags&^(flagMeta|flagFailSafe) != 0 {
		return Entry{}, ErrCorrupt
	}

	if flags&flagMeta != 0 {
		m := &Meta{IsFromFailSafe: flags&flagFailSafe != 0}
		m.EagerExpiration = int64(r.u64())
		m.LastModified = int64(r.u64())
		m.Size = int64(r.u64())
		m.Priority = r.byte()
		m.ETag = r.str16()
		if n := int(r.u16()); n > 0 {
			m.Tags = make([]string, 0, min(n, 64))
			for i := 0; i < n && r.ok; i++ {
				m.Tags = append(m.Tags, r.str16())
			}
		}
		e.Meta = m
	} else if flags&flagFailSafe != 0 {
		return Entry{}, ErrCorrupt
	}

	vlen := int(r.u32())
	e.Payload = r.bytes(vlen)
	if !r.ok || r.off != len(b) {
		return Entry{}, ErrCorrupt
	}
	return e, nil
}

// Message:
//
//	magic(4) | ver(1) | kind(2=message) | msgKind(1) | ts(i64) | senderLen(u16) | sender | keyLen(u16) | key
func EncodeMessage(m backplane.Message) ([]byte, error) {
	if !m.Kind.Valid() || len(m.Key) == 0 || len(m.Key) > 0xFFFF || len(m.SenderID) > 0xFFFF {
		return nil, ErrCorrupt
	}
	var buf bytes.Buffer
	buf.Grow(headerLen + 1 + 8 + 2 + len(m.SenderID) + 2 + len(m.Key))
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindMessage)
	buf.WriteByte(byte(m.Kind))
	putU64(&buf, uint64(m.Timestamp))
	putStr16(&buf, m.SenderID)
	putStr16(&buf, m.Key)
	return buf.Bytes(), nil
}

func DecodeMessage(b []byte) (backplane.Message, error) {
	if !hasHeader(b, kindMessage) {
		return backplane.Message{}, ErrCorrupt
	}
	r := reader{b: b, off: headerLen, ok: true}
	var m backplane.Message
	m.Kind = backplane.MessageKind(r.byte())
	m.Timestamp = int64(r.u64())
	m.SenderID = r.str16()
	m.Key = r.str16()
	if !r.ok || r.off != len(b) || !m.Kind.Valid() || m.Key == "" {
		return backplane.Message{}, ErrCorrupt
	}
	return m, nil
}

func putU64(buf *bytes.Buffer, v uint64) {
	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], v)
	buf.Write(u8[:])
}

func putU16(buf *bytes.Buffer, v uint16) {
	var u2 [2]byte
	binary.BigEndian.PutUint16(u2[:], v)
	buf.Write(u2[:])
}

func putStr16(buf *bytes.Buffer, s string) {
	putU16(buf, uint16(len(s)))
	buf.WriteString(s)
}

// reader records the first short read in ok; later reads return zero values.
type reader struct {
	b   []byte
	off int
	ok  bool
}

func (r *reader) take(n int) []byte {
	if !r.ok || n < 0 || n > len(r.b)-r.off {
		r.ok = false
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *reader) byte() byte {
	if p := r.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if p := r.take(2); p != nil {
		return binary.BigEndian.Uint16(p)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if p := r.take(4); p != nil {
		return binary.BigEndian.Uint32(p)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if p := r.take(8); p != nil {
		return binary.BigEndian.Uint64(p)
	}
	return 0
}

func (r *reader) str16() string {
	return string(r.bytes(int(r.u16())))
}

func (r *reader) bytes(n int) []byte { return r.take(n) }
