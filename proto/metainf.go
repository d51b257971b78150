package proto

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/peerid"
)

// metaTag identifies the type of one MetaInf entry's value (spec §6.1:
// "consumers read keys str, u32, u64, blob, bool, uuid").
type metaTag byte

const (
	tagStr metaTag = iota
	tagU32
	tagU64
	tagBlob
	tagBool
	tagUUID
)

// MetaInf is the self-describing typed key/value container carried as the
// `metainf` blob of STREAM_REQUEST. It is an ordered list, not a map, so
// encoding is deterministic; setting a key that is already present
// replaces that entry's type and value in place.
type MetaInf struct {
	entries []metaEntry
}

type metaEntry struct {
	key string
	tag metaTag
	val []byte
}

// NewMetaInf returns an empty container ready for Set* calls.
func NewMetaInf() *MetaInf { return &MetaInf{} }

func (m *MetaInf) set(key string, tag metaTag, val []byte) {
	for i, e := range m.entries {
		if e.key == key {
			m.entries[i] = metaEntry{key: key, tag: tag, val: val}
			return
		}
	}
	m.entries = append(m.entries, metaEntry{key: key, tag: tag, val: val})
}

func (m *MetaInf) SetStr(key, v string)  { m.set(key, tagStr, []byte(v)) }
func (m *MetaInf) SetU32(key string, v uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	m.set(key, tagU32, b)
}
func (m *MetaInf) SetU64(key string, v uint64) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	m.set(key, tagU64, b)
}
func (m *MetaInf) SetBlob(key string, v []byte) { m.set(key, tagBlob, v) }
func (m *MetaInf) SetBool(key string, v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	m.set(key, tagBool, []byte{b})
}
func (m *MetaInf) SetUUID(key string, v peerid.ID) { m.set(key, tagUUID, v.Bytes()) }

func (m *MetaInf) find(key string, tag metaTag) ([]byte, bool) {
	for _, e := range m.entries {
		if e.key == key && e.tag == tag {
			return e.val, true
		}
	}
	return nil, false
}

func (m *MetaInf) Str(key string) (string, bool) {
	v, ok := m.find(key, tagStr)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (m *MetaInf) U32(key string) (uint32, bool) {
	v, ok := m.find(key, tagU32)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func (m *MetaInf) U64(key string) (uint64, bool) {
	v, ok := m.find(key, tagU64)
	if !ok || len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

func (m *MetaInf) Blob(key string) ([]byte, bool) {
	return m.find(key, tagBlob)
}

func (m *MetaInf) Bool(key string) (bool, bool) {
	v, ok := m.find(key, tagBool)
	if !ok || len(v) != 1 {
		return false, false
	}
	return v[0] != 0, true
}

func (m *MetaInf) UUID(key string) (peerid.ID, bool) {
	v, ok := m.find(key, tagUUID)
	if !ok {
		return peerid.ID{}, false
	}
	id, err := peerid.FromBytes(v)
	if err != nil {
		return peerid.ID{}, false
	}
	return id, true
}

// Encode serializes the container to its wire form: a u32 entry count,
// then for each entry a length-prefixed key, a one-byte tag, and a
// length-prefixed value.
func (m *MetaInf) Encode() []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(m.entries)))
	buf.Write(countBuf[:])
	for _, e := range m.entries {
		writeLP(&buf, []byte(e.key))
		buf.WriteByte(byte(e.tag))
		writeLP(&buf, e.val)
	}
	return buf.Bytes()
}

func writeLP(buf *bytes.Buffer, v []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	buf.Write(lenBuf[:])
	buf.Write(v)
}

// DecodeMetaInf parses the wire form produced by Encode.
func DecodeMetaInf(data []byte) (*MetaInf, error) {
	r := bytes.NewReader(data)
	count, err := readUint32(r)
	if err != nil {
		return nil, ferr.Wrap(ferr.Protocol, err, "decoding metainf entry count")
	}
	m := &MetaInf{entries: make([]metaEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		key, err := readLP(r)
		if err != nil {
			return nil, ferr.Wrap(ferr.Protocol, err, "decoding metainf key")
		}
		tagByte := make([]byte, 1)
		if _, err := io.ReadFull(r, tagByte); err != nil {
			return nil, ferr.Wrap(ferr.Protocol, err, "decoding metainf tag")
		}
		val, err := readLP(r)
		if err != nil {
			return nil, ferr.Wrap(ferr.Protocol, err, "decoding metainf value")
		}
		m.entries = append(m.entries, metaEntry{key: string(key), tag: metaTag(tagByte[0]), val: val})
	}
	return m, nil
}

func readLP(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
