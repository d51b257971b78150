// Package proto implements the wire protocol of spec §6.1: big-endian
// framed messages exchanged between peers over the (externally supplied)
// authenticated transport. It is shared by the interlink and the remote
// stream factory, the way a single codec package commonly sits
// underneath multiple transports.
package proto

import (
	"encoding/binary"
	"io"

	"github.com/wwwVladislav/fsync-sub000/ferr"
	"github.com/wwwVladislav/fsync-sub000/peerid"
)

// ProtocolVersion is the handshake version this node speaks (spec §6.1).
const ProtocolVersion uint32 = 1

// MsgType identifies the kind of a framed message.
type MsgType uint32

const (
	MsgHello MsgType = iota
	MsgNodeStatus
	MsgStreamRequest
	MsgStream
	MsgStreamData
	MsgStreamEnd
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "HELLO"
	case MsgNodeStatus:
		return "NODE_STATUS"
	case MsgStreamRequest:
		return "STREAM_REQUEST"
	case MsgStream:
		return "STREAM"
	case MsgStreamData:
		return "STREAM_DATA"
	case MsgStreamEnd:
		return "STREAM_END"
	default:
		return "UNKNOWN"
	}
}

// Hello is the handshake message both sides exchange first (spec §4.3).
type Hello struct {
	PeerID  peerid.ID
	Version uint32
}

// NodeStatus advertises a bitmask of node-level status flags.
type NodeStatus struct {
	PeerID     peerid.ID
	StatusBits uint32
}

// StreamRequest asks the receiver to accept a new stream (spec §4.4.2).
type StreamRequest struct {
	Src, Dst peerid.ID
	Cookie   uint32
	MetaInf  []byte
}

// Stream is the receiver's reply, naming the stream id data will arrive under.
type Stream struct {
	Src, Dst peerid.ID
	StreamID uint32
	Cookie   uint32
}

// StreamData carries one ordered chunk of a stream's payload.
type StreamData struct {
	Src, Dst peerid.ID
	StreamID uint32
	Offset   uint64
	Data     []byte
}

// StreamEndStatus is the terminal status code carried by StreamEnd.
type StreamEndStatus uint32

const (
	StreamOK StreamEndStatus = iota
	StreamErr
	StreamTimeout
)

// StreamEnd closes a stream, successfully or not (spec §4.4.2, §4.5).
type StreamEnd struct {
	Src, Dst peerid.ID
	StreamID uint32
	Status   StreamEndStatus
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writePeerID(w io.Writer, id peerid.ID) error {
	_, err := w.Write(id[:])
	return err
}

func readPeerID(r io.Reader) (peerid.ID, error) {
	var b [peerid.Size]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return peerid.ID{}, err
	}
	return peerid.FromBytes(b[:])
}

func writeBlob(w io.Writer, data []byte) error {
	if err := writeUint32(w, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readBlob(r io.Reader) ([]byte, error) {
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

// WriteMessage frames and writes msg to w: a u32 msg type followed by the
// type's fields in the declared order (spec §6.1).
func WriteMessage(w io.Writer, msg interface{}) error {
	switch m := msg.(type) {
	case Hello:
		if err := writeUint32(w, uint32(MsgHello)); err != nil {
			return err
		}
		if err := writePeerID(w, m.PeerID); err != nil {
			return err
		}
		return writeUint32(w, m.Version)

	case NodeStatus:
		if err := writeUint32(w, uint32(MsgNodeStatus)); err != nil {
			return err
		}
		if err := writePeerID(w, m.PeerID); err != nil {
			return err
		}
		return writeUint32(w, m.StatusBits)

	case StreamRequest:
		if err := writeUint32(w, uint32(MsgStreamRequest)); err != nil {
			return err
		}
		if err := writePeerID(w, m.Src); err != nil {
			return err
		}
		if err := writePeerID(w, m.Dst); err != nil {
			return err
		}
		if err := writeUint32(w, m.Cookie); err != nil {
			return err
		}
		return writeBlob(w, m.MetaInf)

	case Stream:
		if err := writeUint32(w, uint32(MsgStream)); err != nil {
			return err
		}
		if err := writePeerID(w, m.Src); err != nil {
			return err
		}
		if err := writePeerID(w, m.Dst); err != nil {
			return err
		}
		if err := writeUint32(w, m.StreamID); err != nil {
			return err
		}
		return writeUint32(w, m.Cookie)

	case StreamData:
		if err := writeUint32(w, uint32(MsgStreamData)); err != nil {
			return err
		}
		if err := writePeerID(w, m.Src); err != nil {
			return err
		}
		if err := writePeerID(w, m.Dst); err != nil {
			return err
		}
		if err := writeUint32(w, m.StreamID); err != nil {
			return err
		}
		if err := writeUint64(w, m.Offset); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(m.Data))); err != nil {
			return err
		}
		_, err := w.Write(m.Data)
		return err

	case StreamEnd:
		if err := writeUint32(w, uint32(MsgStreamEnd)); err != nil {
			return err
		}
		if err := writePeerID(w, m.Src); err != nil {
			return err
		}
		if err := writePeerID(w, m.Dst); err != nil {
			return err
		}
		if err := writeUint32(w, m.StreamID); err != nil {
			return err
		}
		return writeUint32(w, uint32(m.Status))

	default:
		return ferr.Newf(ferr.InvalidArg, "unknown message type %T", msg)
	}
}

// ReadMessage reads one framed message from r and returns it typed as
// interface{}; callers type-switch on the concrete struct (Hello,
// StreamRequest, ...).
func ReadMessage(r io.Reader) (interface{}, error) {
	t, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	switch MsgType(t) {
	case MsgHello:
		id, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		ver, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return Hello{PeerID: id, Version: ver}, nil

	case MsgNodeStatus:
		id, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		bits, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return NodeStatus{PeerID: id, StatusBits: bits}, nil

	case MsgStreamRequest:
		src, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		dst, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		cookie, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		meta, err := readBlob(r)
		if err != nil {
			return nil, err
		}
		return StreamRequest{Src: src, Dst: dst, Cookie: cookie, MetaInf: meta}, nil

	case MsgStream:
		src, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		dst, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		streamID, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		cookie, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return Stream{Src: src, Dst: dst, StreamID: streamID, Cookie: cookie}, nil

	case MsgStreamData:
		src, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		dst, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		streamID, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		offset, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		size, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		return StreamData{Src: src, Dst: dst, StreamID: streamID, Offset: offset, Data: data}, nil

	case MsgStreamEnd:
		src, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		dst, err := readPeerID(r)
		if err != nil {
			return nil, err
		}
		streamID, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		status, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return StreamEnd{Src: src, Dst: dst, StreamID: streamID, Status: StreamEndStatus(status)}, nil

	default:
		return nil, ferr.Newf(ferr.Protocol, "unknown message type %d", t)
	}
}
