// Package wire implements the peer-to-peer handshake and the ten
// length-prefixed message variants of the BitTorrent-style protocol in
// spec section 4.1.
//
// Every message after the handshake shares the frame
// <u32 length><u8 id><payload>, length counting the id byte plus payload.
// The handshake has its own fixed 68-byte frame and is never
// length-prefixed.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/lvbealr/gorent/internal/xerrors"
)

// ID identifies a peer-protocol message variant.
type ID uint8

const (
	Choke ID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	default:
		return "unknown"
	}
}

// Message is a tagged variant of the peer protocol's message set. A
// KeepAlive has no ID of its own; callers represent it as a nil *Message.
type Message struct {
	ID      ID
	Payload []byte
}

// Encode serialises a message (or a keep-alive, for a nil receiver) into
// its wire frame.
func (m *Message) Encode() []byte {
	if m == nil {
		buf := make([]byte, 4)
		return buf
	}

	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one frame from r. It returns (nil, nil) on a
// keep-alive (length 0). It tolerates the reader handing back the length
// prefix and the payload across arbitrarily many short reads: io.ReadFull
// blocks until each field is fully assembled, so a connection that
// delivers one byte per Read still produces a well-formed Message.
func ReadMessage(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, xerrors.Wrap(xerrors.KindFrame, err, "reading message length")
	}
	length := binary.BigEndian.Uint32(lengthBuf)

	if length == 0 {
		return nil, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, xerrors.Wrap(xerrors.KindFrame, err, "reading message body")
	}

	msg := &Message{ID: ID(body[0])}
	if length > 1 {
		msg.Payload = body[1:]
	}
	return msg, nil
}

// WriteMessage encodes and writes m (nil for a keep-alive) to w.
func WriteMessage(w io.Writer, m *Message) error {
	_, err := w.Write(m.Encode())
	if err != nil {
		return xerrors.Wrap(xerrors.KindFrame, err, "writing message")
	}
	return nil
}

// NewHave builds a HAVE message: <length=5><id=4><piece_index>.
func NewHave(pieceIndex uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, pieceIndex)
	return &Message{ID: Have, Payload: payload}
}

// ParseHave extracts the piece index from a HAVE message, failing with a
// FrameError if msg is not a HAVE.
func ParseHave(msg *Message) (uint32, error) {
	if msg.ID != Have {
		return 0, newWrongKind(Have, msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, xerrors.New(xerrors.KindFrame, "invalid HAVE payload length")
	}
	return binary.BigEndian.Uint32(msg.Payload), nil
}

// NewBitfield builds a BITFIELD message: <length=1+N><id=5><bitmap>.
func NewBitfield(bitmap []byte) *Message {
	return &Message{ID: Bitfield, Payload: bitmap}
}

// NewRequest builds a REQUEST message:
// <length=13><id=6><piece_index><block_offset><block_length>.
func NewRequest(pieceIndex, blockOffset, blockLength uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], pieceIndex)
	binary.BigEndian.PutUint32(payload[4:8], blockOffset)
	binary.BigEndian.PutUint32(payload[8:12], blockLength)
	return &Message{ID: Request, Payload: payload}
}

// ParseRequest decodes a REQUEST (or CANCEL, same layout) payload.
func ParseRequest(msg *Message) (pieceIndex, blockOffset, blockLength uint32, err error) {
	if msg.ID != Request && msg.ID != Cancel {
		return 0, 0, 0, newWrongKind(Request, msg.ID)
	}
	if len(msg.Payload) != 12 {
		return 0, 0, 0, xerrors.New(xerrors.KindFrame, "invalid REQUEST payload length")
	}
	pieceIndex = binary.BigEndian.Uint32(msg.Payload[0:4])
	blockOffset = binary.BigEndian.Uint32(msg.Payload[4:8])
	blockLength = binary.BigEndian.Uint32(msg.Payload[8:12])
	return pieceIndex, blockOffset, blockLength, nil
}

// NewCancel builds a CANCEL message, mirroring REQUEST's layout.
func NewCancel(pieceIndex, blockOffset, blockLength uint32) *Message {
	m := NewRequest(pieceIndex, blockOffset, blockLength)
	m.ID = Cancel
	return m
}

// NewPiece builds a PIECE message:
// <length=9+X><id=7><piece_index><block_offset><block_data>.
func NewPiece(pieceIndex, blockOffset uint32, data []byte) *Message {
	payload := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(payload[0:4], pieceIndex)
	binary.BigEndian.PutUint32(payload[4:8], blockOffset)
	copy(payload[8:], data)
	return &Message{ID: Piece, Payload: payload}
}

// ParsePiece decodes a PIECE message's index, offset and block data. It
// fails with ProtocolError if index or offset don't match what the caller
// requested.
func ParsePiece(msg *Message, wantIndex, wantOffset uint32) (data []byte, err error) {
	if msg.ID != Piece {
		return nil, newWrongKind(Piece, msg.ID)
	}
	if len(msg.Payload) < 8 {
		return nil, xerrors.New(xerrors.KindFrame, "invalid PIECE payload length")
	}
	index := binary.BigEndian.Uint32(msg.Payload[0:4])
	offset := binary.BigEndian.Uint32(msg.Payload[4:8])
	if index != wantIndex || offset != wantOffset {
		return nil, xerrors.New(xerrors.KindProtocol, "unexpected PIECE index/offset")
	}
	return msg.Payload[8:], nil
}

// NewPort builds a PORT message: <length=5><id=9><listen_port>.
func NewPort(listenPort uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, listenPort)
	return &Message{ID: Port, Payload: payload}
}

// ParsePort extracts the listen port from a PORT message.
func ParsePort(msg *Message) (uint32, error) {
	if msg.ID != Port {
		return 0, newWrongKind(Port, msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, xerrors.New(xerrors.KindFrame, "invalid PORT payload length")
	}
	return binary.BigEndian.Uint32(msg.Payload), nil
}

func newWrongKind(want, got ID) error {
	return xerrors.New(xerrors.KindFrame, "expected "+want.String()+" got "+got.String())
}
