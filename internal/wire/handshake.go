package wire

import (
	"bytes"
	"io"

	"github.com/lvbealr/gorent/internal/xerrors"
)

// ProtocolName is the fixed protocol identifier string in every handshake.
const ProtocolName = "BitTorrent protocol"

// HandshakeLength is the total size, in bytes, of a handshake frame:
// 1 (pstrlen) + 19 (pstr) + 8 (reserved) + 20 (info hash) + 20 (peer id).
const HandshakeLength = 1 + len(ProtocolName) + 8 + 20 + 20

// Handshake is the 68-byte prelude exchanged once per TCP peer session,
// before any length-prefixed message is sent.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Encode serialises the handshake:
// <pstrlen=19><pstr><8 reserved bytes><info_hash><peer_id>.
func (h *Handshake) Encode() []byte {
	buf := make([]byte, HandshakeLength)
	cursor := 0
	buf[cursor] = byte(len(ProtocolName))
	cursor++
	cursor += copy(buf[cursor:], ProtocolName)
	cursor += 8 // reserved, left zero
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and validates a handshake frame from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, HandshakeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, xerrors.Wrap(xerrors.KindProtocol, err, "reading handshake")
	}

	pstrlen := int(buf[0])
	if pstrlen != len(ProtocolName) {
		return nil, xerrors.New(xerrors.KindProtocol, "unexpected pstrlen in handshake")
	}
	if !bytes.Equal(buf[1:1+pstrlen], []byte(ProtocolName)) {
		return nil, xerrors.New(xerrors.KindProtocol, "unexpected protocol string in handshake")
	}

	var h Handshake
	cursor := 1 + pstrlen + 8
	copy(h.InfoHash[:], buf[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], buf[cursor:cursor+20])
	return &h, nil
}

// WriteHandshake writes h's encoded form to w.
func WriteHandshake(w io.Writer, h *Handshake) error {
	_, err := w.Write(h.Encode())
	if err != nil {
		return xerrors.Wrap(xerrors.KindConnect, err, "writing handshake")
	}
	return nil
}
