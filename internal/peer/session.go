// Package peer implements C4: an outbound session that connects,
// handshakes, and drives request/receive against a Controller, and an
// inbound session that accepts a handshake and serves blocks back. Both
// are grounded on lvbealr-BitTorrent/torrent/p2p.go's
// PerformHandshake/ConnectToPeers/DownloadFromPeer and
// original_source/src/client/peer/peer.py's Peer.connect/request_piece.
package peer

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lvbealr/gorent/internal/piece"
	"github.com/lvbealr/gorent/internal/wire"
	"github.com/lvbealr/gorent/internal/xerrors"
	"github.com/lvbealr/gorent/internal/xlog"
)

// ConnectTimeout bounds an outbound dial (spec section 5).
const ConnectTimeout = 5 * time.Second

// ReadTimeout bounds waiting for a single frame, including the PIECE that
// should follow a REQUEST (spec section 5). A session whose read times
// out is considered faulty and torn down by its caller.
const ReadTimeout = 30 * time.Second

// Addr describes a reachable peer: its dial address and advertised id.
type Addr struct {
	IP     string
	Port   int
	PeerID [20]byte
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// PeerID returns the remote peer's handshake-advertised id, used to blame a
// session off a piece when it supplies a block that fails integrity
// verification (spec section 4.3/5).
func (s *Session) PeerID() [20]byte {
	return s.peerID
}

// Session wraps one peer TCP connection. It is strictly half-duplex per
// request (spec section 4.4): a single busy flag guards serial reuse by
// many block workers, since pipelining is out of scope.
type Session struct {
	conn     net.Conn
	infoHash [20]byte
	selfID   [20]byte
	peerID   [20]byte
	bitfield []byte

	mu   sync.Mutex
	busy bool
}

// Dial opens an outbound session to addr, performs the handshake, and
// reads the peer's initial BITFIELD.
func Dial(addr Addr, infoHash, selfID [20]byte) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), ConnectTimeout)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.KindConnect, err, "dialing %s", addr)
	}

	s := &Session{conn: conn, infoHash: infoHash, selfID: selfID}
	if err := s.handshakeOutbound(); err != nil {
		conn.Close()
		return nil, err
	}

	bf, err := s.readBitfield()
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.bitfield = bf
	return s, nil
}

// Accept completes an inbound handshake over an already-accepted conn and
// sends back bitfield as this node's initial BITFIELD.
func Accept(conn net.Conn, selfID [20]byte, expectedInfoHash *[20]byte, bitfield []byte) (*Session, error) {
	s := &Session{conn: conn, selfID: selfID}
	if err := s.handshakeInbound(expectedInfoHash); err != nil {
		conn.Close()
		return nil, err
	}
	if err := wire.WriteMessage(conn, wire.NewBitfield(bitfield)); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) handshakeOutbound() error {
	s.conn.SetDeadline(time.Now().Add(ConnectTimeout))
	defer s.conn.SetDeadline(time.Time{})

	out := &wire.Handshake{InfoHash: s.infoHash, PeerID: s.selfID}
	if err := wire.WriteHandshake(s.conn, out); err != nil {
		return err
	}

	in, err := wire.ReadHandshake(s.conn)
	if err != nil {
		return err
	}
	if !bytes.Equal(in.InfoHash[:], s.infoHash[:]) {
		return xerrors.New(xerrors.KindProtocol, "peer handshake: info hash mismatch")
	}
	s.peerID = in.PeerID
	return nil
}

func (s *Session) handshakeInbound(expectedInfoHash *[20]byte) error {
	s.conn.SetDeadline(time.Now().Add(ConnectTimeout))
	defer s.conn.SetDeadline(time.Time{})

	in, err := wire.ReadHandshake(s.conn)
	if err != nil {
		return err
	}
	if expectedInfoHash != nil && !bytes.Equal(in.InfoHash[:], expectedInfoHash[:]) {
		return xerrors.New(xerrors.KindProtocol, "peer handshake: unknown info hash")
	}
	s.infoHash = in.InfoHash
	s.peerID = in.PeerID

	out := &wire.Handshake{InfoHash: s.infoHash, PeerID: s.selfID}
	return wire.WriteHandshake(s.conn, out)
}

func (s *Session) readBitfield() ([]byte, error) {
	s.conn.SetDeadline(time.Now().Add(ReadTimeout))
	defer s.conn.SetDeadline(time.Time{})

	msg, err := wire.ReadMessage(s.conn)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.ID != wire.Bitfield {
		return nil, xerrors.New(xerrors.KindProtocol, "expected bitfield as first message")
	}
	return msg.Payload, nil
}

// HasPiece reports whether the remote peer's bitfield advertises index.
func (s *Session) HasPiece(index int) bool {
	byteIdx := index / 8
	if byteIdx < 0 || byteIdx >= len(s.bitfield) {
		return false
	}
	bitIdx := uint(index % 8)
	return s.bitfield[byteIdx]&(1<<(7-bitIdx)) != 0
}

// tryAcquire claims the session for one request/response exchange.
func (s *Session) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// FetchBlock sends one REQUEST and blocks for the matching PIECE, strictly
// half-duplex per spec section 4.4. It returns (nil, false, nil) if the
// session is already busy serving another worker.
func (s *Session) FetchBlock(work piece.Work) (data []byte, ok bool, err error) {
	if !s.tryAcquire() {
		return nil, false, nil
	}
	defer s.release()

	req := wire.NewRequest(uint32(work.PieceIndex), uint32(work.Offset), uint32(work.Length))
	if err := wire.WriteMessage(s.conn, req); err != nil {
		return nil, true, xerrors.Wrap(xerrors.KindConnect, err, "sending request")
	}

	s.conn.SetDeadline(time.Now().Add(ReadTimeout))
	defer s.conn.SetDeadline(time.Time{})

	msg, err := wire.ReadMessage(s.conn)
	if err != nil {
		return nil, true, err
	}
	if msg == nil {
		return nil, true, xerrors.New(xerrors.KindFrame, "keep-alive where PIECE was expected")
	}

	data, err = wire.ParsePiece(msg, uint32(work.PieceIndex), uint32(work.Offset))
	if err != nil {
		return nil, true, err
	}
	return data, true, nil
}

// ServeBlocks answers REQUESTs from the remote peer by reading from
// source, until the connection closes or a read fails. It is the inbound
// counterpart to FetchBlock, run in its own goroutine per accepted
// session.
func (s *Session) ServeBlocks(source func(pieceIndex, offset, length int) ([]byte, error)) {
	defer s.conn.Close()

	for {
		msg, err := wire.ReadMessage(s.conn)
		if err != nil {
			return
		}
		if msg == nil {
			continue // keep-alive
		}

		switch msg.ID {
		case wire.Request:
			pieceIndex, offset, length, err := wire.ParseRequest(msg)
			if err != nil {
				xlog.L.WithField("peer", s.conn.RemoteAddr()).WithField("error", err).Warn("serve: malformed request")
				return
			}
			data, err := source(int(pieceIndex), int(offset), int(length))
			if err != nil {
				xlog.L.WithField("piece", pieceIndex).WithField("error", err).Warn("serve: reading requested block failed")
				continue
			}
			resp := wire.NewPiece(pieceIndex, offset, data)
			if err := wire.WriteMessage(s.conn, resp); err != nil {
				return
			}
		case wire.Interested, wire.NotInterested, wire.Choke, wire.Unchoke, wire.Have, wire.Cancel, wire.Port:
			// Acknowledged implicitly; no choking/fairness policy beyond
			// the busy flag (spec section 1's non-goals).
		}
	}
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
