package tracker

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net"

	"github.com/lvbealr/gorent/internal/chord"
	"github.com/lvbealr/gorent/internal/xerrors"
	"github.com/lvbealr/gorent/internal/xlog"
)

// Server accepts ring and store RPCs on a single TCP listener, dispatching
// by the request's "type" field the way
// original_source/src/tracker/tracker.py's handle_client does, translated
// from its if/elif chain into a Go switch.
type Server struct {
	Node  *chord.Node
	Store *Store
}

// ListenAndServe binds addr and serves connections until the listener is
// closed or the passed-in done channel fires.
func (s *Server) ListenAndServe(addr string, done <-chan struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Wrapf(xerrors.KindConnect, err, "listening on %s", addr)
	}

	go func() {
		<-done
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				xlog.L.WithField("error", err).Warn("tracker: accept failed")
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		body, err := readFrame(conn)
		if err != nil {
			if err != io.EOF && !xerrors.Is(err, xerrors.KindFrame) {
				xlog.L.WithField("error", err).Warn("tracker: reading request failed")
			}
			return
		}

		var raw rawRequest
		if err := json.Unmarshal(body, &raw); err != nil {
			xlog.L.WithField("error", err).Warn("tracker: malformed request")
			return
		}
		req := raw.normalize()

		if err := s.dispatch(conn, req); err != nil {
			xlog.L.WithField("type", req.Type).WithField("error", err).Warn("tracker: request failed")
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, req request) error {
	switch req.Type {
	case "register_torrent":
		return s.handleRegister(conn, req)
	case "get_torrent":
		return s.handleGetTorrent(conn, req)
	case "find_successor":
		successor, err := s.Node.FindSuccessor(req.KeyID)
		if err != nil {
			return err
		}
		return writeJSON(conn, map[string]string{"successor": successor})
	case "find_predecessor":
		predecessor, err := s.Node.FindPredecessor(req.KeyID)
		if err != nil {
			return err
		}
		return writeJSON(conn, map[string]string{"predecessor": predecessor})
	case "notify":
		s.Node.Notify(req.IP)
		return writeJSON(conn, map[string]string{"status": "ok"})
	case "get_predecessor":
		return writeJSON(conn, map[string]string{"predecessor": s.Node.Predecessor()})
	case "get_successors":
		successors := s.Node.Successors()
		return writeJSON(conn, map[string][]string{"successors": successors[:]})
	case "update_finger_table":
		s.Node.UpdateFingerTable(req.NodeIP, req.Index, req.Origin)
		return writeJSON(conn, map[string]string{"status": "ok"})
	default:
		return writeText(conn, "ERROR: unknown request type")
	}
}

// ownerFor resolves which ring node owns infoHashHex's torrent record: the
// node returned by find_successor(info_hash mod 2^m), per spec section
// 4.6. The store is sharded across the ring by this key, not replicated,
// so register_torrent and get_torrent must be served (or forwarded) by
// whichever node this returns.
func (s *Server) ownerFor(infoHashHex string) (string, error) {
	digest, err := hex.DecodeString(infoHashHex)
	if err != nil {
		return "", xerrors.Wrapf(xerrors.KindUsage, err, "info hash %q is not valid hex", infoHashHex)
	}
	if len(digest) != 20 {
		return "", xerrors.New(xerrors.KindUsage, "info hash "+infoHashHex+" is not 20 bytes")
	}
	var fixed [20]byte
	copy(fixed[:], digest)
	key := chord.KeyFromDigest(fixed, s.Node.M)
	return s.Node.FindSuccessor(key)
}

func (s *Server) handleRegister(conn net.Conn, req request) error {
	owner, err := s.ownerFor(req.TorrentMD.InfoHash)
	if err != nil {
		return err
	}
	if owner != s.Node.Addr {
		args := RegisterArgs{
			InfoHash:  req.TorrentMD.InfoHash,
			Name:      req.TorrentMD.Name,
			Size:      req.TorrentMD.Size,
			PieceSize: req.TorrentMD.PieceSize,
			Pieces:    req.TorrentMD.Pieces,
			Peer: PeerInfoArgs{
				PeerID: req.PeerInfo.PeerID,
				IP:     req.PeerInfo.IP,
				Port:   req.PeerInfo.Port,
				Left:   req.PeerInfo.Left,
			},
		}
		if err := (RPCClient{}).Register(owner, args); err != nil {
			return err
		}
		return writeText(conn, "Torrent successfully registered.")
	}

	record := Record{
		InfoHash:  req.TorrentMD.InfoHash,
		Name:      req.TorrentMD.Name,
		Size:      req.TorrentMD.Size,
		PieceSize: req.TorrentMD.PieceSize,
		Pieces:    req.TorrentMD.Pieces,
	}
	peer := Peer{PeerID: req.PeerInfo.PeerID, IP: req.PeerInfo.IP, Port: req.PeerInfo.Port}
	peerIsSeeding := req.PeerInfo.Left == 0

	if err := s.Store.Register(record, peer, peerIsSeeding); err != nil {
		return err
	}
	return writeText(conn, "Torrent successfully registered.")
}

func (s *Server) handleGetTorrent(conn net.Conn, req request) error {
	owner, err := s.ownerFor(req.InfoHash)
	if err != nil {
		return writeText(conn, "ERROR: Torrent not found in the tracker.")
	}
	if owner != s.Node.Addr {
		record, err := (RPCClient{}).Lookup(owner, req.InfoHash)
		if err != nil {
			return writeText(conn, "ERROR: Torrent not found in the tracker.")
		}
		return writeJSON(conn, record)
	}

	record, err := s.Store.Get(req.InfoHash)
	if err != nil {
		return writeText(conn, "ERROR: Torrent not found in the tracker.")
	}
	return writeJSON(conn, record)
}
