// Package tracker implements the torrent-metadata store and its framed
// JSON RPC (spec section 4.6), and wires a chord.Node's ring protocol onto
// the same connection so a single TCP listener serves both concerns, as
// original_source/src/tracker/tracker.py's Tracker(Node) does.
package tracker

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/lvbealr/gorent/internal/xerrors"
)

// request is the envelope every RPC call arrives in; fields not used by a
// given type are left zero.
//
// The reference implementation overloads a single "data" field as either
// a ring key (find_successor/find_predecessor) or an IP string (notify),
// which Go's static JSON typing can't do safely. This protocol instead
// gives the ring key and the candidate address their own fields (key_id,
// ip), keeping every other field name as spec section 4.6 defines it.
type request struct {
	Type      string          `json:"type"`
	TorrentMD torrentMetadata `json:"torrent_metadata"`
	PeerInfo  peerInfo        `json:"peer_info"`
	InfoHash  string          `json:"info_hash"`
	KeyID     uint64          `json:"key_id"`
	IP        string          `json:"ip"`
	NodeIP    string          `json:"node_ip"`
	Index     int             `json:"index"`
	Origin    string          `json:"origin"`
}

// rawRequest additionally accepts "torrent_id" as an alias for
// "info_hash" (spec section 9's aliasing note).
type rawRequest struct {
	Type      string          `json:"type"`
	TorrentMD torrentMetadata `json:"torrent_metadata"`
	PeerInfo  peerInfo        `json:"peer_info"`
	InfoHash  string          `json:"info_hash"`
	TorrentID string          `json:"torrent_id"`
	KeyID     uint64          `json:"key_id"`
	IP        string          `json:"ip"`
	NodeIP    string          `json:"node_ip"`
	Index     int             `json:"index"`
	Origin    string          `json:"origin"`
}

func (r rawRequest) normalize() request {
	infoHash := r.InfoHash
	if infoHash == "" {
		infoHash = r.TorrentID
	}
	return request{
		Type:      r.Type,
		TorrentMD: r.TorrentMD,
		PeerInfo:  r.PeerInfo,
		InfoHash:  infoHash,
		KeyID:     r.KeyID,
		IP:        r.IP,
		NodeIP:    r.NodeIP,
		Index:     r.Index,
		Origin:    r.Origin,
	}
}

type torrentMetadata struct {
	InfoHash  string `json:"info_hash"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	PieceSize int64  `json:"piece_size"`
	Pieces    string `json:"pieces"`
}

type peerInfo struct {
	PeerID string `json:"peer_id"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	// Left is how many bytes of the content this peer still has to
	// fetch; 0 means it is seeding. Drives the seeder/leecher counter
	// policy in Store.Register.
	Left int64 `json:"left"`
}

// readFrame reads one <u32 length><body> frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, xerrors.Wrap(xerrors.KindFrame, err, "reading rpc frame length")
	}
	n := binary.BigEndian.Uint32(header)

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, xerrors.Wrap(xerrors.KindFrame, err, "reading rpc frame body")
	}
	return body, nil
}

// writeFrame writes body as a <u32 length><body> frame to w.
func writeFrame(w io.Writer, body []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return xerrors.Wrap(xerrors.KindFrame, err, "writing rpc frame header")
	}
	if _, err := w.Write(body); err != nil {
		return xerrors.Wrap(xerrors.KindFrame, err, "writing rpc frame body")
	}
	return nil
}

// writeJSON marshals v and writes it as a single frame.
func writeJSON(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrap(xerrors.KindFrame, err, "marshalling rpc response")
	}
	return writeFrame(w, body)
}

// writeText writes s as a single frame, for the plain-string responses
// register_torrent and error paths use.
func writeText(w io.Writer, s string) error {
	return writeFrame(w, []byte(s))
}
