package tracker

// PeerInfoArgs is the caller-facing shape of a register_torrent request's
// peer_info field; tracker stays decoupled from internal/metainfo so
// internal/client does the translation.
type PeerInfoArgs struct {
	PeerID string
	IP     string
	Port   int
	Left   int64
}

// RegisterArgs is the caller-facing shape of a register_torrent request.
type RegisterArgs struct {
	InfoHash  string
	Name      string
	Size      int64
	PieceSize int64
	Pieces    string
	Peer      PeerInfoArgs
}

// Register announces a torrent (and this peer's interest in it) to the
// tracker node at addr.
func (c RPCClient) Register(addr string, args RegisterArgs) error {
	req := rawRequest{
		Type: "register_torrent",
		TorrentMD: torrentMetadata{
			InfoHash:  args.InfoHash,
			Name:      args.Name,
			Size:      args.Size,
			PieceSize: args.PieceSize,
			Pieces:    args.Pieces,
		},
		PeerInfo: peerInfo{
			PeerID: args.Peer.PeerID,
			IP:     args.Peer.IP,
			Port:   args.Peer.Port,
			Left:   args.Peer.Left,
		},
	}
	return c.call(addr, req, nil)
}

// Lookup fetches the torrent record for infoHash from the tracker node at
// addr.
func (c RPCClient) Lookup(addr, infoHash string) (Record, error) {
	var record Record
	err := c.call(addr, rawRequest{Type: "get_torrent", InfoHash: infoHash}, &record)
	return record, err
}
