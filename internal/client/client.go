// Package client implements C7: the three operator-visible flows that
// bind the wire codec, piece controller, and peer sessions to the Chord
// tracker ring. Grounded on original_source/src/main.py's top-level
// dispatch and lvbealr-BitTorrent/torrent/p2p.go's StartDownload worker
// pool, generalized from a single embedded tracker to the Chord ring.
package client

import (
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/lvbealr/gorent/internal/chord"
	"github.com/lvbealr/gorent/internal/metainfo"
	"github.com/lvbealr/gorent/internal/peer"
	"github.com/lvbealr/gorent/internal/piece"
	"github.com/lvbealr/gorent/internal/storage"
	"github.com/lvbealr/gorent/internal/tracker"
	"github.com/lvbealr/gorent/internal/xerrors"
	"github.com/lvbealr/gorent/internal/xlog"
)

// maxInflightPeers bounds how many peer sessions a fetch downloads from
// concurrently, mirroring the teacher's semaphore-capped worker pool. Every
// advertised peer is still dialled up front; the cap does not limit how
// many sessions are open.
const maxInflightPeers = 10

// Client is one running instance of the system: it has a stable peer id,
// listens for inbound peer sessions, and can talk to a tracker ring.
type Client struct {
	SelfID      [20]byte
	InstanceID  uuid.UUID
	ListenAddr  string
	TrackerAddr string
	Layout      *storage.Layout
	rpc         tracker.RPCClient
}

// New builds a Client with a freshly generated peer id and instance id,
// rooted at a storage.Layout under the current directory (spec section 6's
// on-disk layout).
func New(listenAddr, trackerAddr string) (*Client, error) {
	return NewWithDataDir(listenAddr, trackerAddr, ".")
}

// NewWithDataDir is New with an explicit root for the on-disk layout.
func NewWithDataDir(listenAddr, trackerAddr, dataDir string) (*Client, error) {
	var id [20]byte
	if _, err := rand.Read(id[:]); err != nil {
		return nil, xerrors.Wrap(xerrors.KindUsage, err, "generating peer id")
	}
	instanceID := uuid.New()

	return &Client{
		SelfID:      id,
		InstanceID:  instanceID,
		ListenAddr:  listenAddr,
		TrackerAddr: trackerAddr,
		Layout:      storage.New(dataDir, instanceID.String()),
	}, nil
}

// Bootstrap starts this node's own tracker-ring server (backed by its
// shard of the JSON store at Layout.TrackerDataPath) and either forms a
// new single-node ring (bootstrapAddr == "") or joins an existing one
// through bootstrapAddr, returning the resulting chord.Node. Every
// client is itself a ring member: the Chord overlay and the tracker
// plane are the same set of processes (spec section 4.5/4.6).
func (c *Client) Bootstrap(bootstrapAddr string, m int) (*chord.Node, error) {
	if err := c.Layout.EnsureDirs(); err != nil {
		return nil, err
	}

	store, err := tracker.Open(c.Layout.TrackerDataPath())
	if err != nil {
		return nil, err
	}

	node := chord.New(c.TrackerAddr, m, c.rpc)
	srv := &tracker.Server{Node: node, Store: store}

	// done is never closed: the tracker server and stabiliser run for
	// this client's whole process lifetime once bootstrapped.
	done := make(chan struct{})

	ready := make(chan error, 1)
	go func() { ready <- srv.ListenAndServe(c.TrackerAddr, done) }()
	select {
	case err := <-ready:
		return nil, xerrors.Wrap(xerrors.KindConnect, err, "bootstrap: starting tracker server")
	case <-time.After(50 * time.Millisecond):
		// server accepted its listener without an immediate bind error
	}

	if err := node.Join(bootstrapAddr); err != nil {
		return nil, xerrors.Wrap(xerrors.KindRing, err, "bootstrap: join")
	}

	go node.RunStabiliser(done)
	return node, nil
}

// CreateTorrent hashes sourcePath into a .torrent (the create_torrent
// operator command) without announcing it or serving anything yet.
func (c *Client) CreateTorrent(sourcePath string, pieceLength int64) (*metainfo.File, string, error) {
	torrentPath, err := metainfo.Create(sourcePath, c.TrackerAddr, pieceLength)
	if err != nil {
		return nil, "", err
	}
	meta, err := metainfo.Parse(torrentPath)
	if err != nil {
		return nil, "", err
	}
	return meta, torrentPath, nil
}

// UploadTorrent parses an already-created .torrent and registers it with
// the tracker ring as a fully-seeded peer (the upload_torrent operator
// command), without yet accepting inbound connections.
func (c *Client) UploadTorrent(torrentPath string) (*metainfo.File, error) {
	meta, err := metainfo.Parse(torrentPath)
	if err != nil {
		return nil, err
	}
	if err := c.register(meta, 0); err != nil {
		return nil, err
	}
	return meta, nil
}

// StartSeeding opens sourcePath and serves inbound peer sessions against
// meta's layout until done is closed (the start_seeding operator command).
// It assumes the torrent has already been announced via UploadTorrent.
func (c *Client) StartSeeding(meta *metainfo.File, sourcePath string, done <-chan struct{}) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return xerrors.Wrapf(xerrors.KindStore, err, "opening %s", sourcePath)
	}
	go c.serve(f, meta, done)
	xlog.L.WithField("name", meta.Info.Name).WithField("info_hash", fmt.Sprintf("%x", meta.InfoHash)).Info("seeding")
	return nil
}

// CreateAndSeed is the combined create+seed flow: hash sourcePath into a
// .torrent, register it with the tracker ring as a fully-seeded peer, and
// start serving inbound peer sessions against it. Serving stops when done
// is closed.
func (c *Client) CreateAndSeed(sourcePath string, pieceLength int64, done <-chan struct{}) (*metainfo.File, error) {
	meta, _, err := c.CreateTorrent(sourcePath, pieceLength)
	if err != nil {
		return nil, err
	}
	if err := c.register(meta, 0); err != nil {
		return nil, err
	}
	if err := c.StartSeeding(meta, sourcePath, done); err != nil {
		return nil, err
	}
	return meta, nil
}

// register tells the tracker about meta, declaring how many bytes of
// content this client still has left to fetch (0 == seeding).
func (c *Client) register(meta *metainfo.File, left int64) error {
	host, port := splitListenAddr(c.ListenAddr)
	return c.rpc.Register(c.TrackerAddr, tracker.RegisterArgs{
		InfoHash:  fmt.Sprintf("%x", meta.InfoHash),
		Name:      meta.Info.Name,
		Size:      meta.Info.Length,
		PieceSize: meta.Info.PieceLength,
		Pieces:    meta.Info.Pieces,
		Peer: tracker.PeerInfoArgs{
			PeerID: fmt.Sprintf("%x", c.SelfID),
			IP:     host,
			Port:   port,
			Left:   left,
		},
	})
}

// lookup fetches the current peer set for infoHash from the tracker.
func (c *Client) lookup(infoHash [20]byte) (tracker.Record, error) {
	return c.rpc.Lookup(c.TrackerAddr, fmt.Sprintf("%x", infoHash))
}

// GetTorrent is the get_torrent operator command: it reports what the
// tracker ring currently knows about infoHashHex without downloading
// anything.
func (c *Client) GetTorrent(infoHashHex string) (tracker.Record, error) {
	return c.rpc.Lookup(c.TrackerAddr, infoHashHex)
}

// serve accepts inbound peer sessions against an already-downloaded (or
// being-assembled) file, answering block requests from it.
func (c *Client) serve(file *os.File, meta *metainfo.File, done <-chan struct{}) {
	ln, err := net.Listen("tcp", c.ListenAddr)
	if err != nil {
		xlog.L.WithField("error", err).Warn("serve: listen failed")
		return
	}
	go func() {
		<-done
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go c.serveOne(conn, file, meta)
	}
}

func (c *Client) serveOne(conn net.Conn, file *os.File, meta *metainfo.File) {
	sess, err := peer.Accept(conn, c.SelfID, &meta.InfoHash, fullBitfield(meta.Info.NumPieces()))
	if err != nil {
		return
	}
	defer sess.Close()

	sess.ServeBlocks(func(pieceIndex, offset, length int) ([]byte, error) {
		buf := make([]byte, length)
		_, err := file.ReadAt(buf, int64(pieceIndex)*meta.Info.PieceLength+int64(offset))
		return buf, err
	})
}

// Fetch parses a local .torrent file, downloads it, and assembles
// outputPath. Used when the caller already holds the metainfo file.
func (c *Client) Fetch(torrentPath, outputPath string) error {
	meta, err := metainfo.Parse(torrentPath)
	if err != nil {
		return err
	}
	return c.fetchMeta(meta, outputPath)
}

// DownloadByInfoHash is the download <info_hash> operator command: it
// reconstructs the torrent's metainfo from whatever the tracker ring has
// on record for infoHashHex — no local .torrent file is required — then
// downloads and assembles outputPath.
func (c *Client) DownloadByInfoHash(infoHashHex, outputPath string) error {
	record, err := c.GetTorrent(infoHashHex)
	if err != nil {
		return err
	}

	var infoHash [20]byte
	if _, err := fmt.Sscanf(infoHashHex, "%x", &infoHash); err != nil {
		return xerrors.Wrapf(xerrors.KindUsage, err, "parsing info hash %q", infoHashHex)
	}

	meta := &metainfo.File{
		InfoHash: infoHash,
		Info: metainfo.Info{
			Name:        record.Name,
			Length:      record.Size,
			PieceLength: record.PieceSize,
			Pieces:      record.Pieces,
		},
	}
	return c.fetchMeta(meta, outputPath)
}

// fetchMeta queries the tracker ring for meta's peer set, downloads every
// piece concurrently across those peers, assembles outputPath, and
// reports progress the way the teacher's StartDownload does.
func (c *Client) fetchMeta(meta *metainfo.File, outputPath string) error {
	record, err := c.lookup(meta.InfoHash)
	if err != nil {
		return err
	}

	if err := c.register(meta, meta.Info.Length); err != nil {
		xlog.L.WithField("error", err).Warn("fetch: announcing as leecher failed, continuing anyway")
	}

	out, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrapf(xerrors.KindStore, err, "creating %s", outputPath)
	}
	defer out.Close()
	if err := out.Truncate(meta.Info.Length); err != nil {
		return xerrors.Wrap(xerrors.KindStore, err, "truncating output file")
	}

	controller := piece.NewController(meta.Info.NumPieces(), meta.Info.Length, meta.Info.PieceLength, meta.Info.PieceHashes(), out)

	reaperDone := make(chan struct{})
	go controller.RunReaper(reaperDone)
	defer close(reaperDone)

	sessions := c.dialAll(record, meta.InfoHash)
	if len(sessions) == 0 {
		return xerrors.New(xerrors.KindConnect, "no peers reachable for this torrent")
	}
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()

	bar := progressbar.DefaultBytes(meta.Info.Length, "downloading "+meta.Info.Name)

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxInflightPeers)
	for _, s := range sessions {
		wg.Add(1)
		sem <- struct{}{}
		go func(sess *peer.Session) {
			defer func() { <-sem; wg.Done() }()
			c.downloadFromPeer(sess, controller, bar)
		}(s)
	}
	wg.Wait()

	if !controller.IsComplete() {
		return xerrors.New(xerrors.KindIntegrity, "download finished without every piece verified")
	}
	return nil
}

// dialAll opens an outbound session to every peer the tracker advertised,
// skipping any that refuse the connection or the handshake.
func (c *Client) dialAll(record tracker.Record, infoHash [20]byte) []*peer.Session {
	sessions := make([]*peer.Session, 0, len(record.Peers))
	for _, p := range record.Peers {
		sess, err := peer.Dial(peer.Addr{IP: p.IP, Port: p.Port}, infoHash, c.SelfID)
		if err != nil {
			xlog.L.WithField("peer", p.IP).WithField("error", err).Warn("fetch: dialing peer failed")
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions
}

func (c *Client) downloadFromPeer(sess *peer.Session, controller *piece.Controller, bar *progressbar.ProgressBar) {
	for !controller.IsComplete() {
		work, ok := controller.PickWork(sess.PeerID(), sess.HasPiece)
		if !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		data, acquired, err := sess.FetchBlock(work)
		if err != nil || !acquired {
			if err != nil {
				xlog.L.WithField("error", err).Warn("download: fetch block failed")
			}
			return
		}

		verified, failed, err := controller.ReceiveBlock(work.PieceIndex, work.BlockIndex, data)
		if err != nil {
			xlog.L.WithField("error", err).Warn("download: receive block failed")
			continue
		}
		if failed {
			controller.ExcludePeerForPiece(work.PieceIndex, sess.PeerID())
			xlog.L.WithField("piece", work.PieceIndex).WithField("peer", sess.PeerID()).Warn("download: piece failed integrity check, excluding peer for this piece")
			continue
		}
		bar.Add64(int64(len(data)))
		if verified {
			xlog.L.WithField("piece", work.PieceIndex).Debug("download: piece verified")
		}
	}
}

func fullBitfield(numPieces int) []byte {
	bf := make([]byte, (numPieces+7)/8)
	for i := range bf {
		bf[i] = 0xFF
	}
	return bf
}

// splitListenAddr parses "host:port" into its parts, defaulting port to 0
// on any parse failure so registration still proceeds with a best-effort
// address.
func splitListenAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
