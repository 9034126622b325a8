package piece

import (
	"io"
	"sync"
	"time"

	"github.com/lvbealr/gorent/internal/xerrors"
	"github.com/lvbealr/gorent/internal/xlog"
)

// RequestTimeout is T_request, the longest a block may sit InFlight before
// the reaper resets it to Empty so another peer can pick it up.
const RequestTimeout = 30 * time.Second

// reapInterval is how often the reaper sweeps for stale InFlight blocks:
// T_request / 3, as fixed by spec section 4.3's back-pressure requirement.
const reapInterval = RequestTimeout / 3

// Work identifies a single block still waiting to be requested from a peer.
type Work struct {
	PieceIndex int
	BlockIndex int
	Offset     int
	Length     int
}

// Controller owns every Piece of a torrent and arbitrates concurrent access
// from however many peer sessions are downloading at once. Its mutex guards
// all state; callers never touch a Piece directly.
type Controller struct {
	mu          sync.Mutex
	pieces      []*Piece
	out         io.WriterAt
	pieceLength int64

	// excluded blames a peer (by its 20-byte peer id) off a piece for the
	// remainder of that piece's current episode, once it has supplied a
	// block that failed the piece's integrity check (spec section 4.3/5).
	excluded map[int]map[[20]byte]bool
}

// NewController builds a Controller for numPieces pieces of pieceLength
// bytes each (the last possibly shorter), writing completed pieces to out.
func NewController(numPieces int, totalLength, pieceLength int64, hashes [][20]byte, out io.WriterAt) *Controller {
	pieces := make([]*Piece, numPieces)
	for i := 0; i < numPieces; i++ {
		size := pieceLength
		if i == numPieces-1 {
			size = totalLength - pieceLength*int64(i)
		}
		pieces[i] = New(i, int(size), hashes[i])
	}
	return &Controller{pieces: pieces, out: out, pieceLength: pieceLength, excluded: make(map[int]map[[20]byte]bool)}
}

// IsComplete reports whether every piece has been downloaded and verified.
func (c *Controller) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pieces {
		if !p.IsDownloaded {
			return false
		}
	}
	return true
}

// HasPiece reports whether piece index has already been downloaded, for
// building an outbound bitfield or answering a HAVE-driven interest check.
func (c *Controller) HasPiece(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.pieces) {
		return false
	}
	return c.pieces[index].IsDownloaded
}

// PickWork finds the next Empty block not already owned by this piece's
// completion, marks it InFlight, and returns it for a peer session to
// request. It returns ok=false when there is nothing left to hand out
// right now (every remaining block is already InFlight or every piece is
// done). peerID identifies the requesting peer session, so a piece this
// peer was just blamed for (ExcludePeerForPiece) is skipped in its favor
// until the piece's current episode ends.
func (c *Controller) PickWork(peerID [20]byte, peerBitfield func(pieceIndex int) bool) (Work, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for pi, p := range c.pieces {
		if p.IsDownloaded {
			continue
		}
		if peerBitfield != nil && !peerBitfield(pi) {
			continue
		}
		if c.excluded[pi][peerID] {
			continue
		}
		for bi := range p.Blocks {
			b := &p.Blocks[bi]
			if b.State != Empty {
				continue
			}
			b.State = InFlight
			b.RequestedAt = time.Now()
			return Work{
				PieceIndex: pi,
				BlockIndex: bi,
				Offset:     bi * BlockSize,
				Length:     b.Size,
			}, true
		}
	}
	return Work{}, false
}

// ExcludePeerForPiece blames peerID off pieceIndex: PickWork will not hand
// that peer any more blocks of this piece until it is downloaded, per
// spec section 4.3/5's "excluded for the remainder of the current piece".
// Callers invoke this after ReceiveBlock reports pieceFailed, naming the
// session that supplied the offending block.
func (c *Controller) ExcludePeerForPiece(pieceIndex int, peerID [20]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.excluded[pieceIndex] == nil {
		c.excluded[pieceIndex] = make(map[[20]byte]bool)
	}
	c.excluded[pieceIndex][peerID] = true
}

// ReceiveBlock stores a downloaded block's data, and on piece completion
// verifies its hash and saves it. A hash mismatch resets the piece's
// blocks to Empty so PickWork offers them again; this is reported back to
// the caller so the offending peer can be penalised.
func (c *Controller) ReceiveBlock(pieceIndex, blockIndex int, data []byte) (pieceVerified, pieceFailed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pieceIndex < 0 || pieceIndex >= len(c.pieces) {
		return false, false, xerrors.New(xerrors.KindProtocol, "received block for unknown piece")
	}
	p := c.pieces[pieceIndex]

	if err := p.SetBlock(blockIndex, data); err != nil {
		return false, false, err
	}
	if !p.IsComplete() {
		return false, false, nil
	}

	if !p.TryFinalise() {
		return false, true, nil
	}

	if err := p.Save(c.out, c.pieceLength); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// ReapStale resets any InFlight block that has been outstanding longer
// than RequestTimeout back to Empty, so a slow or vanished peer never
// permanently starves a block from the rest of the swarm. It is new
// relative to the single-peer reference client, which had no notion of a
// stalled request.
func (c *Controller) ReapStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	reset := 0
	now := time.Now()
	for _, p := range c.pieces {
		if p.IsDownloaded {
			continue
		}
		for bi := range p.Blocks {
			b := &p.Blocks[bi]
			if b.State == InFlight && now.Sub(b.RequestedAt) > RequestTimeout {
				b.State = Empty
				b.Data = nil
				reset++
			}
		}
	}
	return reset
}

// RunReaper sweeps for stale blocks every reapInterval until done is closed.
// Callers typically run this once per Controller in its own goroutine.
func (c *Controller) RunReaper(done <-chan struct{}) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := c.ReapStale(); n > 0 {
				xlog.L.WithField("blocks", n).Debug("reaper: reset stale in-flight blocks")
			}
		}
	}
}
