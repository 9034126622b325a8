package piece

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/lvbealr/gorent/internal/xerrors"
)

// Piece is one fixed-size chunk of the torrent's content, the unit of hash
// verification. Its blocks are the unit of network transfer.
type Piece struct {
	Index        int
	Size         int // bytes this piece covers
	Hash         [20]byte
	Blocks       []Block
	IsDownloaded bool
	RawData      []byte
}

// New builds a Piece at index covering size bytes, with blocks sized per
// the rule in block.go (all BlockSize except a possibly-shorter last one).
func New(index, size int, hash [20]byte) *Piece {
	n := numBlocks(size)
	blocks := make([]Block, n)
	for i := range blocks {
		blocks[i] = Block{Size: blockSizeAt(i, n, size), State: Empty}
	}
	return &Piece{Index: index, Size: size, Hash: hash, Blocks: blocks}
}

// SetBlock stores data for block blockIndex. It is a no-op if the block is
// already Downloaded (idempotent), and an error if the piece is already
// downloaded or the index is out of range.
func (p *Piece) SetBlock(blockIndex int, data []byte) error {
	if p.IsDownloaded {
		return xerrors.New(xerrors.KindProtocol, "piece already downloaded")
	}
	if blockIndex < 0 || blockIndex >= len(p.Blocks) {
		return xerrors.New(xerrors.KindProtocol, fmt.Sprintf("block index %d out of range", blockIndex))
	}

	b := &p.Blocks[blockIndex]
	if b.State == Downloaded {
		return nil
	}

	b.Data = data
	b.State = Downloaded
	return nil
}

// IsComplete reports whether every block has been downloaded.
func (p *Piece) IsComplete() bool {
	for _, b := range p.Blocks {
		if b.State != Downloaded {
			return false
		}
	}
	return true
}

// TryFinalise concatenates the piece's blocks in index order, verifies the
// SHA-1 against Hash, and on success sets IsDownloaded and RawData. On
// mismatch it resets every block to Empty and returns false, so the piece
// can be retried from scratch (spec invariant 2).
func (p *Piece) TryFinalise() bool {
	var buf bytes.Buffer
	for _, b := range p.Blocks {
		buf.Write(b.Data)
	}
	data := buf.Bytes()

	if sha1.Sum(data) != p.Hash {
		p.reset()
		return false
	}

	p.RawData = data
	p.IsDownloaded = true
	return true
}

func (p *Piece) reset() {
	for i := range p.Blocks {
		p.Blocks[i].State = Empty
		p.Blocks[i].Data = nil
	}
}

// Save writes RawData[:Size] to w at piece_index * pieceLength, supporting
// out-of-order piece completion against a pre-allocated or sparsely grown
// file.
func (p *Piece) Save(w io.WriterAt, pieceLength int64) error {
	offset := int64(p.Index) * pieceLength
	_, err := w.WriteAt(p.RawData[:p.Size], offset)
	if err != nil {
		return xerrors.Wrapf(xerrors.KindStore, err, "writing piece %d at offset %d", p.Index, offset)
	}
	return nil
}
