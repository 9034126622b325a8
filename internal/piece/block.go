// Package piece implements the block/piece state machine (spec section 4.2)
// and the concurrent multi-peer piece controller that drives a torrent from
// empty to complete (spec section 4.3).
package piece

import "time"

// BlockSize is B, the fixed maximum block size: 2^14 bytes.
const BlockSize = 1 << 14

// State is a block's position in its download lifecycle.
type State int

const (
	Empty State = iota
	InFlight
	Downloaded
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case InFlight:
		return "in_flight"
	case Downloaded:
		return "downloaded"
	default:
		return "unknown"
	}
}

// Block is a single ≤BlockSize unit of a piece, the smallest thing
// requested over the wire.
type Block struct {
	Size        int
	State       State
	Data        []byte
	RequestedAt time.Time // set when State becomes InFlight; read by the reaper
}

// numBlocks computes ceil(pieceSize / BlockSize) without ever producing a
// zero-sized last block — the bug noted in spec section 9, where
// `piece_size % BLOCK_SIZE == 0` must yield a full-size last block, not an
// empty one.
func numBlocks(pieceSize int) int {
	if pieceSize <= 0 {
		return 0
	}
	n := pieceSize / BlockSize
	if pieceSize%BlockSize != 0 {
		n++
	}
	return n
}

// blockSizeAt returns the size of block i of num, given the piece it
// belongs to covers pieceSize bytes in total.
func blockSizeAt(i, num, pieceSize int) int {
	if i < num-1 {
		return BlockSize
	}
	last := pieceSize - (num-1)*BlockSize
	if last == 0 {
		return BlockSize
	}
	return last
}
