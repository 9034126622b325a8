package piece

import (
	"crypto/sha1"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFile is a minimal in-memory io.WriterAt for exercising Controller
// without touching the filesystem.
type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(p))
	if int64(len(m.data)) < end {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], p)
	return len(p), nil
}

func buildTorrent(t *testing.T, pieceLength int, content []byte) (int, int64, int64, [][20]byte) {
	t.Helper()
	numPieces := (len(content) + pieceLength - 1) / pieceLength
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		start := i * pieceLength
		end := start + pieceLength
		if end > len(content) {
			end = len(content)
		}
		hashes[i] = sha1.Sum(content[start:end])
	}
	return numPieces, int64(len(content)), int64(pieceLength), hashes
}

func TestControllerDownloadsAllPiecesInOrder(t *testing.T) {
	content := make([]byte, 2*BlockSize+50)
	for i := range content {
		content[i] = byte(i)
	}
	numPieces, total, pieceLen, hashes := buildTorrent(t, BlockSize+25, content)

	out := &memFile{}
	c := NewController(numPieces, total, pieceLen, hashes, out)

	for !c.IsComplete() {
		work, ok := c.PickWork([20]byte{}, nil)
		require.True(t, ok, "expected more work until complete")

		start := work.PieceIndex*int(pieceLen) + work.Offset
		end := start + work.Length
		if end > len(content) {
			end = len(content)
		}
		data := content[start:end]

		verified, failed, err := c.ReceiveBlock(work.PieceIndex, work.BlockIndex, data)
		require.NoError(t, err)
		assert.False(t, failed)
		_ = verified
	}

	assert.Equal(t, content, out.data[:len(content)])
}

func TestControllerPickWorkRespectsPeerBitfield(t *testing.T) {
	content := make([]byte, 2*BlockSize)
	numPieces, total, pieceLen, hashes := buildTorrent(t, BlockSize, content)

	c := NewController(numPieces, total, pieceLen, hashes, &memFile{})

	hasOnlyPieceOne := func(index int) bool { return index == 1 }
	work, ok := c.PickWork([20]byte{}, hasOnlyPieceOne)
	require.True(t, ok)
	assert.Equal(t, 1, work.PieceIndex)
}

func TestControllerReceiveBlockResetsPieceOnHashMismatch(t *testing.T) {
	content := make([]byte, BlockSize)
	numPieces, total, pieceLen, hashes := buildTorrent(t, BlockSize, content)
	hashes[0] = sha1.Sum([]byte("wrong"))

	c := NewController(numPieces, total, pieceLen, hashes, &memFile{})

	work, ok := c.PickWork([20]byte{}, nil)
	require.True(t, ok)

	verified, failed, err := c.ReceiveBlock(work.PieceIndex, work.BlockIndex, content)
	require.NoError(t, err)
	assert.False(t, verified)
	assert.True(t, failed)

	// the piece's block should be offerable again
	work2, ok := c.PickWork([20]byte{}, nil)
	require.True(t, ok)
	assert.Equal(t, 0, work2.PieceIndex)
}

func TestControllerExcludePeerForPieceHidesPieceFromBlamedPeer(t *testing.T) {
	content := make([]byte, BlockSize)
	numPieces, total, pieceLen, hashes := buildTorrent(t, BlockSize, content)
	c := NewController(numPieces, total, pieceLen, hashes, &memFile{})

	badPeer := [20]byte{1}
	goodPeer := [20]byte{2}

	c.ExcludePeerForPiece(0, badPeer)

	_, ok := c.PickWork(badPeer, nil)
	assert.False(t, ok, "blamed peer should not be offered the piece it corrupted")

	work, ok := c.PickWork(goodPeer, nil)
	require.True(t, ok, "other peers remain eligible for the same piece")
	assert.Equal(t, 0, work.PieceIndex)
}

func TestControllerReapStaleResetsExpiredInFlightBlocks(t *testing.T) {
	content := make([]byte, BlockSize)
	numPieces, total, pieceLen, hashes := buildTorrent(t, BlockSize, content)
	c := NewController(numPieces, total, pieceLen, hashes, &memFile{})

	_, ok := c.PickWork([20]byte{}, nil)
	require.True(t, ok)

	c.mu.Lock()
	c.pieces[0].Blocks[0].RequestedAt = time.Now().Add(-2 * RequestTimeout)
	c.mu.Unlock()

	reset := c.ReapStale()
	assert.Equal(t, 1, reset)

	c.mu.Lock()
	assert.Equal(t, Empty, c.pieces[0].Blocks[0].State)
	c.mu.Unlock()
}
