package piece

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumBlocksNoZeroSizedLastBlock(t *testing.T) {
	// Exactly divisible by BlockSize must still yield a full-size last
	// block, not a zero-sized one (spec section 9).
	assert.Equal(t, 4, numBlocks(4*BlockSize))
	assert.Equal(t, BlockSize, blockSizeAt(3, 4, 4*BlockSize))

	assert.Equal(t, 4, numBlocks(3*BlockSize+100))
	assert.Equal(t, 100, blockSizeAt(3, 4, 3*BlockSize+100))
}

func TestPieceSetBlockAndFinalise(t *testing.T) {
	data := []byte("hello world, this is piece data")
	hash := sha1.Sum(data)
	p := New(0, len(data), hash)

	require.Len(t, p.Blocks, 1)
	assert.False(t, p.IsComplete())

	require.NoError(t, p.SetBlock(0, data))
	assert.True(t, p.IsComplete())
	assert.True(t, p.TryFinalise())
	assert.True(t, p.IsDownloaded)
	assert.Equal(t, data, p.RawData)
}

func TestPieceSetBlockIdempotentOnDownloaded(t *testing.T) {
	data := []byte("abc")
	hash := sha1.Sum(data)
	p := New(0, len(data), hash)
	require.NoError(t, p.SetBlock(0, data))

	// Re-setting an already-Downloaded block is a no-op, not an error.
	assert.NoError(t, p.SetBlock(0, []byte("xyz")))
	assert.Equal(t, data, p.Blocks[0].Data)
}

func TestPieceFinaliseResetsOnHashMismatch(t *testing.T) {
	data := []byte("real data")
	wrongHash := sha1.Sum([]byte("not the real data"))
	p := New(0, len(data), wrongHash)

	require.NoError(t, p.SetBlock(0, data))
	assert.True(t, p.IsComplete())
	assert.False(t, p.TryFinalise())
	assert.False(t, p.IsDownloaded)

	for _, b := range p.Blocks {
		assert.Equal(t, Empty, b.State)
		assert.Nil(t, b.Data)
	}
}

func TestPieceMultipleBlocks(t *testing.T) {
	size := BlockSize + 100
	block0 := make([]byte, BlockSize)
	block1 := make([]byte, 100)
	for i := range block0 {
		block0[i] = byte(i)
	}
	for i := range block1 {
		block1[i] = byte(255 - i)
	}
	full := append(append([]byte{}, block0...), block1...)
	hash := sha1.Sum(full)

	p := New(0, size, hash)
	require.Len(t, p.Blocks, 2)
	assert.Equal(t, BlockSize, p.Blocks[0].Size)
	assert.Equal(t, 100, p.Blocks[1].Size)

	require.NoError(t, p.SetBlock(1, block1))
	assert.False(t, p.IsComplete())
	require.NoError(t, p.SetBlock(0, block0))
	assert.True(t, p.IsComplete())
	assert.True(t, p.TryFinalise())
}
