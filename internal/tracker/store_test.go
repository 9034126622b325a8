package tracker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRegisterNewTorrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker_data.json")
	s, err := Open(path)
	require.NoError(t, err)

	meta := Record{InfoHash: "abc123", Name: "file.bin", Size: 1000, PieceSize: 100}
	peer := Peer{PeerID: "peer-1", IP: "10.0.0.1", Port: 6881}

	require.NoError(t, s.Register(meta, peer, false))

	got, err := s.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Seeders)
	assert.Equal(t, 1, got.Leechers)
	assert.Len(t, got.Peers, 1)

	assert.FileExists(t, path)
}

func TestStoreRegisterMergesDuplicatePeerIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker_data.json")
	s, err := Open(path)
	require.NoError(t, err)

	meta := Record{InfoHash: "abc123", Name: "file.bin", Size: 1000, PieceSize: 100}
	peer := Peer{PeerID: "peer-1", IP: "10.0.0.1", Port: 6881}

	require.NoError(t, s.Register(meta, peer, false))
	require.NoError(t, s.Register(meta, peer, false))

	got, err := s.Get("abc123")
	require.NoError(t, err)
	assert.Len(t, got.Peers, 1, "re-registering the same peer must not duplicate its entry")
	assert.Equal(t, 1, got.Leechers)
}

func TestStoreRegisterPromotesLeecherToSeeder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker_data.json")
	s, err := Open(path)
	require.NoError(t, err)

	meta := Record{InfoHash: "abc123", Name: "file.bin", Size: 1000, PieceSize: 100}
	peer := Peer{PeerID: "peer-1", IP: "10.0.0.1", Port: 6881}

	require.NoError(t, s.Register(meta, peer, false))
	require.NoError(t, s.Register(meta, peer, true))

	got, err := s.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Leechers)
	assert.Equal(t, 1, got.Seeders)
}

func TestStoreGetUnknownTorrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker_data.json")
	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.Get("does-not-exist")
	assert.Error(t, err)
}

func TestStoreReopenReloadsPersistedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker_data.json")
	s, err := Open(path)
	require.NoError(t, err)

	meta := Record{InfoHash: "xyz", Name: "f", Size: 10, PieceSize: 10}
	peer := Peer{PeerID: "p", IP: "10.0.0.1", Port: 1}
	require.NoError(t, s.Register(meta, peer, false))

	reopened, err := Open(path)
	require.NoError(t, err)
	got, err := reopened.Get("xyz")
	require.NoError(t, err)
	assert.Equal(t, "f", got.Name)
}
