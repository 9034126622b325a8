package peer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvbealr/gorent/internal/piece"
)

func TestDialAndAcceptHandshakeAndBitfield(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var infoHash, clientID, serverID [20]byte
	copy(infoHash[:], []byte("01234567890123456789"))
	copy(clientID[:], []byte("clientclientclientcl"))
	copy(serverID[:], []byte("serverserverserverse"))

	serverBitfield := []byte{0xFF}
	serverDone := make(chan *Session, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		sess, err := Accept(conn, serverID, &infoHash, serverBitfield)
		require.NoError(t, err)
		serverDone <- sess
	}()

	addr := Addr{IP: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	client, err := Dial(addr, infoHash, clientID)
	require.NoError(t, err)
	defer client.Close()

	server := <-serverDone
	defer server.Close()

	assert.True(t, client.HasPiece(0))
	assert.True(t, client.HasPiece(7))
}

func TestFetchBlockAgainstServeBlocks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var infoHash, clientID, serverID [20]byte
	copy(infoHash[:], []byte("01234567890123456789"))

	content := []byte("the quick brown fox")

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		sess, err := Accept(conn, serverID, &infoHash, []byte{0xFF})
		if err != nil {
			return
		}
		sess.ServeBlocks(func(pieceIndex, offset, length int) ([]byte, error) {
			return content[offset : offset+length], nil
		})
	}()

	addr := Addr{IP: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	client, err := Dial(addr, infoHash, clientID)
	require.NoError(t, err)
	defer client.Close()

	data, ok, err := client.FetchBlock(piece.Work{PieceIndex: 0, Offset: 4, Length: 5})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("quick"), data)
}

func TestFetchBlockRejectsConcurrentUseWhileBusy(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := &Session{conn: client}
	s.busy = true

	done := make(chan struct{})
	go func() {
		_, ok, err := s.FetchBlock(piece.Work{})
		assert.NoError(t, err)
		assert.False(t, ok)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("FetchBlock should return immediately when busy")
	}
}
