package client

import (
	"crypto/sha1"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvbealr/gorent/internal/chord"
	"github.com/lvbealr/gorent/internal/tracker"
)

func startTrackerForTest(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	store, err := trackerOpen(t)
	require.NoError(t, err)

	node := chord.New(addr, chord.DefaultM, tracker.RPCClient{})
	require.NoError(t, node.Join(""))

	srv := &tracker.Server{Node: node, Store: store}
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go srv.ListenAndServe(addr, done)
	time.Sleep(50 * time.Millisecond)

	return addr
}

func trackerOpen(t *testing.T) (*tracker.Store, error) {
	t.Helper()
	return tracker.Open(filepath.Join(t.TempDir(), "tracker_data.json"))
}

func TestEndToEndSeedAndFetchReassemblesIdenticalFile(t *testing.T) {
	trackerAddr := startTrackerForTest(t)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "payload.bin")
	content := make([]byte, 3*16384+123)
	for i := range content {
		content[i] = byte(i * 13)
	}
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	seeder, err := New("127.0.0.1:0", trackerAddr)
	require.NoError(t, err)
	seedListenLn := mustFreeListener(t)
	seeder.ListenAddr = seedListenLn.Addr().String()
	seedListenLn.Close()

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	meta, err := seeder.CreateAndSeed(srcPath, 16384, done)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // let the seeder's listener bind

	leecher, err := New("127.0.0.1:0", trackerAddr)
	require.NoError(t, err)

	outPath := filepath.Join(dir, "downloaded.bin")
	torrentPath := srcPath[:len(srcPath)-len(filepath.Ext(srcPath))] + ".torrent"

	require.NoError(t, leecher.Fetch(torrentPath, outPath))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, sha1.Sum(content), sha1.Sum(got))
	assert.Equal(t, meta.Info.Length, int64(len(got)))
}

func mustFreeListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestBootstrapFormsSingleNodeRingAndServesTrackerRPCs(t *testing.T) {
	trackerLn := mustFreeListener(t)
	trackerAddr := trackerLn.Addr().String()
	trackerLn.Close()

	c, err := NewWithDataDir("127.0.0.1:0", trackerAddr, t.TempDir())
	require.NoError(t, err)

	node, err := c.Bootstrap("", chord.DefaultM)
	require.NoError(t, err)
	assert.Equal(t, trackerAddr, node.Successors()[0])

	_, err = os.Stat(c.Layout.TrackerDataPath())
	require.NoError(t, err)
}
