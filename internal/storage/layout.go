// Package storage implements spec section 6's on-disk layout: the fixed
// set of paths a client instance writes into for its downloads, its
// seedable uploads, and its shard of the tracker ring's JSON store.
package storage

import (
	"os"
	"path/filepath"

	"github.com/lvbealr/gorent/internal/xerrors"
)

// Layout roots every path a client instance owns under Root, keyed by
// ClientID so more than one instance can share a filesystem.
type Layout struct {
	Root     string
	ClientID string
}

// New builds a Layout rooted at root for clientID. Root defaults to the
// current directory if empty.
func New(root, clientID string) *Layout {
	if root == "" {
		root = "."
	}
	return &Layout{Root: root, ClientID: clientID}
}

// DownloadPath is where a completed torrent named name is assembled:
// downloads/client_<id>/<name>.
func (l *Layout) DownloadPath(name string) string {
	return filepath.Join(l.Root, "downloads", "client_"+l.ClientID, name)
}

// UploadTorrentsDir is where created .torrent files live:
// uploads/client_<id>/torrents/.
func (l *Layout) UploadTorrentsDir() string {
	return filepath.Join(l.Root, "uploads", "client_"+l.ClientID, "torrents")
}

// UploadDataPath is where seedable content named name lives:
// uploads/client_<id>/data/<name>.
func (l *Layout) UploadDataPath(name string) string {
	return filepath.Join(l.Root, "uploads", "client_"+l.ClientID, "data", name)
}

// TrackerDataPath is this instance's shard of the Chord store:
// tracker/database/tracker_data.json.
func (l *Layout) TrackerDataPath() string {
	return filepath.Join(l.Root, "tracker", "database", "tracker_data.json")
}

// EnsureDirs creates every directory this layout writes into, skipping
// ones that already exist.
func (l *Layout) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(l.TrackerDataPath()),
		filepath.Dir(l.DownloadPath("x")),
		l.UploadTorrentsDir(),
		filepath.Dir(l.UploadDataPath("x")),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Wrapf(xerrors.KindStore, err, "creating %s", dir)
		}
	}
	return nil
}
