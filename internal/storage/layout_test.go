package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutPaths(t *testing.T) {
	l := New("/srv/gorent", "abcd")
	assert.Equal(t, "/srv/gorent/downloads/client_abcd/movie.bin", l.DownloadPath("movie.bin"))
	assert.Equal(t, "/srv/gorent/uploads/client_abcd/torrents", l.UploadTorrentsDir())
	assert.Equal(t, "/srv/gorent/uploads/client_abcd/data/movie.bin", l.UploadDataPath("movie.bin"))
	assert.Equal(t, "/srv/gorent/tracker/database/tracker_data.json", l.TrackerDataPath())
}

func TestLayoutEnsureDirsCreatesEveryDirectory(t *testing.T) {
	root := t.TempDir()
	l := New(root, "1")
	require.NoError(t, l.EnsureDirs())

	for _, dir := range []string{
		filepath.Join(root, "tracker", "database"),
		filepath.Join(root, "downloads", "client_1"),
		l.UploadTorrentsDir(),
		filepath.Join(root, "uploads", "client_1", "data"),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
