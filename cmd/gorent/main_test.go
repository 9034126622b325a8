package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lvbealr/gorent/internal/xerrors"
)

func TestExitCodeForMapsUsageErrorsToOne(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(nil))
	assert.Equal(t, 1, exitCodeFor(xerrors.New(xerrors.KindUsage, "bad args")))
	assert.Equal(t, 2, exitCodeFor(xerrors.New(xerrors.KindStore, "disk full")))
	assert.Equal(t, 2, exitCodeFor(xerrors.New(xerrors.KindConnect, "refused")))
}

func TestRootCmdRegistersOperatorSurface(t *testing.T) {
	root := rootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{
		"connect-tracker", "get-torrent", "download", "create-torrent",
		"upload-torrent", "start-seeding", "seed", "drop-tracker",
	} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
