// Command gorent is the operator surface of spec section 6: a thin cobra
// CLI over internal/client's three flows (tracker bootstrap, create+seed,
// fetch), consumed as one-shot subcommands rather than the REPL menu the
// original prototype offered, since a long-running process doesn't fit a
// single invocation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lvbealr/gorent/internal/client"
	"github.com/lvbealr/gorent/internal/xerrors"
	"github.com/lvbealr/gorent/internal/xlog"
)

var (
	cfgFile     string
	listenAddr  string
	trackerAddr string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gorent",
		Short:         "gorent is a Chord-tracked peer-to-peer file distributor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml/json/toml)")
	root.PersistentFlags().StringVar(&listenAddr, "listen", ":6881", "address this peer listens on for inbound peer sessions")
	root.PersistentFlags().StringVar(&trackerAddr, "tracker", ":8080", "tracker ring node address this peer talks to")
	viper.BindPFlag("listen", root.PersistentFlags().Lookup("listen"))
	viper.BindPFlag("tracker", root.PersistentFlags().Lookup("tracker"))
	cobra.OnInitialize(initConfig)

	root.AddCommand(
		connectTrackerCmd(),
		getTorrentCmd(),
		downloadCmd(),
		createTorrentCmd(),
		uploadTorrentCmd(),
		startSeedingCmd(),
		seedCmd(),
		dropTrackerCmd(),
	)

	// cobra's own flag and positional-argument errors are operator-input
	// mistakes: tag them KindUsage so exitCodeFor maps them to 1.
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return xerrors.Wrap(xerrors.KindUsage, err, "invalid flags")
	})
	for _, sub := range root.Commands() {
		if validate := sub.Args; validate != nil {
			sub.Args = func(cmd *cobra.Command, args []string) error {
				if err := validate(cmd, args); err != nil {
					return xerrors.Wrap(xerrors.KindUsage, err, "invalid arguments")
				}
				return nil
			}
		}
	}
	return root
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			xlog.L.WithField("error", err).Warn("config: failed to read config file, falling back to flags/env")
		}
	}
	viper.SetEnvPrefix("gorent")
	viper.AutomaticEnv()
	if v := viper.GetString("listen"); v != "" {
		listenAddr = v
	}
	if v := viper.GetString("tracker"); v != "" {
		trackerAddr = v
	}
}

func newClient() (*client.Client, error) {
	return client.New(listenAddr, trackerAddr)
}

// exitCodeFor maps the taxonomy of internal/xerrors onto spec section 6's
// exit codes: 1 for operator-input mistakes, 2 for anything else fatal.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)
	if xerrors.Is(err, xerrors.KindUsage) {
		return 1
	}
	return 2
}

func connectTrackerCmd() *cobra.Command {
	var bootstrap string
	var m int
	cmd := &cobra.Command{
		Use:   "connect-tracker",
		Short: "connect_tr: form a new Chord ring or join an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			node, err := c.Bootstrap(bootstrap, m)
			if err != nil {
				return err
			}
			fmt.Printf("joined ring as node %d (%s)\n", node.ID(), c.TrackerAddr)
			return nil
		},
	}
	cmd.Flags().StringVar(&bootstrap, "bootstrap", "", "address of an existing ring node to join through (empty forms a new ring)")
	cmd.Flags().IntVar(&m, "m", 5, "identifier space bits (2^m ring size)")
	return cmd
}

func getTorrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-torrent <info-hash>",
		Short: "get_torrent: print what the tracker ring knows about an info hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			record, err := c.GetTorrent(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d bytes, %d seeders, %d leechers, %d peers known\n",
				record.Name, record.Size, record.Seeders, record.Leechers, len(record.Peers))
			return nil
		},
	}
}

func downloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <info-hash> <output-path>",
		Short: "download: fetch a torrent by info hash alone and assemble it at output-path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.DownloadByInfoHash(args[0], args[1])
		},
	}
}

func createTorrentCmd() *cobra.Command {
	var pieceLength int64
	cmd := &cobra.Command{
		Use:   "create-torrent <path>",
		Short: "create_torrent: hash a file into a .torrent without announcing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			_, torrentPath, err := c.CreateTorrent(args[0], pieceLength)
			if err != nil {
				return err
			}
			fmt.Println(torrentPath)
			return nil
		},
	}
	cmd.Flags().Int64Var(&pieceLength, "piece-length", 256*1024, "bytes covered by each piece")
	return cmd
}

func uploadTorrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload-torrent <torrent-path>",
		Short: "upload_torrent: register an already-created .torrent with the tracker ring as a seeder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			meta, err := c.UploadTorrent(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("registered %x\n", meta.InfoHash)
			return nil
		},
	}
}

func startSeedingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-seeding <torrent-path> <source-path>",
		Short: "start_seeding: serve inbound peer sessions for an already-registered torrent until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			meta, err := c.UploadTorrent(args[0])
			if err != nil {
				return err
			}
			done := make(chan struct{})
			if err := c.StartSeeding(meta, args[1], done); err != nil {
				return err
			}
			waitForInterrupt()
			close(done)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var pieceLength int64
	cmd := &cobra.Command{
		Use:   "seed <source-path>",
		Short: "combined create_torrent+upload_torrent+start_seeding, the C7 create+seed flow in one shot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			done := make(chan struct{})
			meta, err := c.CreateAndSeed(args[0], pieceLength, done)
			if err != nil {
				return err
			}
			fmt.Printf("seeding %x\n", meta.InfoHash)
			waitForInterrupt()
			close(done)
			return nil
		},
	}
	cmd.Flags().Int64Var(&pieceLength, "piece-length", 256*1024, "bytes covered by each piece")
	return cmd
}

// dropTrackerCmd tears down this process's standing with the tracker ring.
// The ring protocol (section 4.5) defines join/stabilise/notify but no
// explicit leave RPC — departure is detected by the rest of the ring via
// stabilise, not announced — so this command's only job is a clean local
// exit, matching spec section 6's exit code 0 for normal termination.
func dropTrackerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop-tracker",
		Short: "drop_tracker: disconnect from the tracker ring and exit cleanly",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("disconnected")
			return nil
		},
	}
}
