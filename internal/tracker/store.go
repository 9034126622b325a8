package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/lvbealr/gorent/internal/xerrors"
	"github.com/lvbealr/gorent/internal/xlog"
)

// Peer is one entry in a torrent's peer set.
type Peer struct {
	PeerID string `json:"peer_id"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
}

// Record is one torrent's full metadata plus its live peer set, the unit
// persisted to disk and returned by get_torrent.
type Record struct {
	InfoHash  string `json:"info_hash"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	PieceSize int64  `json:"piece_size"`
	Pieces    string `json:"pieces"`
	Seeders   int    `json:"seeders"`
	Leechers  int    `json:"leechers"`
	Peers     []Peer `json:"peers"`
}

type document struct {
	Torrents []*Record `json:"torrents"`
}

// Store is the mutex-guarded, JSON-file-backed map of info_hash → Record
// that a tracker node owning that key serves. Every mutation is persisted
// via a temp-file-then-rename write, hardening the reference
// implementation's whole-file rewrite against a concurrent reader
// observing a half-written file.
type Store struct {
	mu   sync.Mutex
	path string
	byID map[string]*Record
}

// Open loads path if it exists, or starts Store with an empty document
// (matching create_initial_tracker's no-op-if-exists behaviour).
func Open(path string) (*Store, error) {
	s := &Store{path: path, byID: make(map[string]*Record)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.KindStore, err, "reading %s", path)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.KindStore, err, "decoding tracker store")
	}
	for _, r := range doc.Torrents {
		s.byID[r.InfoHash] = r
	}
	return s, nil
}

// Register adds meta as a new record, or merges peer into an existing
// one. The merge rule (spec section 4.6): add peer to the peer set only
// if no entry with the same (peer_id, ip, port) exists, and adjust
// seeder/leecher counts per the policy in registerCounters.
func (s *Store) Register(meta Record, peer Peer, peerIsSeeding bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[meta.InfoHash]
	if !ok {
		record := meta
		record.Peers = []Peer{peer}
		record.Seeders, record.Leechers = 0, 0
		registerCounters(&record, peer, peerIsSeeding, false)
		s.byID[meta.InfoHash] = &record
		xlog.L.WithField("info_hash", meta.InfoHash).Info("tracker: registered new torrent")
		return s.persistLocked()
	}

	alreadyPresent := false
	for _, p := range existing.Peers {
		if p == peer {
			alreadyPresent = true
			break
		}
	}
	if !alreadyPresent {
		existing.Peers = append(existing.Peers, peer)
	}
	registerCounters(existing, peer, peerIsSeeding, alreadyPresent)

	return s.persistLocked()
}

// registerCounters implements the leecher/seeder counter policy decided
// in DESIGN.md for spec section 9's open question: a peer declaring it
// still has data left to fetch counts as a leecher; a later register from
// the same peer with nothing left promotes it to seeder.
func registerCounters(r *Record, peer Peer, peerIsSeeding, alreadyPresent bool) {
	if peerIsSeeding {
		if alreadyPresent && r.Leechers > 0 {
			r.Leechers--
		}
		r.Seeders++
		return
	}
	if !alreadyPresent {
		r.Leechers++
	}
}

// Get returns the record for infoHash, or an error if unknown.
func (s *Store) Get(infoHash string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[infoHash]
	if !ok {
		return Record{}, xerrors.New(xerrors.KindStore, "torrent not found in tracker")
	}
	return *r, nil
}

// persistLocked writes the current store to s.path via a temp file and
// rename, so concurrent readers never see a partially-written document.
// Caller must hold s.mu.
func (s *Store) persistLocked() error {
	doc := document{Torrents: make([]*Record, 0, len(s.byID))}
	for _, r := range s.byID {
		doc.Torrents = append(doc.Torrents, r)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.KindStore, err, "encoding tracker store")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrapf(xerrors.KindStore, err, "creating %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tracker-*.json")
	if err != nil {
		return xerrors.Wrap(xerrors.KindStore, err, "creating temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.Wrap(xerrors.KindStore, err, "writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrap(xerrors.KindStore, err, "closing temp file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return xerrors.Wrap(xerrors.KindStore, err, "renaming temp file into place")
	}
	return nil
}
