// Package metainfo implements the .torrent file format: the bencoded
// dictionary describing a single-file torrent's name, piece layout, and
// per-piece SHA-1 hashes (spec section 3). Multi-file torrents are out of
// scope (spec section 3's non-goals).
package metainfo

// File is the root dictionary of a .torrent file.
type File struct {
	Announce string `bencode:"announce"`
	Comment  string `bencode:"comment"`
	Info     Info   `bencode:"info"`

	// InfoHash is derived, not decoded: the SHA-1 of the exact bencoded
	// bytes of Info as they appeared in the source file. Parse fills it
	// in; its "-" tag keeps it out of the bencoded dictionary.
	InfoHash [20]byte `bencode:"-"`
}

// Info is the torrent's "info" dictionary: everything needed to verify and
// reassemble the content, independent of which tracker announces it.
type Info struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"` // concatenated 20-byte SHA-1 hashes, one per piece
	Length      int64  `bencode:"length"`
}

// NumPieces returns how many pieces the info dictionary declares.
func (i Info) NumPieces() int {
	return len(i.Pieces) / 20
}

// PieceHash returns the 20-byte SHA-1 hash of piece index, panicking if
// index is out of range (callers are expected to bound it against
// NumPieces first, same as indexing Pieces directly would).
func (i Info) PieceHash(index int) [20]byte {
	var h [20]byte
	copy(h[:], i.Pieces[index*20:(index+1)*20])
	return h
}

// PieceHashes returns every piece hash in order, for handing to
// piece.NewController.
func (i Info) PieceHashes() [][20]byte {
	n := i.NumPieces()
	hashes := make([][20]byte, n)
	for idx := 0; idx < n; idx++ {
		hashes[idx] = i.PieceHash(idx)
	}
	return hashes
}
