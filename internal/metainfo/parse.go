package metainfo

import (
	"bytes"
	"crypto/sha1"
	"io"
	"os"
	"strconv"

	bencode "github.com/jackpal/bencode-go"

	"github.com/lvbealr/gorent/internal/xerrors"
	"github.com/lvbealr/gorent/internal/xlog"
)

// extractInfoBytes locates the "4:info" key in a bencoded torrent file and
// returns the exact byte range of its value, so the info hash can be
// computed over the bytes as written rather than a re-encoding of the
// decoded struct (re-encoding can disagree on dict key order).
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, xerrors.New(xerrors.KindProtocol, "no \"4:info\" key found")
	}

	start := idx + len("4:info")
	depth := 0

	for i := start; i < len(data); i++ {
		b := data[i]
		switch b {
		case 'd', 'l':
			depth++
		case 'e':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		case 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}
			if j >= len(data) {
				return nil, xerrors.New(xerrors.KindProtocol, "unterminated integer in info dict")
			}
			i = j
		default:
			if b >= '0' && b <= '9' {
				j := i
				for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
				}
				if j < len(data) && data[j] == ':' {
					length, err := strconv.Atoi(string(data[i:j]))
					if err != nil {
						return nil, xerrors.Wrap(xerrors.KindProtocol, err, "invalid string length in info dict")
					}
					j++
					i = j + length - 1
				}
			}
		}
	}
	return nil, xerrors.New(xerrors.KindProtocol, "unterminated info dict")
}

// computeInfoHash reads path and returns the SHA-1 of its info dictionary.
func computeInfoHash(path string) ([20]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [20]byte{}, xerrors.Wrapf(xerrors.KindStore, err, "reading %s", path)
	}

	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return [20]byte{}, err
	}

	return sha1.Sum(infoBytes), nil
}

// Parse loads and decodes a .torrent file at path, filling in InfoHash.
func Parse(path string) (*File, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.KindStore, err, "opening %s", path)
	}
	defer src.Close()

	var f File
	if err := bencode.Unmarshal(src, &f); err != nil {
		return nil, xerrors.Wrap(xerrors.KindProtocol, err, "decoding torrent file")
	}

	hash, err := computeInfoHash(path)
	if err != nil {
		return nil, err
	}
	f.InfoHash = hash

	xlog.L.WithField("name", f.Info.Name).WithField("info_hash", hash).Info("parsed torrent file")
	return &f, nil
}

// Encode bencodes f to w. Used by Create once the info dictionary has been
// assembled; Create then computes the info hash from the encoded bytes.
func Encode(w io.Writer, f *File) error {
	if err := bencode.Marshal(w, *f); err != nil {
		return xerrors.Wrap(xerrors.KindProtocol, err, "encoding torrent file")
	}
	return nil
}
