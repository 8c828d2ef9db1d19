package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

const hashLen = 20

var (
	ErrNoInfo   = errors.New("manifest has no info dictionary")
	ErrNoLength = errors.New("manifest has neither length nor files")
)

//Manifest holds everything a download needs to know about a torrent.
//Multi-file torrents are treated as one contiguous byte space.
type Manifest struct {
	Announce string
	Name     string
	PieceLen int
	Length   int64
	//concatenated SHA-1 hashes of the pieces
	Pieces []byte
	//SHA-1 of the bencoded info dictionary
	Hash [20]byte
}

//LoadMetainfoFile reads and parses the .torrent file fileName.
func LoadMetainfoFile(fileName string) (*Manifest, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("load torrent: %w", err)
	}
	defer f.Close()
	m, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load torrent %s: %w", fileName, err)
	}
	return m, nil
}

//Load parses a bencoded metainfo from r.
func Load(r io.Reader) (*Manifest, error) {
	mi, err := metainfo.Load(r)
	if err != nil {
		return nil, fmt.Errorf("decode metainfo: %w", err)
	}
	if len(mi.InfoBytes) == 0 {
		return nil, ErrNoInfo
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("decode info: %w", err)
	}
	m := &Manifest{
		Announce: mi.Announce,
		Name:     info.Name,
		PieceLen: int(info.PieceLength),
		Length:   info.TotalLength(),
		Pieces:   info.Pieces,
		Hash:     mi.HashInfoBytes(),
	}
	if info.Length == 0 && len(info.Files) == 0 {
		return nil, ErrNoLength
	}
	if err = m.Parse(); err != nil {
		return nil, err
	}
	return m, nil
}

//Parse makes some sanity checks on the manifest's fields.
func (m *Manifest) Parse() error {
	if m.PieceLen <= 0 {
		return fmt.Errorf("info parse: bad piece length %d", m.PieceLen)
	}
	if m.Length <= 0 {
		return fmt.Errorf("info parse: %w", ErrNoLength)
	}
	if len(m.Pieces)%hashLen != 0 {
		return errors.New("info parse: SHA-1 hash of pieces has not the right length")
	}
	expected := int((m.Length + int64(m.PieceLen) - 1) / int64(m.PieceLen))
	if m.NumPieces() != expected {
		return fmt.Errorf("info parse: %d piece hashes for %d pieces", m.NumPieces(), expected)
	}
	return nil
}

func (m *Manifest) TotalLength() int64 {
	return m.Length
}

func (m *Manifest) PieceLength() int {
	return m.PieceLen
}

func (m *Manifest) NumPieces() int {
	return len(m.Pieces) / hashLen
}

func (m *Manifest) PieceHash(i int) (h [20]byte) {
	copy(h[:], m.Pieces[i*hashLen:i*hashLen+hashLen])
	return
}

func (m *Manifest) InfoHash() [20]byte {
	return m.Hash
}

//Create writes a single-file .torrent describing data to w.
func Create(w io.Writer, announce, name string, pieceLen int, data []byte) error {
	info := metainfo.Info{
		Name:        name,
		PieceLength: int64(pieceLen),
		Length:      int64(len(data)),
	}
	for off := 0; off < len(data); off += pieceLen {
		end := off + pieceLen
		if end > len(data) {
			end = len(data)
		}
		h := sha1.Sum(data[off:end])
		info.Pieces = append(info.Pieces, h[:]...)
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return fmt.Errorf("create torrent: %w", err)
	}
	mi := metainfo.MetaInfo{
		Announce:  announce,
		InfoBytes: infoBytes,
	}
	if err = mi.Write(w); err != nil {
		return fmt.Errorf("create torrent: %w", err)
	}
	return nil
}
