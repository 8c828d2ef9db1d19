package storage

import (
	"io"
	"log"

	"github.com/spf13/afero"
)

//Sink accepts verified piece data. off is the absolute offset of data in the
//torrent's contiguous byte space. Offsets may arrive in any order.
type Sink interface {
	WritePiece(off int64, data []byte) error
}

//Storage is the interface every storage should adhere to
type Storage interface {
	Sink
	io.ReaderAt
	io.Closer
}

//Open returns a Storage object able to hold length bytes.
type Open func(fs afero.Fs, baseDir, name string, length int64, logger *log.Logger) (Storage, error)
