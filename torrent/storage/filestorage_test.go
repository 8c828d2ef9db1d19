package storage

import (
	"bytes"
	"errors"
	"io/ioutil"
	"log"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

func TestFileStorageOutOfOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := OpenFileStorage(fs, "downloads", "data.bin", 10, testLogger())
	require.NoError(t, err)
	//second piece arrives first
	require.NoError(t, s.WritePiece(6, []byte("6789")))
	require.NoError(t, s.WritePiece(0, []byte("012345")))
	b := make([]byte, 10)
	n, err := s.ReadAt(b, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "0123456789", string(b))
	assert.EqualValues(t, 10, s.(*FileStorage).Written())
	require.NoError(t, s.Close())
	data, err := afero.ReadFile(fs, "downloads/data.bin")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestFileStorageSized(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := OpenFileStorage(fs, ".", "sparse", 100, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.WritePiece(90, bytes.Repeat([]byte{1}, 10)))
	require.NoError(t, s.Close())
	fi, err := fs.Stat("sparse")
	require.NoError(t, err)
	assert.EqualValues(t, 100, fi.Size())
}

func TestFileStorageOutOfBounds(t *testing.T) {
	s, err := OpenFileStorage(afero.NewMemMapFs(), ".", "x", 4, testLogger())
	require.NoError(t, err)
	err = s.WritePiece(2, []byte("abc"))
	assert.True(t, errors.Is(err, ErrOutOfBounds))
	err = s.WritePiece(-1, []byte("a"))
	assert.True(t, errors.Is(err, ErrOutOfBounds))
}
