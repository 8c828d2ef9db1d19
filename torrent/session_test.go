package torrent

import (
	"crypto/sha1"
	"errors"
	"io/ioutil"
	"log"
	"math/rand"
	"sync"
	"testing"

	"github.com/anacrolix/missinggo/bitmap"
	"github.com/lkslts64/charo-leech/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

//newTestManifest returns random data of length bytes and a manifest
//describing it.
func newTestManifest(length, pieceLen int) ([]byte, *metainfo.Manifest) {
	data := make([]byte, length)
	rand.Read(data)
	m := &metainfo.Manifest{
		Name:     "test",
		PieceLen: pieceLen,
		Length:   int64(length),
	}
	for off := 0; off < length; off += pieceLen {
		end := off + pieceLen
		if end > length {
			end = length
		}
		h := sha1.Sum(data[off:end])
		m.Pieces = append(m.Pieces, h[:]...)
	}
	m.Hash = sha1.Sum([]byte("test info hash"))
	return data, m
}

func allPieces(n int) (bm bitmap.Bitmap) {
	bm.AddRange(0, n)
	return
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) WritePiece(off int64, data []byte) error {
	args := m.Called(off, data)
	return args.Error(0)
}

//deliver reports every block of piece i with the right data.
func deliver(t *testing.T, s *Session, data []byte, i int) BlockResult {
	var res BlockResult
	var err error
	for _, b := range s.PieceBlocks(i) {
		off := i*s.pieceLen + b.Begin
		res, err = s.ReportBlock(i, b.Begin, data[off:off+b.Len])
		require.NoError(t, err)
	}
	return res
}

func TestSessionLayout(t *testing.T) {
	_, m := newTestManifest(40000, 32768)
	s := NewSession(m, 1<<14, &mockSink{}, testLogger())
	require.Equal(t, 2, s.NumPieces())
	assert.Len(t, s.PieceBlocks(0), 2)
	last := s.PieceBlocks(1)
	require.Len(t, last, 1)
	assert.Equal(t, 7232, last[0].Len)
	assert.Nil(t, s.PieceBlocks(2))
	assert.EqualValues(t, 40000, s.Left())
}

func TestSessionSelectRequest(t *testing.T) {
	_, m := newTestManifest(5*100, 100)
	s := NewSession(m, 64, &mockSink{}, testLogger())
	var bf bitmap.Bitmap
	_, err := s.SelectRequest(bf)
	assert.True(t, errors.Is(err, ErrNoEligiblePiece))
	bf.Set(3, true)
	bf.Set(1, true)
	//ascending order
	b, err := s.SelectRequest(bf)
	require.NoError(t, err)
	assert.Equal(t, Block{Index: 1, Begin: 0, Len: 64}, b)
	assert.True(t, s.InProgress(1))
	b, err = s.SelectRequest(bf)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Index)
	//both claimed
	_, err = s.SelectRequest(bf)
	assert.True(t, errors.Is(err, ErrNoEligiblePiece))
	//indices beyond the torrent are ignored
	var big bitmap.Bitmap
	big.Set(100, true)
	_, err = s.SelectRequest(big)
	assert.True(t, errors.Is(err, ErrNoEligiblePiece))
}

func TestSessionVerifiedPieceWrittenOnce(t *testing.T) {
	data, m := newTestManifest(40000, 32768)
	sink := &mockSink{}
	sink.On("WritePiece", int64(0), data[:32768]).Return(nil).Once()
	sink.On("WritePiece", int64(32768), data[32768:]).Return(nil).Once()
	s := NewSession(m, 1<<14, sink, testLogger())
	bf := allPieces(2)
	b, err := s.SelectRequest(bf)
	require.NoError(t, err)
	require.Equal(t, 0, b.Index)
	res, err := s.ReportBlock(0, 0, data[:1<<14])
	require.NoError(t, err)
	assert.Equal(t, BlockStored, res)
	res, err = s.ReportBlock(0, 1<<14, data[1<<14:32768])
	require.NoError(t, err)
	assert.Equal(t, PieceVerified, res)
	assert.True(t, s.Received(0))
	assert.False(t, s.InProgress(0))
	assert.False(t, s.Complete())
	//a late duplicate is ignored and not written again
	res, err = s.ReportBlock(0, 0, data[:1<<14])
	require.NoError(t, err)
	assert.Equal(t, BlockIgnored, res)
	//received pieces are never selected again
	b, err = s.SelectRequest(bf)
	require.NoError(t, err)
	require.Equal(t, 1, b.Index)
	assert.Equal(t, PieceVerified, deliver(t, s, data, 1))
	assert.True(t, s.Complete())
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.EqualValues(t, 40000, s.Downloaded())
	assert.EqualValues(t, 0, s.Left())
	sink.AssertExpectations(t)
	sink.AssertNumberOfCalls(t, "WritePiece", 2)
}

func TestSessionHashMismatchReclaim(t *testing.T) {
	data, m := newTestManifest(64, 32)
	sink := &mockSink{}
	sink.On("WritePiece", int64(32), data[32:]).Return(nil).Once()
	s := NewSession(m, 16, sink, testLogger())
	var bf bitmap.Bitmap
	bf.Set(1, true)
	_, err := s.SelectRequest(bf)
	require.NoError(t, err)
	res, err := s.ReportBlock(1, 0, data[32:48])
	require.NoError(t, err)
	assert.Equal(t, BlockStored, res)
	res, err = s.ReportBlock(1, 16, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, PieceCorrupt, res)
	assert.False(t, s.InProgress(1))
	assert.False(t, s.Received(1))
	assert.Equal(t, 1, s.HashFailures())
	assert.EqualValues(t, 32, s.Wasted())
	sink.AssertNotCalled(t, "WritePiece", mock.Anything, mock.Anything)
	//the same piece can be claimed again and completed
	b, err := s.SelectRequest(bf)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, PieceVerified, deliver(t, s, data, 1))
	assert.True(t, s.Received(1))
	sink.AssertExpectations(t)
}

func TestSessionSinkFailure(t *testing.T) {
	data, m := newTestManifest(32, 32)
	sink := &mockSink{}
	sink.On("WritePiece", int64(0), data).Return(errors.New("disk full")).Once()
	sink.On("WritePiece", int64(0), data).Return(nil).Once()
	s := NewSession(m, 16, sink, testLogger())
	bf := allPieces(1)
	_, err := s.SelectRequest(bf)
	require.NoError(t, err)
	_, err = s.ReportBlock(0, 0, data[:16])
	require.NoError(t, err)
	_, err = s.ReportBlock(0, 16, data[16:])
	assert.Error(t, err)
	assert.False(t, s.Received(0))
	assert.False(t, s.InProgress(0))
	_, err = s.SelectRequest(bf)
	require.NoError(t, err)
	assert.Equal(t, PieceVerified, deliver(t, s, data, 0))
	assert.True(t, s.Complete())
}

func TestSessionReportBadBlock(t *testing.T) {
	_, m := newTestManifest(64, 32)
	s := NewSession(m, 16, &mockSink{}, testLogger())
	_, err := s.ReportBlock(5, 0, make([]byte, 16))
	assert.True(t, errors.Is(err, errBadBlock))
	//unclaimed pieces ignore blocks
	res, err := s.ReportBlock(0, 0, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, BlockIgnored, res)
	_, err = s.SelectRequest(allPieces(2))
	require.NoError(t, err)
	_, err = s.ReportBlock(0, 0, make([]byte, 15))
	assert.True(t, errors.Is(err, errBadBlock))
}

func TestSessionRelease(t *testing.T) {
	data, m := newTestManifest(64, 32)
	s := NewSession(m, 16, &mockSink{}, testLogger())
	bf := allPieces(2)
	_, err := s.SelectRequest(bf)
	require.NoError(t, err)
	_, err = s.ReportBlock(0, 0, data[:16])
	require.NoError(t, err)
	s.Release(0)
	assert.False(t, s.InProgress(0))
	assert.EqualValues(t, 16, s.Wasted())
	//blocks of a released piece are ignored
	res, err := s.ReportBlock(0, 16, data[16:32])
	require.NoError(t, err)
	assert.Equal(t, BlockIgnored, res)
	b, err := s.SelectRequest(bf)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Index)
	//old data was discarded
	res, err = s.ReportBlock(0, 16, data[16:32])
	require.NoError(t, err)
	assert.Equal(t, BlockStored, res)
	s.Release(100)
}

func TestSessionWants(t *testing.T) {
	data, m := newTestManifest(64, 32)
	sink := &mockSink{}
	sink.On("WritePiece", mock.Anything, mock.Anything).Return(nil)
	s := NewSession(m, 16, sink, testLogger())
	var bf bitmap.Bitmap
	assert.False(t, s.Wants(bf))
	bf.Set(0, true)
	assert.True(t, s.Wants(bf))
	_, err := s.SelectRequest(bf)
	require.NoError(t, err)
	//in progress pieces are still wanted
	assert.True(t, s.Wants(bf))
	deliver(t, s, data, 0)
	assert.False(t, s.Wants(bf))
}

func TestSessionConcurrentSelection(t *testing.T) {
	const numPieces = 200
	_, m := newTestManifest(numPieces*16, 16)
	s := NewSession(m, 16, &mockSink{}, testLogger())
	bf := allPieces(numPieces)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[int]int)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				b, err := s.SelectRequest(bf)
				if err != nil {
					assert.True(t, errors.Is(err, ErrNoEligiblePiece))
					return
				}
				mu.Lock()
				claimed[b.Index]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, claimed, numPieces)
	for i, n := range claimed {
		assert.Equal(t, 1, n, "piece %d claimed %d times", i, n)
	}
}
