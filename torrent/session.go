package torrent

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/missinggo/bitmap"
	"github.com/dustin/go-humanize"
	"github.com/lkslts64/charo-leech/torrent/storage"
	"go.uber.org/atomic"
)

//ErrNoEligiblePiece means that the peer has no piece we can request right
//now. It is not fatal: the caller should stay idle and retry later.
var ErrNoEligiblePiece = errors.New("no eligible piece to request")

//Manifest is what a Session needs to know about a torrent.
type Manifest interface {
	TotalLength() int64
	PieceLength() int
	PieceHash(i int) [20]byte
	InfoHash() [20]byte
}

//BlockResult describes the effect of a block reported to a Session.
type BlockResult int

const (
	//block stored, piece not complete yet
	BlockStored BlockResult = iota
	//piece completed, hash matched and data was sent to the sink
	PieceVerified
	//piece completed but hash didn't match. Its data was discarded and
	//the piece can be selected again.
	PieceCorrupt
	//piece isn't in progress (already received or released)
	BlockIgnored
)

//Session owns the piece table of a download. It is shared by all the
//conns of a Torrent; every exported method is safe for concurrent use.
//A piece index is at each time in exactly one of the states: unclaimed,
//in progress or received.
type Session struct {
	logger   *log.Logger
	sink     storage.Sink
	pieceLen int
	length   int64
	blockSz  int
	//protects everything below
	mu         sync.Mutex
	pcs        []*piece
	inProgress *roaring.Bitmap
	received   *roaring.Bitmap
	done       chan struct{}
	//read without holding mu
	downloaded   atomic.Int64
	wasted       atomic.Int64
	hashFailures atomic.Uint32
}

//NewSession lays out the pieces and blocks of m. blockSz is the size of a
//block request.
func NewSession(m Manifest, blockSz int, sink storage.Sink, logger *log.Logger) *Session {
	pieceLen := m.PieceLength()
	length := m.TotalLength()
	numPieces := int((length + int64(pieceLen) - 1) / int64(pieceLen))
	pcs := make([]*piece, numPieces)
	for i := 0; i < numPieces; i++ {
		pLen := pieceLen
		if i == numPieces-1 {
			pLen = int(length - int64(i)*int64(pieceLen))
		}
		pcs[i] = newPiece(i, pLen, blockSz, m.PieceHash(i))
	}
	s := &Session{
		logger:     logger,
		sink:       sink,
		pieceLen:   pieceLen,
		length:     length,
		blockSz:    blockSz,
		pcs:        pcs,
		inProgress: roaring.NewBitmap(),
		received:   roaring.NewBitmap(),
		done:       make(chan struct{}),
	}
	if numPieces == 0 {
		close(s.done)
	}
	return s
}

func (s *Session) NumPieces() int {
	return len(s.pcs)
}

func (s *Session) valid(i int) bool {
	return i >= 0 && i < len(s.pcs)
}

//SelectRequest scans pieces in ascending index order and returns the first
//block of the first piece that is neither received nor in progress and is
//set in bf. That piece becomes in progress. ErrNoEligiblePiece is returned
//if no piece qualifies.
func (s *Session) SelectRequest(bf bitmap.Bitmap) (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	selected := -1
	//IterTyped visits set bits in ascending order
	bf.IterTyped(func(i int) bool {
		if i >= len(s.pcs) {
			return false
		}
		if s.received.Contains(uint32(i)) || s.inProgress.Contains(uint32(i)) {
			return true
		}
		selected = i
		return false
	})
	if selected < 0 {
		return Block{}, ErrNoEligiblePiece
	}
	s.inProgress.Add(uint32(selected))
	return s.pcs[selected].layout()[0], nil
}

//PieceBlocks returns the layout of piece i: its blocks in order, without data.
func (s *Session) PieceBlocks(i int) []Block {
	if !s.valid(i) {
		return nil
	}
	//layout never changes after construction but block data does
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pcs[i].layout()
}

//ReportBlock stores data at the block of piece index that starts at begin.
//When this completes the piece, the piece is hashed: if the hash matches, the
//piece is marked as received and its content is written to the sink,
//otherwise all its blocks are discarded and the piece returns to the pool.
func (s *Session) ReportBlock(index, begin int, data []byte) (BlockResult, error) {
	if !s.valid(index) {
		return BlockIgnored, fmt.Errorf("report block: piece %d out of range: %w", index, errBadBlock)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inProgress.Contains(uint32(index)) {
		return BlockIgnored, nil
	}
	p := s.pcs[index]
	if err := p.saveBlock(begin, data); err != nil {
		return BlockIgnored, fmt.Errorf("report block: %w", err)
	}
	if !p.complete() {
		return BlockStored, nil
	}
	content := p.content()
	if !p.verify(content) {
		s.logger.Printf("hash check failed for piece %d", index)
		s.hashFailures.Inc()
		s.wasted.Add(int64(len(content)))
		s.discard(index)
		return PieceCorrupt, nil
	}
	off := int64(index) * int64(s.pieceLen)
	if err := s.sink.WritePiece(off, content); err != nil {
		s.discard(index)
		return BlockIgnored, fmt.Errorf("report block: piece %d: %w", index, err)
	}
	s.inProgress.Remove(uint32(index))
	s.received.Add(uint32(index))
	//the piece object is kept only as a completion marker
	p.reset()
	s.downloaded.Add(int64(len(content)))
	s.logger.Printf("piece %d verified (%s)", index, humanize.Bytes(uint64(len(content))))
	if int(s.received.GetCardinality()) == len(s.pcs) {
		close(s.done)
	}
	return PieceVerified, nil
}

//Release returns an in progress piece to the pool, discarding any data
//received for it. Pieces that are not in progress are left untouched.
func (s *Session) Release(index int) {
	if !s.valid(index) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress.Contains(uint32(index)) {
		s.wasted.Add(int64(s.pcs[index].receivedBlocks() * s.blockSz))
		s.discard(index)
	}
}

func (s *Session) discard(index int) {
	s.pcs[index].reset()
	s.inProgress.Remove(uint32(index))
}

//Wants reports whether bf contains any piece not received yet.
func (s *Session) Wants(bf bitmap.Bitmap) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wants := false
	bf.IterTyped(func(i int) bool {
		if i >= len(s.pcs) {
			return false
		}
		if !s.received.Contains(uint32(i)) {
			wants = true
			return false
		}
		return true
	})
	return wants
}

func (s *Session) Received(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received.Contains(uint32(i))
}

func (s *Session) InProgress(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress.Contains(uint32(i))
}

func (s *Session) NumReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.received.GetCardinality())
}

//Done is closed when all pieces are received.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Complete() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

//Downloaded returns the verified bytes written to the sink.
func (s *Session) Downloaded() int64 {
	return s.downloaded.Load()
}

func (s *Session) Left() int64 {
	return s.length - s.downloaded.Load()
}

func (s *Session) HashFailures() int {
	return int(s.hashFailures.Load())
}

//Wasted returns the bytes discarded because of hash failures or released pieces.
func (s *Session) Wasted() int64 {
	return s.wasted.Load()
}
