package torrent

import (
	"crypto/sha1"
	"errors"
	"fmt"
)

//Block is a contiguous byte range of a piece and the unit of request at the
//wire. Data is nil until the block is received.
type Block struct {
	Index int
	Begin int
	Len   int
	Data  []byte
}

func (b Block) String() string {
	return fmt.Sprintf("block{%d %d %d}", b.Index, b.Begin, b.Len)
}

var errBadBlock = errors.New("block doesn't match the piece layout")

//piece is an ordered sequence of blocks covering exactly the length of the
//piece. All blocks have length blockSz except the last one which covers the
//remainder.
type piece struct {
	index  int
	length int
	hash   [20]byte
	blocks []Block
}

func newPiece(index, length, blockSz int, hash [20]byte) *piece {
	lastBlockLen := length % blockSz
	var extra int
	if lastBlockLen != 0 {
		extra = 1
	} else {
		lastBlockLen = blockSz
	}
	numBlocks := length/blockSz + extra
	blocks := make([]Block, numBlocks)
	for i := range blocks {
		blocks[i] = Block{
			Index: index,
			Begin: i * blockSz,
			Len:   blockSz,
		}
	}
	blocks[numBlocks-1].Len = lastBlockLen
	return &piece{
		index:  index,
		length: length,
		hash:   hash,
		blocks: blocks,
	}
}

//saveBlock stores data at the block starting at begin.
func (p *piece) saveBlock(begin int, data []byte) error {
	for i := range p.blocks {
		if p.blocks[i].Begin != begin {
			continue
		}
		if len(data) != p.blocks[i].Len {
			return fmt.Errorf("piece %d: block at %d has length %d, got %d: %w",
				p.index, begin, p.blocks[i].Len, len(data), errBadBlock)
		}
		p.blocks[i].Data = data
		return nil
	}
	return fmt.Errorf("piece %d: no block at offset %d: %w", p.index, begin, errBadBlock)
}

//complete reports whether every block has received data.
func (p *piece) complete() bool {
	for i := range p.blocks {
		if len(p.blocks[i].Data) == 0 {
			return false
		}
	}
	return true
}

//content is the concatenation of the blocks' data in block order.
func (p *piece) content() []byte {
	b := make([]byte, 0, p.length)
	for i := range p.blocks {
		b = append(b, p.blocks[i].Data...)
	}
	return b
}

func (p *piece) verify(content []byte) bool {
	return sha1.Sum(content) == p.hash
}

//reset discards all block data
func (p *piece) reset() {
	for i := range p.blocks {
		p.blocks[i].Data = nil
	}
}

//layout returns the piece's blocks without data.
func (p *piece) layout() []Block {
	bls := make([]Block, len(p.blocks))
	for i, b := range p.blocks {
		b.Data = nil
		bls[i] = b
	}
	return bls
}

func (p *piece) receivedBlocks() (n int) {
	for i := range p.blocks {
		if len(p.blocks[i].Data) > 0 {
			n++
		}
	}
	return
}
