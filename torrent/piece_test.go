package torrent

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPieceLayout(t *testing.T) {
	p := newPiece(0, 32768, 1<<14, [20]byte{})
	require.Len(t, p.blocks, 2)
	for i, b := range p.blocks {
		assert.Equal(t, 1<<14, b.Len)
		assert.Equal(t, i*(1<<14), b.Begin)
		assert.Nil(t, b.Data)
	}
	//last block covers the remainder
	p = newPiece(1, 7232, 1<<14, [20]byte{})
	require.Len(t, p.blocks, 1)
	assert.Equal(t, Block{Index: 1, Begin: 0, Len: 7232}, p.blocks[0])
	p = newPiece(2, 3*(1<<14)+5, 1<<14, [20]byte{})
	require.Len(t, p.blocks, 4)
	assert.Equal(t, 5, p.blocks[3].Len)
	assert.Equal(t, 3*(1<<14), p.blocks[3].Begin)
}

func TestPieceComplete(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 5)
	p := newPiece(0, len(data), 16, sha1.Sum(data))
	require.Len(t, p.blocks, 3)
	assert.False(t, p.complete())
	//out of order
	require.NoError(t, p.saveBlock(32, data[32:]))
	require.NoError(t, p.saveBlock(0, data[:16]))
	assert.False(t, p.complete())
	assert.Equal(t, 2, p.receivedBlocks())
	require.NoError(t, p.saveBlock(16, data[16:32]))
	assert.True(t, p.complete())
	content := p.content()
	assert.Equal(t, data, content)
	assert.True(t, p.verify(content))
	p.reset()
	assert.False(t, p.complete())
	assert.Equal(t, 0, p.receivedBlocks())
}

func TestPieceBadBlock(t *testing.T) {
	p := newPiece(0, 40, 16, [20]byte{})
	err := p.saveBlock(8, make([]byte, 16))
	assert.True(t, errors.Is(err, errBadBlock))
	err = p.saveBlock(32, make([]byte, 16))
	assert.True(t, errors.Is(err, errBadBlock))
	assert.Equal(t, 0, p.receivedBlocks())
}

func TestPieceLayoutHasNoData(t *testing.T) {
	p := newPiece(0, 32, 16, [20]byte{})
	require.NoError(t, p.saveBlock(0, make([]byte, 16)))
	for _, b := range p.layout() {
		assert.Nil(t, b.Data)
	}
	assert.NotNil(t, p.blocks[0].Data)
}
