package peer_wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

//MaxFrameLen bounds the body of a single frame. The largest legit frames are
//piece messages carrying one block and bitfields of huge torrents.
const MaxFrameLen = 1 << 21

const readChunkSize = 1 << 14

//ErrFrameTooLong is returned when a peer announces a frame bigger than MaxFrameLen.
var ErrFrameTooLong = errors.New("frame too long")

//Decoder reassembles length-prefixed frames from a byte stream. Raw bytes are
//accumulated in an internal buffer and a frame is sliced off only when all
//of its 4+L bytes are present, so any fragmentation of the stream across
//reads yields the same messages.
//
//A Decoder keeps its buffered bytes across read errors, which makes it safe
//to call Decode again after a read deadline expired.
type Decoder struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, readChunkSize),
	}
}

//Feed appends raw stream bytes to the buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

//Buffered returns the number of bytes waiting to form a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

//Pop slices the next complete frame off the buffer. ok is false if the
//buffer doesn't hold a whole frame yet.
func (d *Decoder) Pop() (msg *Msg, ok bool, err error) {
	if len(d.buf) < 4 {
		return nil, false, nil
	}
	l := binary.BigEndian.Uint32(d.buf[:4])
	if l > MaxFrameLen {
		return nil, false, fmt.Errorf("frame of %d bytes: %w", l, ErrFrameTooLong)
	}
	end := 4 + int(l)
	if len(d.buf) < end {
		return nil, false, nil
	}
	msg, err = parseMsg(d.buf[4:end])
	//the frame is consumed by its length even if its body was bad
	d.consume(end)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}

//Decode returns the next message, reading from the underlying reader as
//many times as needed. A clean end of stream between frames is reported as
//io.EOF, an end of stream in the middle of a frame as io.ErrUnexpectedEOF.
func (d *Decoder) Decode() (*Msg, error) {
	for {
		msg, ok, err := d.Pop()
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}
		n, err := d.r.Read(d.chunk)
		d.Feed(d.chunk[:n])
		if err == nil {
			continue
		}
		//the last read may have completed a frame
		if msg, ok, perr := d.Pop(); ok || perr != nil {
			return msg, perr
		}
		if errors.Is(err, io.EOF) && len(d.buf) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
}
