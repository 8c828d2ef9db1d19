package peer_wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type MessageID int

const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
)

//KeepAlive doesn't have an ID at the wire but we define one
const KeepAlive MessageID = -1

var msgNames = map[MessageID]string{
	KeepAlive:     "keep-alive",
	Choke:         "choke",
	Unchoke:       "unchoke",
	Interested:    "interested",
	NotInterested: "not-interested",
	Have:          "have",
	Bitfield:      "bitfield",
	Request:       "request",
	Piece:         "piece",
	Cancel:        "cancel",
	Port:          "port",
}

func (id MessageID) String() string {
	if s, ok := msgNames[id]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(id))
}

//Known reports whether id is one of the ids this package can decode.
func (id MessageID) Known() bool {
	_, ok := msgNames[id]
	return ok
}

//ErrMalformedMsg is returned when a frame of a known kind has a payload
//with the wrong length.
var ErrMalformedMsg = errors.New("malformed message")

//MalformedMsgError tells which kind of frame was malformed. It unwraps to
//ErrMalformedMsg.
type MalformedMsgError struct {
	Kind MessageID
	Len  int
	//expected payload length, the minimum one for pieces
	Want int
}

func (e *MalformedMsgError) Error() string {
	return fmt.Sprintf("%s: payload length %d, want %d: %s", e.Kind, e.Len, e.Want, ErrMalformedMsg)
}

func (e *MalformedMsgError) Unwrap() error {
	return ErrMalformedMsg
}

//Msg is a single peer wire message. Only the fields relevant to Kind are set.
type Msg struct {
	Kind  MessageID
	Index uint32
	Begin uint32
	Len   uint32
	Bf    BitField
	Block []byte
	//Payload holds the raw payload of messages with an unknown Kind.
	Payload []byte
}

//Encode returns the length-prefixed wire form of m.
func (m *Msg) Encode() []byte {
	var b bytes.Buffer
	//length prefix, patched below
	b.Write([]byte{0, 0, 0, 0})
	if m.Kind != KeepAlive {
		b.WriteByte(byte(m.Kind))
	}
	var err error
	switch m.Kind {
	case KeepAlive, Choke, Unchoke, Interested, NotInterested:
	case Have:
		err = writeBinary(&b, m.Index)
	case Bitfield:
		b.Write(m.Bf)
	case Request, Cancel:
		err = writeBinary(&b, m.Index, m.Begin, m.Len)
	case Piece:
		err = writeBinary(&b, m.Index, m.Begin)
		b.Write(m.Block)
	case Port:
		err = writeBinary(&b, uint16(m.Index))
	default:
		b.Write(m.Payload)
	}
	if err != nil {
		//writes to a bytes.Buffer don't fail
		panic(err)
	}
	data := b.Bytes()
	binary.BigEndian.PutUint32(data[:4], uint32(len(data)-4))
	return data
}

//Write writes the wire form of m to w.
func (m *Msg) Write(w io.Writer) error {
	if _, err := w.Write(m.Encode()); err != nil {
		return fmt.Errorf("write %s: %w", m.Kind, err)
	}
	return nil
}

func (m *Msg) String() string {
	switch m.Kind {
	case Have:
		return fmt.Sprintf("have{%d}", m.Index)
	case Request, Cancel:
		return fmt.Sprintf("%s{%d %d %d}", m.Kind, m.Index, m.Begin, m.Len)
	case Piece:
		return fmt.Sprintf("piece{%d %d len=%d}", m.Index, m.Begin, len(m.Block))
	case Bitfield:
		return fmt.Sprintf("bitfield{%d bytes}", len(m.Bf))
	default:
		return m.Kind.String()
	}
}

//parseMsg decodes the body of a frame (everything after the length prefix).
//An empty body is a keep-alive. The returned Msg never aliases body.
func parseMsg(body []byte) (*Msg, error) {
	if len(body) == 0 {
		return &Msg{Kind: KeepAlive}, nil
	}
	msg := &Msg{Kind: MessageID(body[0])}
	payload := body[1:]
	expectLen := func(n int) error {
		if len(payload) != n {
			return &MalformedMsgError{Kind: msg.Kind, Len: len(payload), Want: n}
		}
		return nil
	}
	var err error
	switch msg.Kind {
	case Choke, Unchoke, Interested, NotInterested:
		err = expectLen(0)
	case Have:
		if err = expectLen(4); err == nil {
			msg.Index = binary.BigEndian.Uint32(payload)
		}
	case Bitfield:
		msg.Bf = append(BitField(nil), payload...)
	case Request, Cancel:
		if err = expectLen(12); err == nil {
			msg.Index = binary.BigEndian.Uint32(payload[0:4])
			msg.Begin = binary.BigEndian.Uint32(payload[4:8])
			msg.Len = binary.BigEndian.Uint32(payload[8:12])
		}
	case Piece:
		if len(payload) < 8 {
			return nil, &MalformedMsgError{Kind: Piece, Len: len(payload), Want: 8}
		}
		msg.Index = binary.BigEndian.Uint32(payload[0:4])
		msg.Begin = binary.BigEndian.Uint32(payload[4:8])
		msg.Block = append([]byte(nil), payload[8:]...)
	case Port:
		if err = expectLen(2); err == nil {
			msg.Index = uint32(binary.BigEndian.Uint16(payload))
		}
	default:
		msg.Payload = append([]byte(nil), payload...)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func writeBinary(w io.Writer, data ...interface{}) error {
	var err error
	for _, d := range data {
		err = binary.Write(w, binary.BigEndian, d)
		if err != nil {
			return fmt.Errorf("write binary: %w", err)
		}
	}
	return nil
}
