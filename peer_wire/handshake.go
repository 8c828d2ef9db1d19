package peer_wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const Proto = "BitTorrent protocol"

const protoLen byte = 19

//HandShakeLen is the size of a handshake at the wire.
const HandShakeLen = 1 + 19 + 8 + 20 + 20

var ErrInfoHashMismatch = errors.New("info_hash of peer doesn't match ours")

var errBadProto = errors.New("proto or protoLen are not the right one(s)")

type HandShake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

//Encode returns the 68 bytes of h as they are sent at the wire.
func (h *HandShake) Encode() []byte {
	b := make([]byte, 0, HandShakeLen)
	b = append(b, protoLen)
	b = append(b, Proto...)
	b = append(b, h.Reserved[:]...)
	b = append(b, h.InfoHash[:]...)
	b = append(b, h.PeerID[:]...)
	return b
}

//Initiate sends h to the remote peer and reads its reply. The reply must
//echo our info hash, otherwise ErrInfoHashMismatch is returned and the
//connection should be closed.
func (h *HandShake) Initiate(rw io.ReadWriter) (*HandShake, error) {
	if _, err := rw.Write(h.Encode()); err != nil {
		return nil, fmt.Errorf("initiate: write: %w", err)
	}
	reply, err := ReadHandShake(rw)
	if err != nil {
		return nil, fmt.Errorf("initiate: %w", err)
	}
	if reply.InfoHash != h.InfoHash {
		return reply, fmt.Errorf("initiate: %w", ErrInfoHashMismatch)
	}
	return reply, nil
}

//ReadHandShake reads exactly HandShakeLen bytes from r and decodes them.
func ReadHandShake(r io.Reader) (*HandShake, error) {
	buf := make([]byte, HandShakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if buf[0] != protoLen || !bytes.Equal(buf[1:20], []byte(Proto)) {
		return nil, fmt.Errorf("read handshake: %w", errBadProto)
	}
	h := new(HandShake)
	copy(h.Reserved[:], buf[20:28])
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])
	return h, nil
}
