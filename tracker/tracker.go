package tracker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

type Event int32

const (
	None Event = iota
	Completed
	Started
	Stopped
)

var events = map[Event]string{
	Completed: "completed",
	Started:   "started",
	Stopped:   "stopped",
}

var (
	//ErrFailure wraps the failure reason a tracker responded with.
	ErrFailure = errors.New("tracker failure")
	ErrNoPeers = errors.New("tracker response has no peers")
)

type AnnounceReq struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded int64
	Left       int64
	Uploaded   int64
	Event      Event
	Numwant    int32
	Port       int
}

type AnnounceResp struct {
	Interval    int32
	Leechers    int32
	Seeders     int32
	Peers       []Peer
	MinInterval int32
	Warning     string
}

type Peer struct {
	ID   []byte
	IP   net.IP
	Port int
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(p.Port))
}

type Tracker interface {
	Announce(context.Context, AnnounceReq) (*AnnounceResp, error)
}

//compact form of a peer list: 4 bytes IPv4 followed by 2 bytes big endian port
type cheapPeers []byte

func (cheap cheapPeers) peers() ([]Peer, error) {
	var numPeers int
	if numPeers = len(cheap); numPeers%6 != 0 {
		return nil, fmt.Errorf("cheapPeers length is not divided exactly by 6.Instead it has length %d", numPeers)
	}
	peers := make([]Peer, numPeers/6)
	for i := 0; i < numPeers; i += 6 {
		j := i / 6
		peers[j].IP = net.IPv4(cheap[i], cheap[i+1], cheap[i+2], cheap[i+3])
		peers[j].Port = int(binary.BigEndian.Uint16(cheap[i+4 : i+6]))
	}
	return peers, nil
}
