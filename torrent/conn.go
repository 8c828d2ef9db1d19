package torrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/anacrolix/missinggo/bitmap"
	"github.com/lkslts64/charo-leech/peer_wire"
	"go.uber.org/atomic"
)

var (
	errRequestTimeout = errors.New("request timed out")
	errPeerIdle       = errors.New("peer idle")
	//errProtocol is wrapped by errors caused by a misbehaving peer.
	errProtocol = errors.New("protocol violation")
)

//misbehaving peers are not dialed again
func isPermanent(err error) bool {
	return errors.Is(err, errProtocol) ||
		errors.Is(err, peer_wire.ErrMalformedMsg) ||
		errors.Is(err, peer_wire.ErrFrameTooLong) ||
		errors.Is(err, peer_wire.ErrInfoHashMismatch)
}

type blockKey struct {
	index, begin int
}

//request is an outstanding block request.
type request struct {
	len  int
	sent time.Time
}

//conn represents a remote peer. It owns the tcp connection (redialed on
//failed attempts), runs the wire protocol over it and pulls work from the
//Session. Everything except the phase and the stats is touched only by the
//conn's own goroutine.
type conn struct {
	cfg      *Config
	s        *Session
	logger   *log.Logger
	addr     string
	infoHash [20]byte
	phase    atomic.Int32
	stats    connStats
	//reset at every attempt
	cn     net.Conn
	dec    *peer_wire.Decoder
	peerID [20]byte
	state  connState
	peerBf bitmap.Bitmap
	//true once a bitfield or a have arrived
	gotAvailability bool
	pending         map[blockKey]request
	//blocks of claimed pieces not requested yet, in order
	queue     []Block
	claimed   map[int]struct{}
	lastWrite time.Time
	lastRecv  time.Time
}

func newConn(cfg *Config, s *Session, infoHash [20]byte, addr string) *conn {
	return &conn{
		cfg:      cfg,
		s:        s,
		logger:   log.New(cfg.Logger.Writer(), "peer "+addr+" ", cfg.Logger.Flags()),
		addr:     addr,
		infoHash: infoHash,
	}
}

func (c *conn) setPhase(p connPhase) {
	c.phase.Store(int32(p))
}

func (c *conn) getPhase() connPhase {
	return connPhase(c.phase.Load())
}

//reset prepares the per-connection state for a new attempt.
func (c *conn) reset(cn net.Conn) {
	c.cn = cn
	c.dec = peer_wire.NewDecoder(cn)
	c.state = newConnState()
	c.peerBf = bitmap.Bitmap{}
	c.gotAvailability = false
	c.pending = make(map[blockKey]request)
	c.queue = nil
	c.claimed = make(map[int]struct{})
	c.stats.peerPieces.Store(0)
}

//mainLoop runs the protocol until the peer closes the connection, an error
//occurs, the download completes or ctx is done. A clean close by the peer
//returns nil.
func (c *conn) mainLoop(ctx context.Context) error {
	quit := make(chan struct{})
	defer close(quit)
	//unblock Decode when we have to stop
	go func() {
		select {
		case <-ctx.Done():
		case <-c.s.Done():
		case <-quit:
			return
		}
		c.cn.Close()
	}()
	defer c.releaseClaims()
	now := time.Now()
	c.lastRecv, c.lastWrite = now, now
	for {
		if c.s.Complete() {
			return nil
		}
		if err := c.fillRequests(); err != nil {
			return err
		}
		if c.notUseful() {
			c.logger.Println("peer has no piece we need")
			return nil
		}
		c.cn.SetReadDeadline(c.nextDeadline())
		msg, err := c.dec.Decode()
		if err != nil {
			if c.s.Complete() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				if err = c.onTimeout(); err != nil {
					return err
				}
				continue
			}
			var merr *peer_wire.MalformedMsgError
			if errors.As(err, &merr) && !handles(merr.Kind) {
				c.lastRecv = time.Now()
				c.logger.Printf("skipping %s", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				c.logger.Println("peer closed connection")
				return nil
			}
			return err
		}
		c.lastRecv = time.Now()
		if err = c.onPeerMsg(msg); err != nil {
			return err
		}
	}
}

//handles reports whether onPeerMsg acts on messages of kind. The rest are
//skipped even if malformed.
func handles(kind peer_wire.MessageID) bool {
	switch kind {
	case peer_wire.KeepAlive, peer_wire.Choke, peer_wire.Unchoke,
		peer_wire.Have, peer_wire.Bitfield, peer_wire.Piece:
		return true
	}
	return false
}

func (c *conn) onPeerMsg(msg *peer_wire.Msg) error {
	switch msg.Kind {
	case peer_wire.KeepAlive:
	case peer_wire.Choke:
		if !c.state.isChoking {
			c.state.isChoking = true
			//a choking peer discards our requests
			c.releaseClaims()
		}
	case peer_wire.Unchoke:
		c.state.isChoking = false
		if c.state.amInterested {
			c.setPhase(phaseRequesting)
		}
	case peer_wire.Have:
		i := int(msg.Index)
		if i >= c.s.NumPieces() {
			return fmt.Errorf("have for piece %d of %d: %w", i, c.s.NumPieces(), errProtocol)
		}
		c.peerBf.Set(i, true)
		return c.onAvailability()
	case peer_wire.Bitfield:
		if !msg.Bf.Valid(c.s.NumPieces()) {
			return fmt.Errorf("bitfield of %d bytes: %w", len(msg.Bf), errProtocol)
		}
		c.peerBf = decodeBitfield(msg.Bf, c.s.NumPieces())
		return c.onAvailability()
	case peer_wire.Piece:
		return c.onPiece(msg)
	default:
		//we never upload
		c.logger.Printf("skipping %s", msg)
	}
	return nil
}

func decodeBitfield(bf peer_wire.BitField, numPieces int) (bm bitmap.Bitmap) {
	for i := 0; i < numPieces; i++ {
		if bf.HasPiece(i) {
			bm.Set(i, true)
		}
	}
	return
}

//onAvailability sends interested the first time we learn what the peer has.
func (c *conn) onAvailability() error {
	c.stats.peerPieces.Store(int32(c.peerBf.Len()))
	if c.gotAvailability {
		return nil
	}
	c.gotAvailability = true
	if err := c.sendMsg(&peer_wire.Msg{Kind: peer_wire.Interested}); err != nil {
		return err
	}
	c.state.amInterested = true
	if !c.state.isChoking {
		c.setPhase(phaseRequesting)
	}
	return nil
}

func (c *conn) onPiece(msg *peer_wire.Msg) error {
	key := blockKey{int(msg.Index), int(msg.Begin)}
	req, ok := c.pending[key]
	if !ok {
		//probably requested before a choke
		c.stats.unexpectedBlocks.Inc()
		return nil
	}
	if len(msg.Block) != req.len {
		return fmt.Errorf("block{%d %d}: requested %d bytes, got %d: %w",
			key.index, key.begin, req.len, len(msg.Block), errProtocol)
	}
	delete(c.pending, key)
	c.stats.onBlockDownload(len(msg.Block))
	res, err := c.s.ReportBlock(key.index, key.begin, msg.Block)
	if err != nil {
		return err
	}
	switch res {
	case PieceVerified:
		c.stats.goodPieces.Inc()
		delete(c.claimed, key.index)
	case PieceCorrupt:
		c.stats.badPieces.Inc()
		delete(c.claimed, key.index)
	}
	return nil
}

//fillRequests sends requests until MaxInflight are outstanding or the
//peer has nothing eligible.
func (c *conn) fillRequests() error {
	if !c.state.canDownload() {
		return nil
	}
	for len(c.pending) < c.cfg.MaxInflight {
		if len(c.queue) == 0 {
			bl, err := c.s.SelectRequest(c.peerBf)
			if errors.Is(err, ErrNoEligiblePiece) {
				return nil
			}
			if err != nil {
				return err
			}
			c.claimed[bl.Index] = struct{}{}
			c.queue = c.s.PieceBlocks(bl.Index)
		}
		bl := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.request(bl); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) request(bl Block) error {
	err := c.sendMsg(&peer_wire.Msg{
		Kind:  peer_wire.Request,
		Index: uint32(bl.Index),
		Begin: uint32(bl.Begin),
		Len:   uint32(bl.Len),
	})
	if err != nil {
		return err
	}
	c.pending[blockKey{bl.Index, bl.Begin}] = request{
		len:  bl.Len,
		sent: time.Now(),
	}
	c.stats.onRequest()
	return nil
}

//releaseClaims gives back to the Session every piece this conn claimed
//but didn't complete.
func (c *conn) releaseClaims() {
	for i := range c.claimed {
		c.s.Release(i)
	}
	c.claimed = make(map[int]struct{})
	c.pending = make(map[blockKey]request)
	c.queue = nil
}

//notUseful reports whether the peer can't give us anything anymore.
func (c *conn) notUseful() bool {
	return c.gotAvailability && len(c.pending) == 0 && len(c.queue) == 0 &&
		!c.s.Wants(c.peerBf)
}

//nextDeadline is the earliest moment the loop must wake up without a
//message: to retry selection, to send a keep-alive or to check timeouts.
func (c *conn) nextDeadline() time.Time {
	d := time.Now().Add(c.cfg.IdleRetry)
	earliest := func(t time.Time) {
		if t.Before(d) {
			d = t
		}
	}
	earliest(c.lastWrite.Add(c.cfg.KeepAliveInterval))
	earliest(c.lastRecv.Add(c.cfg.IdleTimeout))
	for _, r := range c.pending {
		earliest(r.sent.Add(c.cfg.RequestTimeout))
	}
	return d
}

func (c *conn) onTimeout() error {
	now := time.Now()
	for key, r := range c.pending {
		if now.Sub(r.sent) >= c.cfg.RequestTimeout {
			return fmt.Errorf("block{%d %d}: %w", key.index, key.begin, errRequestTimeout)
		}
	}
	if now.Sub(c.lastRecv) >= c.cfg.IdleTimeout {
		return errPeerIdle
	}
	if now.Sub(c.lastWrite) >= c.cfg.KeepAliveInterval {
		return c.sendMsg(&peer_wire.Msg{Kind: peer_wire.KeepAlive})
	}
	return nil
}

func (c *conn) sendMsg(msg *peer_wire.Msg) error {
	c.cn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	if err := msg.Write(c.cn); err != nil {
		return err
	}
	c.lastWrite = time.Now()
	return nil
}
