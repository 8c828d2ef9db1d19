package torrent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lkslts64/charo-leech/peer_wire"
)

var errClosedEarly = errors.New("connection closed before requesting")

//dial connects to the peer and exchanges handshakes. Both the dial and the
//handshake must finish within DialTimeout.
func (c *conn) dial(ctx context.Context) error {
	c.setPhase(phaseConnecting)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	cn, err := c.cfg.Dial(ctx, c.addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	deadline, _ := ctx.Deadline()
	cn.SetDeadline(deadline)
	c.setPhase(phaseHandshakeSent)
	hs := &peer_wire.HandShake{
		InfoHash: c.infoHash,
		PeerID:   c.cfg.PeerID,
	}
	reply, err := hs.Initiate(cn)
	if err != nil {
		cn.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	cn.SetDeadline(time.Time{})
	c.reset(cn)
	c.peerID = reply.PeerID
	c.setPhase(phaseNegotiating)
	return nil
}

//attempt runs a single connection to the peer. reached reports whether
//the connection made it to the requesting phase.
func (c *conn) attempt(ctx context.Context) (reached bool, err error) {
	c.stats.attempts.Inc()
	if err = c.dial(ctx); err != nil {
		return false, err
	}
	defer c.cn.Close()
	c.logger.Printf("connected to %q", c.peerID[:])
	err = c.mainLoop(ctx)
	reached = c.getPhase() == phaseRequesting
	return
}

//run connects to the peer up to DialRetries times and exchanges pieces
//until the connection ends. Attempts that end before the requesting phase
//are retried, unless the peer misbehaved.
func (c *conn) run(ctx context.Context) (err error) {
	defer func() {
		c.setPhase(phaseClosed)
		c.logger.Printf("closed: %v\n\t%s", err, &c.stats)
	}()
	for i := 1; ; i++ {
		var reached bool
		reached, err = c.attempt(ctx)
		if reached || c.s.Complete() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			//the peer had nothing for us
			if c.gotAvailability && !c.s.Wants(c.peerBf) {
				return nil
			}
			err = errClosedEarly
		}
		if isPermanent(err) || i >= c.cfg.DialRetries {
			break
		}
		c.setPhase(phaseDisconnected)
		c.logger.Printf("attempt %d failed: %s", i, err)
		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		case <-c.s.Done():
			return nil
		}
	}
	return fmt.Errorf("peer %s: giving up after %d attempts: %w", c.addr, c.stats.attempts.Load(), err)
}
