package torrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/lkslts64/charo-leech/metainfo"
	"github.com/lkslts64/charo-leech/torrent/storage"
	"github.com/lkslts64/charo-leech/tracker"
)

var errIncomplete = errors.New("all peers finished before the download completed")

//how long we wait for the completed announce
const completedAnnounceTimeout = 10 * time.Second

//Torrent is a single download. One conn per peer runs concurrently against
//the shared Session.
type Torrent struct {
	cl      *Client
	logger  *log.Logger
	mi      *metainfo.Manifest
	session *Session
	storage storage.Storage
	tracker tracker.Tracker
	//protects the fields below
	mu               sync.Mutex
	conns            []*conn
	lastAnnounceResp *tracker.AnnounceResp
	numAnnouncesSend int
}

func newTorrent(cl *Client, mi *metainfo.Manifest, st storage.Storage) *Torrent {
	flags := cl.logger.Flags()
	w := cl.logger.Writer()
	t := &Torrent{
		cl:      cl,
		logger:  log.New(w, fmt.Sprintf("torrent %s ", mi.Name), flags),
		mi:      mi,
		storage: st,
		session: NewSession(mi, cl.config.RequestSize, st, log.New(w, "session ", flags)),
	}
	if mi.Announce != "" {
		t.tracker = &tracker.HTTPTracker{URL: mi.Announce}
	}
	return t
}

//Run announces to the tracker and downloads from the peers it returned.
//It returns nil once every piece is verified and stored.
func (t *Torrent) Run(ctx context.Context) error {
	if t.tracker == nil {
		return errors.New("torrent has no announce url")
	}
	peers, err := t.announce(ctx, tracker.Started)
	if err != nil {
		return err
	}
	addrs := t.filterPeers(peers)
	if len(addrs) == 0 {
		return tracker.ErrNoPeers
	}
	t.logger.Printf("tracker returned %d peers", len(addrs))
	if err = t.RunWithPeers(ctx, addrs...); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), completedAnnounceTimeout)
	defer cancel()
	if _, err := t.announce(ctx, tracker.Completed); err != nil {
		t.logger.Printf("completed announce: %s", err)
	}
	return nil
}

//RunWithPeers downloads from the peers at addrs until the download
//completes, every peer is done or ctx is canceled. Per peer failures don't
//affect the other peers and are returned together only if the download
//didn't complete.
func (t *Torrent) RunWithPeers(ctx context.Context, addrs ...string) error {
	if t.session.Complete() {
		return nil
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		merr *multierror.Error
	)
	for _, addr := range addrs {
		c := newConn(t.cl.config, t.session, t.mi.InfoHash(), addr)
		t.addConn(c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.run(ctx); err != nil {
				c.logger.Println(err)
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if t.session.Complete() {
		t.logger.Printf("download complete (%s)", humanize.Bytes(uint64(t.session.Downloaded())))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", errIncomplete, err)
	}
	return errIncomplete
}

func (t *Torrent) announce(ctx context.Context, event tracker.Event) ([]tracker.Peer, error) {
	resp, err := t.tracker.Announce(ctx, tracker.AnnounceReq{
		InfoHash:   t.mi.InfoHash(),
		PeerID:     t.cl.peerID,
		Downloaded: t.session.Downloaded(),
		Left:       t.session.Left(),
		Event:      event,
		Numwant:    -1,
		Port:       t.cl.config.Port,
	})
	t.mu.Lock()
	defer t.mu.Unlock()
	t.numAnnouncesSend++
	if err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}
	t.lastAnnounceResp = resp
	if resp.Warning != "" {
		t.logger.Printf("tracker warning: %s", resp.Warning)
	}
	return resp.Peers, nil
}

//filterPeers drops ourselves and duplicate addresses.
func (t *Torrent) filterPeers(peers []tracker.Peer) (addrs []string) {
	self, err := outboundIP()
	if err != nil {
		t.logger.Printf("cannot find outbound ip: %s", err)
	}
	seen := make(map[string]struct{})
	for _, p := range peers {
		if self != nil && p.IP.Equal(self) && p.Port == t.cl.config.Port {
			continue
		}
		addr := p.String()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	return
}

func (t *Torrent) addConn(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns = append(t.conns, c)
}

//Done is closed when every piece is verified and stored.
func (t *Torrent) Done() <-chan struct{} {
	return t.session.Done()
}

func (t *Torrent) Manifest() *metainfo.Manifest {
	return t.mi
}

func (t *Torrent) Stats() Stats {
	t.mu.Lock()
	active := 0
	for _, c := range t.conns {
		if c.getPhase() != phaseClosed {
			active++
		}
	}
	t.mu.Unlock()
	return Stats{
		Downloaded:     t.session.Downloaded(),
		Left:           t.session.Left(),
		Wasted:         t.session.Wasted(),
		PiecesReceived: t.session.NumReceived(),
		NumPieces:      t.session.NumPieces(),
		HashFailures:   t.session.HashFailures(),
		ActiveConns:    active,
	}
}

//WriteStatus writes a human readable report of the download and its conns.
func (t *Torrent) WriteStatus(w io.Writer) {
	b := &strings.Builder{}
	t.writeStatus(b)
	w.Write([]byte(b.String()))
}

func (t *Torrent) writeStatus(b *strings.Builder) {
	stats := t.Stats()
	t.mu.Lock()
	defer t.mu.Unlock()
	b.WriteString(fmt.Sprintf("Name: %s\n", t.mi.Name))
	b.WriteString("Tracker: " + t.mi.Announce + "\tAnnounce: " + func() string {
		if t.lastAnnounceResp != nil {
			return "OK"
		}
		return "Not Available"
	}() + "\t#AnnouncesSend: " + strconv.Itoa(t.numAnnouncesSend) + "\n")
	if t.lastAnnounceResp != nil {
		b.WriteString(fmt.Sprintf("Seeders: %d\tLeechers: %d\tInterval: %d(secs)\n",
			t.lastAnnounceResp.Seeders, t.lastAnnounceResp.Leechers, t.lastAnnounceResp.Interval))
	}
	b.WriteString(fmt.Sprintf("Pieces: %d/%d\tHash failures: %d\n", stats.PiecesReceived,
		stats.NumPieces, stats.HashFailures))
	b.WriteString(fmt.Sprintf("Downloaded: %s\tRemaining: %s\tWasted: %s\n",
		humanize.Bytes(uint64(stats.Downloaded)), humanize.Bytes(uint64(stats.Left)),
		humanize.Bytes(uint64(stats.Wasted))))
	b.WriteString(fmt.Sprintf("Connected to %d peers\n", stats.ActiveConns))
	tabWriter := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tabWriter, "Address\tState\t%\tDown\tGood\tBad\t")
	for _, c := range t.conns {
		fmt.Fprintf(tabWriter, "%s\t%s\t%s\t%s\t%d\t%d\t\n", c.addr, c.getPhase(),
			strconv.Itoa(int(float64(c.stats.peerPieces.Load())/float64(stats.NumPieces)*100))+"%",
			humanize.Bytes(uint64(c.stats.downloadUsefulBytes.Load())),
			c.stats.goodPieces.Load(),
			c.stats.badPieces.Load())
	}
	tabWriter.Flush()
}

//Close releases the torrent's storage.
func (t *Torrent) Close() error {
	return t.storage.Close()
}
