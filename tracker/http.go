package tracker

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/anacrolix/torrent/bencode"
)

const defaultAnnounceTimeout = 15 * time.Second

type HTTPTracker struct {
	URL string
	//tracker id returned by a previous announce, if any
	ID []byte
	//Client defaults to http.DefaultClient
	Client *http.Client
}

type httpAnnounceResponse struct {
	Fail        string `bencode:"failure reason"`
	Warning     string `bencode:"warning message"`
	Interval    int32  `bencode:"interval"`
	MinInterval int32  `bencode:"min interval"`
	TrackerID   string `bencode:"tracker id"`
	Complete    int32  `bencode:"complete"`
	Incomplete  int32  `bencode:"incomplete"`
	//either a list of dicts or a compact string - decoded in parse
	RawPeers bencode.Bytes `bencode:"peers"`
	parsed   []Peer        `bencode:"-"`
}

type dictPeer struct {
	ID   string `bencode:"peer id"`
	IP   string `bencode:"ip"`
	Port int    `bencode:"port"`
}

//parse checks if the tracker's response contained a failure reason and
//decodes the peer list, which may be in either the dictionary or the
//compact form. At the end, peers shall not be empty.
func (r *httpAnnounceResponse) parse() error {
	if r.Fail != "" {
		return fmt.Errorf("%w: %s", ErrFailure, r.Fail)
	}
	if len(r.RawPeers) == 0 {
		return ErrNoPeers
	}
	var err error
	if r.RawPeers[0] == 'l' {
		var dps []dictPeer
		if err = bencode.Unmarshal(r.RawPeers, &dps); err != nil {
			return fmt.Errorf("decode peers: %w", err)
		}
		for _, dp := range dps {
			ip := net.ParseIP(dp.IP)
			if ip == nil {
				return fmt.Errorf("IP parse error at peer %q: %q", dp.ID, dp.IP)
			}
			r.parsed = append(r.parsed, Peer{
				ID:   []byte(dp.ID),
				IP:   ip,
				Port: dp.Port,
			})
		}
	} else {
		var compact string
		if err = bencode.Unmarshal(r.RawPeers, &compact); err != nil {
			return fmt.Errorf("decode compact peers: %w", err)
		}
		if r.parsed, err = cheapPeers(compact).peers(); err != nil {
			return err
		}
	}
	if len(r.parsed) == 0 {
		return ErrNoPeers
	}
	return nil
}

func (r *httpAnnounceResponse) announceResp() *AnnounceResp {
	return &AnnounceResp{
		Interval:    r.Interval,
		Leechers:    r.Incomplete,
		Seeders:     r.Complete,
		Peers:       r.parsed,
		MinInterval: r.MinInterval,
		Warning:     r.Warning,
	}
}

func (t *HTTPTracker) Announce(ctx context.Context, r AnnounceReq) (*AnnounceResp, error) {
	HTTPresp, err := t.announce(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("http announce: %w", err)
	}
	if id := HTTPresp.TrackerID; id != "" {
		t.ID = []byte(id)
	}
	return HTTPresp.announceResp(), nil
}

func (t *HTTPTracker) announce(ctx context.Context, r AnnounceReq) (*httpAnnounceResponse, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultAnnounceTimeout)
		defer cancel()
	}
	u, err := r.buildURL(t.URL, t.ID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	benData, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %q", resp.Status)
	}
	var res httpAnnounceResponse
	if err = bencode.Unmarshal(benData, &res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err = res.parse(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r AnnounceReq) buildURL(announceURL string, trackerID []byte) (*url.URL, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, errors.New("only http(s) trackers are supported")
	}
	v := r.queryValues()
	if trackerID != nil {
		v.Set("trackerid", string(trackerID))
	}
	//keep any query the announce url already carries
	for k, vals := range u.Query() {
		for _, val := range vals {
			v.Add(k, val)
		}
	}
	u.RawQuery = v.Encode()
	return u, nil
}

func (r AnnounceReq) queryValues() url.Values {
	v := url.Values{}
	v.Set("info_hash", string(r.InfoHash[:]))
	v.Set("peer_id", string(r.PeerID[:]))
	v.Set("port", strconv.Itoa(r.Port))
	v.Set("uploaded", strconv.FormatInt(r.Uploaded, 10))
	v.Set("downloaded", strconv.FormatInt(r.Downloaded, 10))
	v.Set("left", strconv.FormatInt(r.Left, 10))
	v.Set("compact", "1")
	v.Set("no_peer_id", "1")
	if r.Event != None {
		v.Set("event", events[r.Event])
	}
	if r.Numwant != 0 {
		v.Set("numwant", strconv.Itoa(int(r.Numwant)))
	}
	return v
}
