package torrent

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/lkslts64/charo-leech/metainfo"
)

//Client manages multiple torrents
type Client struct {
	config *Config
	peerID [20]byte
	logger *log.Logger
	mu     sync.Mutex
	//keyed by info hash
	torrents map[[20]byte]*Torrent
}

//NewClient creats a fresh new Client with the provided configuration.
//Use `NewClient(nil)` for the default configuration. Zero fields of cfg
//are filled with their defaults.
func NewClient(cfg *Config) (*Client, error) {
	var err error
	if cfg == nil {
		if cfg, err = DefaultConfig(); err != nil {
			return nil, err
		}
	}
	if err = cfg.normalize(); err != nil {
		return nil, err
	}
	cl := &Client{
		config:   cfg,
		peerID:   cfg.PeerID,
		torrents: make(map[[20]byte]*Torrent),
	}
	logPrefix := fmt.Sprintf("client%x ", cl.peerID[14:len(cl.peerID)]) //last 6 bytes of peerID
	cl.logger = log.New(cfg.Logger.Writer(), logPrefix, cfg.Logger.Flags())
	return cl, nil
}

//AddFromFile creates a torrent based on the contents of filename.
func (cl *Client) AddFromFile(filename string) (*Torrent, error) {
	mi, err := metainfo.LoadMetainfoFile(filename)
	if err != nil {
		return nil, err
	}
	return cl.AddManifest(mi)
}

//AddManifest creates a torrent for mi and opens its storage.
func (cl *Client) AddManifest(mi *metainfo.Manifest) (*Torrent, error) {
	if err := mi.Parse(); err != nil {
		return nil, err
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	ihash := mi.InfoHash()
	if _, ok := cl.torrents[ihash]; ok {
		return nil, errors.New("torrent already exists")
	}
	st, err := cl.config.OpenStorage(cl.config.Fs, cl.config.BaseDir, mi.Name, mi.TotalLength(), cl.logger)
	if err != nil {
		return nil, err
	}
	t := newTorrent(cl, mi, st)
	cl.torrents[ihash] = t
	return t, nil
}

//Remove closes the torrent with infohash `infohash` and forgets it.
func (cl *Client) Remove(infohash [20]byte) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	t, ok := cl.torrents[infohash]
	if !ok {
		return errors.New("torrent doesn't exist")
	}
	delete(cl.torrents, infohash)
	return t.Close()
}

//Torrents returns all torrents that the client manages.
func (cl *Client) Torrents() []*Torrent {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	ts := []*Torrent{}
	for _, t := range cl.torrents {
		ts = append(ts, t)
	}
	return ts
}

//PeerID returns the id we send at handshakes and announces.
func (cl *Client) PeerID() [20]byte {
	return cl.peerID
}

//Close removes every torrent of the client.
func (cl *Client) Close() error {
	var merr *multierror.Error
	for _, t := range cl.Torrents() {
		if err := cl.Remove(t.mi.InfoHash()); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
