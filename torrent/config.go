package torrent

import (
	"context"
	"crypto/rand"
	"log"
	"net"
	"os"
	"time"

	"github.com/lkslts64/charo-leech/torrent/storage"
	"github.com/spf13/afero"
)

const clientID = "CH"
const version = "0001"

const (
	//the size of a block request. Peers reject requests larger than this.
	defaultRequestSize = 1 << 14
	defaultMaxInflight = 2
)

//Config provides configuration for a Client.
type Config struct {
	//directory to store the data
	BaseDir string
	//port we report to the tracker. We never accept connections.
	Port int
	//zero means generate one
	PeerID [20]byte
	//size of block requests
	RequestSize int
	//max outstanding requests per connection
	MaxInflight int
	DialTimeout time.Duration
	//connection attempts per peer before abandoning it
	DialRetries int
	RetryDelay  time.Duration
	//a request not answered in this duration drops the connection
	RequestTimeout time.Duration
	//how often an idle connection retries picking a piece
	IdleRetry         time.Duration
	KeepAliveInterval time.Duration
	//a peer that sent nothing for this long is dropped
	IdleTimeout time.Duration
	Logger            *log.Logger
	Fs                afero.Fs
	OpenStorage       storage.Open
	//Dial defaults to a net.Dialer dialing tcp
	Dial func(ctx context.Context, addr string) (net.Conn, error)
}

//DefaultConfig Returns the default configuration for a client
func DefaultConfig() (*Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return &Config{
		BaseDir:           dir,
		Port:              6881,
		RequestSize:       defaultRequestSize,
		MaxInflight:       defaultMaxInflight,
		DialTimeout:       10 * time.Second,
		DialRetries:       5,
		RetryDelay:        2 * time.Second,
		RequestTimeout:    time.Minute,
		IdleRetry:         5 * time.Second,
		KeepAliveInterval: 2 * time.Minute,
		IdleTimeout:       3 * time.Minute,
		Logger:            log.New(os.Stderr, "", log.LstdFlags),
		Fs:                afero.NewOsFs(),
		OpenStorage:       storage.OpenFileStorage,
	}, nil
}

//fill zero fields with the defaults
func (cfg *Config) normalize() error {
	def, err := DefaultConfig()
	if err != nil {
		return err
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = def.BaseDir
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.RequestSize <= 0 {
		cfg.RequestSize = def.RequestSize
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = def.MaxInflight
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.DialRetries <= 0 {
		cfg.DialRetries = def.DialRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.IdleRetry <= 0 {
		cfg.IdleRetry = def.IdleRetry
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.Fs == nil {
		cfg.Fs = def.Fs
	}
	if cfg.OpenStorage == nil {
		cfg.OpenStorage = def.OpenStorage
	}
	if cfg.Dial == nil {
		dial := (&net.Dialer{}).DialContext
		cfg.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return dial(ctx, "tcp", addr)
		}
	}
	if cfg.PeerID == [20]byte{} {
		cfg.PeerID = newPeerID()
	}
	return nil
}

const peerIDChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

//newPeerID returns an Azureus-style peer id: -CH0001- followed by 12
//random alphanumerics.
func newPeerID() (id [20]byte) {
	prefix := "-" + clientID + version + "-"
	copy(id[:], prefix)
	random := make([]byte, len(id)-len(prefix))
	if _, err := rand.Read(random); err != nil {
		panic(err)
	}
	for i, b := range random {
		id[len(prefix)+i] = peerIDChars[int(b)%len(peerIDChars)]
	}
	return
}
