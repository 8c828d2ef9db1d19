package torrent

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"
)

//connStats are written by the conn's goroutine and read by the status
//writer, hence the atomics.
type connStats struct {
	attempts         atomic.Int32
	requestsSent     atomic.Int64
	blocksDownloaded atomic.Int64
	//bytes of blocks that matched a request
	downloadUsefulBytes atomic.Int64
	//blocks nobody asked for (e.g. after a choke)
	unexpectedBlocks atomic.Int64
	//pieces this conn completed and verified
	goodPieces atomic.Int32
	//pieces this conn completed that failed the hash check
	badPieces atomic.Int32
	//how many pieces the peer claims to have
	peerPieces atomic.Int32
}

func (cs *connStats) onRequest() {
	cs.requestsSent.Inc()
}

func (cs *connStats) onBlockDownload(len int) {
	cs.blocksDownloaded.Inc()
	cs.downloadUsefulBytes.Add(int64(len))
}

func (cs *connStats) String() string {
	return fmt.Sprintf(`bytes downloaded: %s
	requests sent: %d
	blocks downloaded: %d
	good pieces: %d
	bad pieces: %d`, humanize.Bytes(uint64(cs.downloadUsefulBytes.Load())),
		cs.requestsSent.Load(),
		cs.blocksDownloaded.Load(),
		cs.goodPieces.Load(),
		cs.badPieces.Load())
}
