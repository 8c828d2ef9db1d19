package torrent

//connState holds the choke/interest flags of the download direction.
//We never upload so the amChoking/isInterested pair is not tracked.
type connState struct {
	amInterested bool
	isChoking    bool
}

func newConnState() connState {
	return connState{
		isChoking: true,
	}
}

//canDownload reports whether requests may be sent to the peer.
func (cs *connState) canDownload() bool {
	return !cs.isChoking && cs.amInterested
}

//connPhase is the position of a conn in its lifecycle. Any phase may go
//back to phaseDisconnected when an attempt fails.
type connPhase int32

const (
	phaseDisconnected connPhase = iota
	phaseConnecting
	phaseHandshakeSent
	phaseNegotiating
	phaseRequesting
	//terminal
	phaseClosed
)

var phaseNames = [...]string{
	phaseDisconnected:  "disconnected",
	phaseConnecting:    "connecting",
	phaseHandshakeSent: "handshake sent",
	phaseNegotiating:   "negotiating",
	phaseRequesting:    "requesting",
	phaseClosed:        "closed",
}

func (p connPhase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
