package torrent

//Stats contains statistics about a Torrent
type Stats struct {
	//Bytes we have downloaded and verified
	Downloaded int64
	//Remainings bytes to download
	Left int64
	//Bytes discarded because of hash failures or released pieces
	Wasted         int64
	PiecesReceived int
	NumPieces      int
	HashFailures   int
	//conns not closed yet
	ActiveConns int
}
