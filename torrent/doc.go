/*
Package torrent implements a download-only BitTorrent client.
It is designed to be simple and easy to use. A common workflow is to create a Client,
add a torrent and then download it.

	cl, _ := torrent.NewClient(nil)
	t, _ := cl.AddFromFile("example.torrent")
	if err := t.Run(context.Background()); err != nil {
		log.Fatal(err)
	}
	fmt.Println("torrent downloaded!")

Every peer is served by its own goroutine. The goroutines share a Session
which hands out pieces, verifies them and writes them to storage.
*/
package torrent
