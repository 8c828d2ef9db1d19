package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gosuri/uilive"
	"github.com/lkslts64/charo-leech/torrent"
)

const logFileName = "charo.log"

var (
	dir     = flag.String("dir", "", "store the downloaded data at `directory` (default: working directory)")
	port    = flag.Int("port", 6881, "`port` reported to the tracker")
	logFile = flag.String("log", filepath.Join(os.TempDir(), logFileName), "write logs to `file`")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file.torrent\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	f, err := os.Create(*logFile)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	cfg, err := torrent.DefaultConfig()
	if err != nil {
		log.Fatal(err)
	}
	if *dir != "" {
		cfg.BaseDir = *dir
	}
	cfg.Port = *port
	cfg.Logger = log.New(f, "", log.LstdFlags)
	cl, err := torrent.NewClient(cfg)
	if err != nil {
		log.Fatal(err)
	}
	t, err := cl.AddFromFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	errC := make(chan error, 1)
	go func() {
		errC <- t.Run(ctx)
	}()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	w := uilive.New()
	w.Start()
	for {
		select {
		case <-ticker.C:
			t.WriteStatus(w)
		case err = <-errC:
			t.WriteStatus(w)
			w.Stop()
			if cerr := cl.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println("Downloaded torrent!")
			return
		}
	}
}
