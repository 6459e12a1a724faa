// Command trackerctl exercises the tracker coordination core end-to-end:
// it builds a Session, inserts the tracker URLs given on the command line,
// sends a "started" announce to each, and prints what came back.
//
// Flag parsing is plain stdlib flag rather than a library like
// github.com/anacrolix/tagflag: CLI argument parsing is outside the tracker
// coordination core's scope, and this command exists only to drive that
// core, not to demonstrate a flag-parsing stack.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/draglop/libtorrent"
	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/trackerlist"
)

// echoWireClient is a demonstration WireClient: it never dials out, it just
// reports success with no peers. A real client would encode/decode the
// bencoded HTTP body or the BEP 15 UDP datagram here.
type echoWireClient struct{}

func (echoWireClient) Announce(ctx context.Context, announceURL string, req trackerlist.AnnounceRequest) (trackerlist.AnnounceResult, error) {
	return trackerlist.AnnounceResult{}, nil
}
func (echoWireClient) Scrape(ctx context.Context, scrapeURL string) (trackerlist.ScrapeResult, error) {
	return trackerlist.ScrapeResult{}, nil
}

type echoUDPWireClient struct{}

func (echoUDPWireClient) Connect(ctx context.Context, host string) (uint64, error) { return 1, nil }
func (echoUDPWireClient) Announce(ctx context.Context, host string, connID uint64, req trackerlist.AnnounceRequest) (trackerlist.AnnounceResult, error) {
	return trackerlist.AnnounceResult{}, nil
}
func (echoUDPWireClient) Scrape(ctx context.Context, host string, connID uint64) (trackerlist.ScrapeResult, error) {
	return trackerlist.ScrapeResult{}, nil
}

func main() {
	wait := flag.Duration("wait", 2*time.Second, "time to wait for announces to settle")
	flag.Parse()

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: trackerctl [-wait=2s] <tracker-url>...")
		os.Exit(2)
	}

	s := libtorrent.New(
		connmgr.New(),
		libtorrent.WithHTTPWireClient(echoWireClient{}),
		libtorrent.WithUDPWireClient(echoUDPWireClient{}),
	)
	s.SetOnPeers(func(ev libtorrent.PeerEvent) {
		log.Printf("received %d peers (%d new)", len(ev.Peers), ev.NewPeers)
	})

	for i, u := range urls {
		if err := s.InsertTrackerURL(uint32(i), u, true); err != nil {
			log.Printf("skipping %s: %v", u, err)
		}
	}

	s.Lock()
	n := s.Trackers().Len()
	s.Unlock()
	log.Printf("session %s tracking %d tracker(s)", s.ID(), n)

	s.Lock()
	for i := 0; i < s.Trackers().Len(); i++ {
		s.Trackers().SendState(s.Trackers().At(i), trackerlist.EventStarted)
	}
	s.Unlock()

	time.Sleep(*wait)

	s.Lock()
	defer s.Unlock()
	for i := 0; i < s.Trackers().Len(); i++ {
		t := s.Trackers().At(i)
		log.Printf("%s: group=%d successes=%d failures=%d busy=%t",
			t.URL(), t.Group(), t.SuccessCounter(), t.FailedCounter(), t.IsBusy())
	}
}
