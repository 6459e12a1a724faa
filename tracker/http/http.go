// Package http implements the HTTP/HTTPS tracker variant: parsing and
// validating announce URLs, deriving the scrape URL, and dispatching
// through a caller-supplied wire client.
//
// The actual request/response encoding (bencoded dictionaries, compact peer
// lists, BEP 7 IPv6 peers) is out of scope for the tracker coordination
// core: WireClient is the seam a real HTTP/bencode implementation sits
// behind.
package http

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/anacrolix/log"

	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/errs"
	"github.com/draglop/libtorrent/trackerlist"
)

var logger = log.Default.WithNames("tracker", "http")

// WireClient performs the actual HTTP round trip and bencode decode for one
// announce URL. Real implementations dial out over net/http; tests supply a
// stub.
type WireClient interface {
	Announce(ctx context.Context, announceURL string, req trackerlist.AnnounceRequest) (trackerlist.AnnounceResult, error)
	Scrape(ctx context.Context, scrapeURL string) (trackerlist.ScrapeResult, error)
}

// Tracker adapts a WireClient to trackerlist.Announcer for one announce URL,
// deriving and caching the scrape URL up front so CanScrape reflects
// whether this URL even has one.
type Tracker struct {
	announceURL string
	scrapeURL   string
	canScrape   bool
	wire        WireClient
}

// New validates rawurl's scheme (http/https) and derives its scrape URL.
// It does not itself decide whether scraping is supported in the abstract —
// trackerlist.FlagCanScrape, returned alongside, reflects whether
// ScrapeURLFrom succeeded.
func New(rawurl string, wire WireClient) (*Tracker, trackerlist.Flags, error) {
	if !strings.HasPrefix(rawurl, "http://") && !strings.HasPrefix(rawurl, "https://") {
		return nil, 0, fmt.Errorf("%w: not an http(s) url: %s", errs.ErrInvalidArgument, rawurl)
	}
	if _, err := url.Parse(rawurl); err != nil {
		return nil, 0, fmt.Errorf("%w: %s", errs.ErrInvalidArgument, err)
	}

	t := &Tracker{announceURL: rawurl, wire: wire}

	scrapeURL, err := trackerlist.ScrapeURLFrom(rawurl)
	if err == nil {
		t.scrapeURL = scrapeURL
		t.canScrape = true
	}

	flags := trackerlist.Flags(0)
	if t.canScrape {
		flags |= trackerlist.FlagCanScrape
	}
	return t, flags, nil
}

// NewAnnouncer is the trackerlist.NewAnnouncerFunc entry for the HTTP
// variant: it's wired into trackerlist.New by the session alongside the UDP
// and DHT constructors.
func NewAnnouncer(wire WireClient) func(variant connmgr.Protocol, rawurl string) (trackerlist.Announcer, trackerlist.UsableFunc, trackerlist.Flags, error) {
	return func(variant connmgr.Protocol, rawurl string) (trackerlist.Announcer, trackerlist.UsableFunc, trackerlist.Flags, error) {
		t, flags, err := New(rawurl, wire)
		if err != nil {
			return nil, nil, 0, err
		}
		return t, t.isUsable, flags, nil
	}
}

func (t *Tracker) isUsable() bool { return true }

func (t *Tracker) Announce(ctx context.Context, req trackerlist.AnnounceRequest) (trackerlist.AnnounceResult, error) {
	logger.WithDefaultLevel(log.Debug).Printf("announcing [event:%s] to %s", req.Event, t.announceURL)
	return t.wire.Announce(ctx, t.announceURL, req)
}

func (t *Tracker) Scrape(ctx context.Context) (trackerlist.ScrapeResult, error) {
	if !t.canScrape {
		return trackerlist.ScrapeResult{}, fmt.Errorf("%w: no scrape url for %s", errs.ErrUnsupported, t.announceURL)
	}
	return t.wire.Scrape(ctx, t.scrapeURL)
}

func (t *Tracker) Close() {}
