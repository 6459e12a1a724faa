// Package dht implements the DHT tracker variant (tracker_dht.cc): peer
// discovery through the distributed hash table rather than a central
// server. It never supports scraping, and its usability
// depends on the DHT node actually being bootstrapped ("active"), not just
// globally allowed.
package dht

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/errs"
	"github.com/draglop/libtorrent/trackerlist"
)

var logger = log.Default.WithNames("tracker", "dht")

const announceInterval = 20 * 60 // seconds, per tracker_dht's send_state

// Router is the DHT node's announce surface. A real implementation wraps
// *dht.Server (github.com/anacrolix/dht/v2); Active reports whether the
// node is bootstrapped, distinct from connmgr's global DHT-protocol
// enablement, which trackerlist.IsUsable already checks.
type Router interface {
	Active() bool
	Announce(ctx context.Context) ([]krpc.NodeAddr, error)
	CancelAnnounce()
}

// Tracker adapts a Router to trackerlist.Announcer. There is one per
// torrent, not per DHT node: cancel_announce targets this tracker's
// in-flight search specifically.
type Tracker struct {
	router Router
}

// New wraps router. It takes no URL, since DHT trackers never parse one: the
// dht:// scheme carries no host, only the intent to use the node's routing
// table for this download.
func New(router Router) (*Tracker, trackerlist.Flags, error) {
	if router == nil {
		return nil, 0, fmt.Errorf("%w: dht tracker requires a router", errs.ErrInvalidArgument)
	}
	// DHT trackers never scrape (tracker_dht.cc has no scrape path).
	return &Tracker{router: router}, 0, nil
}

// NewAnnouncer is the trackerlist.NewAnnouncerFunc entry for the DHT
// variant.
func NewAnnouncer(router Router) func(variant connmgr.Protocol, rawurl string) (trackerlist.Announcer, trackerlist.UsableFunc, trackerlist.Flags, error) {
	return func(variant connmgr.Protocol, rawurl string) (trackerlist.Announcer, trackerlist.UsableFunc, trackerlist.Flags, error) {
		t, flags, err := New(router)
		if err != nil {
			return nil, nil, 0, err
		}
		return t, t.isUsable, flags, nil
	}
}

// isUsable additionally requires the node be bootstrapped, beyond
// trackerlist's own "is DHT globally enabled" check.
func (t *Tracker) isUsable() bool { return t.router.Active() }

// Announce mirrors TrackerDht::send_state: a DHT node that isn't active
// yet fails immediately rather than attempting the search. Announce does not
// change the tracker's interval; the fixed 20 minute post-success interval
// is only exposed through AnnounceInterval.
func (t *Tracker) Announce(ctx context.Context, req trackerlist.AnnounceRequest) (trackerlist.AnnounceResult, error) {
	if req.Event == trackerlist.EventStopped {
		return trackerlist.AnnounceResult{}, nil
	}

	if !t.router.Active() {
		return trackerlist.AnnounceResult{}, fmt.Errorf("%w: dht server not active", errs.ErrUnsupported)
	}

	logger.WithDefaultLevel(log.Debug).Printf("announcing via dht [event:%s]", req.Event)

	addrs, err := t.router.Announce(ctx)
	if err != nil {
		return trackerlist.AnnounceResult{}, err
	}

	peers := make([]netip.AddrPort, 0, len(addrs))
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		peers = append(peers, netip.AddrPortFrom(addr, uint16(a.Port)))
	}
	return trackerlist.AnnounceResult{Peers: peers}, nil
}

func (t *Tracker) Scrape(ctx context.Context) (trackerlist.ScrapeResult, error) {
	panicif.True(true) // CanScrape is never set for dht trackers; TrackerList.SendScrape must not reach here.
	return trackerlist.ScrapeResult{}, nil
}

func (t *Tracker) Close() {
	t.router.CancelAnnounce()
}

// AnnounceInterval is the fixed post-success interval tracker_dht.cc sets;
// exposed so the session can apply it to the tracker after a successful
// DHT announce, overriding its default normal interval.
func AnnounceInterval() int64 { return announceInterval }
