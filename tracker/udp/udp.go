// Package udp implements the UDP tracker variant (BEP 15). The
// datagram encoding itself is delegated to a WireClient, same as the http
// package; what this package owns is connection-ID caching and the
// connect-request throttle, since those are specific to the UDP variant's
// own state, not the wire format.
package udp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anacrolix/log"
	"golang.org/x/time/rate"

	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/errs"
	"github.com/draglop/libtorrent/trackerlist"
)

var logger = log.Default.WithNames("tracker", "udp")

// connectionIDLifetime is BEP 15's validity window for a connect response.
const connectionIDLifetime = time.Minute

// WireClient performs the UDP connect/announce/scrape round trips for one
// tracker host. A real implementation dials net.Dial("udp", ...) and
// encodes/decodes BEP 15 datagrams; Connect is split out so this package
// can cache and rate-limit it independently of Announce/Scrape.
type WireClient interface {
	Connect(ctx context.Context, host string) (connID uint64, err error)
	Announce(ctx context.Context, host string, connID uint64, req trackerlist.AnnounceRequest) (trackerlist.AnnounceResult, error)
	Scrape(ctx context.Context, host string, connID uint64) (trackerlist.ScrapeResult, error)
}

// Tracker adapts a WireClient to trackerlist.Announcer, caching the BEP 15
// connection ID for one minute and throttling fresh connect requests to
// match the wire protocol's own backoff expectations.
type Tracker struct {
	host string
	wire WireClient

	limiter *rate.Limiter

	connID       uint64
	connIDIssued time.Time
}

// New validates rawurl's scheme and host. UDP trackers have no standard
// scrape-URL derivation (BEP 15 scrapes the same host), so FlagCanScrape is
// always set.
func New(rawurl string, wire WireClient) (*Tracker, trackerlist.Flags, error) {
	if !strings.HasPrefix(rawurl, "udp://") {
		return nil, 0, fmt.Errorf("%w: not a udp url: %s", errs.ErrInvalidArgument, rawurl)
	}
	host := strings.TrimPrefix(rawurl, "udp://")
	if idx := strings.IndexAny(host, "/?"); idx >= 0 {
		host = host[:idx]
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		return nil, 0, fmt.Errorf("%w: %s", errs.ErrInvalidArgument, err)
	}

	t := &Tracker{
		host: host,
		wire: wire,
		// BEP 15 connect requests back off to roughly one every 15 seconds
		// on failure; one token every 15s with a burst of 1 keeps a
		// misbehaving caller from hammering the tracker with connects.
		limiter: rate.NewLimiter(rate.Every(15*time.Second), 1),
	}
	return t, trackerlist.FlagCanScrape, nil
}

// NewAnnouncer is the trackerlist.NewAnnouncerFunc entry for the UDP
// variant.
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

// getConnID returns the cached connection ID if it's still within its
// lifetime, else obtains a fresh one, waiting on the connect-request
// limiter first.
func (t *Tracker) getConnID(ctx context.Context) (uint64, error) {
	if !t.connIDIssued.IsZero() && time.Since(t.connIDIssued) < connectionIDLifetime {
		return t.connID, nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	id, err := t.wire.Connect(ctx, t.host)
	if err != nil {
		return 0, err
	}
	t.connID = id
	t.connIDIssued = time.Now()
	return id, nil
}

func (t *Tracker) Announce(ctx context.Context, req trackerlist.AnnounceRequest) (trackerlist.AnnounceResult, error) {
	connID, err := t.getConnID(ctx)
	if err != nil {
		return trackerlist.AnnounceResult{}, err
	}
	logger.WithDefaultLevel(log.Debug).Printf("announcing [event:%s] to %s", req.Event, t.host)
	return t.wire.Announce(ctx, t.host, connID, req)
}

func (t *Tracker) Scrape(ctx context.Context) (trackerlist.ScrapeResult, error) {
	connID, err := t.getConnID(ctx)
	if err != nil {
		return trackerlist.ScrapeResult{}, err
	}
	return t.wire.Scrape(ctx, t.host, connID)
}

func (t *Tracker) Close() {}
