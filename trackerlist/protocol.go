package trackerlist

import (
	"context"
	"net/netip"
)

// AnnounceRequest is the wire-agnostic shape a Tracker hands to its
// protocol collaborator. The wire encoding itself — bencoded HTTP response,
// UDP datagram layout, DHT get_peers/announce_peer — is out of scope for
// this module; Announcer is the abstract boundary the real
// implementations sit behind.
type AnnounceRequest struct {
	Event   Event
	NumWant int32
}

// AnnounceResult is what comes back from a successful announce: a raw peer
// address list, sorted and deduplicated by TrackerList.ReceiveSuccess, not
// by the collaborator.
type AnnounceResult struct {
	Peers []netip.AddrPort
}

// ScrapeResult carries swarm statistics back from a scrape.
type ScrapeResult struct {
	Complete   int64
	Incomplete int64
	Downloaded int64
}

// Announcer is the abstract send/close contract every concrete tracker
// variant (tracker/http, tracker/udp, tracker/dht) implements by delegating
// to its protocol's real wire client. TrackerList and Tracker only ever see
// this interface: the wire formats themselves are external collaborators.
type Announcer interface {
	// Announce performs one announce request. It must return promptly when
	// ctx is cancelled.
	Announce(ctx context.Context, req AnnounceRequest) (AnnounceResult, error)

	// Scrape performs one scrape request. Variants that don't support
	// scraping should not be constructed with FlagCanScrape set;
	// TrackerList.SendScrape never calls Scrape on such a tracker.
	Scrape(ctx context.Context) (ScrapeResult, error)

	// Close aborts any in-flight request. It must be safe to call at any
	// time, including while a DNS lookup or a request is in flight, and
	// must be safe to call multiple times.
	Close()
}
