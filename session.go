// Package libtorrent is the tracker coordination core of a BitTorrent
// client: one Session per download owns a Connection Manager and a
// TrackerList behind a single global lock, and dispatches announces and
// scrapes through the http, udp and dht tracker variants.
package libtorrent

import (
	"fmt"
	"net/netip"

	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"github.com/google/uuid"

	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/errs"
	tdht "github.com/draglop/libtorrent/tracker/dht"
	thttp "github.com/draglop/libtorrent/tracker/http"
	tudp "github.com/draglop/libtorrent/tracker/udp"
	"github.com/draglop/libtorrent/trackerlist"
)

var logger = log.Default.WithNames("libtorrent")

// PeerEvent reports a newly-announced peer set for the session's consumer
// (e.g. a peer connection manager this module doesn't implement).
type PeerEvent struct {
	Peers    []netip.AddrPort
	NewPeers int
}

// Session owns the tracker coordination state for a single download: its
// Connection Manager, its TrackerList, and the global lock both share.
// Session.Lock/Unlock is what DNS resolution releases around the system
// strategy's blocking call, and what Tracker's send/scrape completion
// goroutines reacquire to deliver results.
type Session struct {
	id uuid.UUID

	mu      sync.RWMutex
	connMgr *connmgr.Manager
	list    *trackerlist.TrackerList

	onPeers func(PeerEvent)
}

// Option configures a Session's protocol collaborators at construction.
type Option func(*sessionConfig)

type sessionConfig struct {
	httpWire thttp.WireClient
	udpWire  tudp.WireClient
	dhtRouter tdht.Router
}

func WithHTTPWireClient(c thttp.WireClient) Option {
	return func(cfg *sessionConfig) { cfg.httpWire = c }
}

func WithUDPWireClient(c tudp.WireClient) Option {
	return func(cfg *sessionConfig) { cfg.udpWire = c }
}

func WithDHTRouter(r tdht.Router) Option {
	return func(cfg *sessionConfig) { cfg.dhtRouter = r }
}

// New builds a Session around connMgr. Any protocol variant whose wire
// collaborator isn't supplied rejects InsertURL calls of that scheme with
// errs.ErrUnsupported, returned by InsertURL for extra and non-extra
// trackers alike.
func New(connMgr *connmgr.Manager, opts ...Option) *Session {
	var cfg sessionConfig
	for _, o := range opts {
		o(&cfg)
	}

	s := &Session{
		id:      uuid.New(),
		connMgr: connMgr,
	}
	s.list = trackerlist.New(connMgr, s.newAnnouncer(cfg), &s.mu)
	s.list.SetSlotSuccess(s.receivePeers)
	s.list.SetSlotFailed(func(t *trackerlist.Tracker, msg string) {
		logger.Printf("tracker failed (url:%s msg:%s)", t.URL(), msg)
	})

	return s
}

func (s *Session) newAnnouncer(cfg sessionConfig) trackerlist.NewAnnouncerFunc {
	return func(variant connmgr.Protocol, rawurl string) (trackerlist.Announcer, trackerlist.UsableFunc, trackerlist.Flags, error) {
		switch variant {
		case connmgr.ProtocolHTTP:
			if cfg.httpWire == nil {
				return noWireClient(rawurl)
			}
			return thttp.NewAnnouncer(cfg.httpWire)(variant, rawurl)
		case connmgr.ProtocolUDP:
			if cfg.udpWire == nil {
				return noWireClient(rawurl)
			}
			return tudp.NewAnnouncer(cfg.udpWire)(variant, rawurl)
		case connmgr.ProtocolDHT:
			if cfg.dhtRouter == nil {
				return noWireClient(rawurl)
			}
			return tdht.NewAnnouncer(cfg.dhtRouter)(variant, rawurl)
		default:
			return noWireClient(rawurl)
		}
	}
}

func noWireClient(rawurl string) (trackerlist.Announcer, trackerlist.UsableFunc, trackerlist.Flags, error) {
	return nil, nil, 0, fmt.Errorf("%w: no wire client configured for %s", errs.ErrUnsupported, rawurl)
}

func (s *Session) receivePeers(t *trackerlist.Tracker, peers []netip.AddrPort) int {
	if s.onPeers == nil {
		return len(peers)
	}
	s.onPeers(PeerEvent{Peers: peers, NewPeers: len(peers)})
	return len(peers)
}

// ID is the session's runtime identity, independent of any torrent info
// hash — used for request logging and diagnostics only.
func (s *Session) ID() uuid.UUID { return s.id }

// Lock/Unlock expose the session's global coordination lock: every
// TrackerList and Tracker method is only safe to call while held. It is
// released only by the Connection Manager's DNS resolver, around the
// system strategy's blocking call, and reacquired by a tracker's
// background send/scrape goroutine when it delivers its result.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) ConnMgr() *connmgr.Manager     { return s.connMgr }
func (s *Session) Trackers() *trackerlist.TrackerList { return s.list }

// SetOnPeers installs the callback invoked with every new peer set a
// tracker announce yields.
func (s *Session) SetOnPeers(f func(PeerEvent)) { s.onPeers = f }

// InsertTrackerURL adds one tracker, locking for the duration. extra
// matches trackerlist.InsertURL's "user-added vs metadata-derived"
// distinction.
func (s *Session) InsertTrackerURL(group uint32, rawurl string, extra bool) error {
	s.Lock()
	defer s.Unlock()
	return s.list.InsertURL(group, rawurl, extra)
}

// SendState requests an announce for t with the given event, locking for
// the duration of the policy check and dispatch (the network call itself
// runs unlocked in a goroutine; see trackerlist.Tracker.sendState).
func (s *Session) SendState(t *trackerlist.Tracker, event trackerlist.Event) {
	s.Lock()
	defer s.Unlock()
	s.list.SendState(t, event)
}

// SendScrape requests a scrape for t.
func (s *Session) SendScrape(t *trackerlist.Tracker) {
	s.Lock()
	defer s.Unlock()
	s.list.SendScrape(t)
}

// Close stops every tracker except those whose latest event is in
// excludingEvents, for session shutdown after a "stopped" announce wave.
func (s *Session) Close(excludingEvents uint32) {
	s.Lock()
	defer s.Unlock()
	s.list.CloseAllExcluding(excludingEvents)
}
