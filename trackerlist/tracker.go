package trackerlist

import (
	"context"
	"strings"

	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/errs"
	"github.com/draglop/libtorrent/internal/clock"
)

const (
	defaultNormalInterval = 1800 // seconds
	defaultMinInterval    = 600  // seconds
)

// UsableFunc is the variant-defined predicate behind Tracker.IsUsable: URL
// well-formed, not disowned, DHT server active, and so on. Each concrete
// variant constructor supplies its own.
type UsableFunc func() bool

// Tracker is the abstract per-tracker entity. It is owned by
// exactly one TrackerList; Group, Close, Disown and the enabled tri-state
// are all mediated through that owning list via the non-owning back
// reference established at insertion.
type Tracker struct {
	group    uint32
	url      string
	variant  connmgr.Protocol
	flags    Flags
	enabled  EnabledStatus

	normalInterval int64 // seconds
	minInterval    int64 // seconds

	latestEvent Event

	successCounter uint32
	failedCounter  uint32
	scrapeCounter  uint32
	requestCounter uint32

	latestNewPeers int
	latestSumPeers int

	scrapeComplete   int64
	scrapeIncomplete int64
	scrapeDownloaded int64

	successTimeLast int64
	failedTimeLast  int64
	scrapeTimeLast  int64
	requestTimeLast int64

	busy     bool
	disowned bool

	client  Announcer
	usable  UsableFunc
	list    *TrackerList // non-owning back reference, set by TrackerList.Insert
	cancel  context.CancelFunc
}

// NewTracker constructs a tracker of the given variant around client, the
// external protocol collaborator. usable is the variant-specific half of
// IsUsable (e.g. "URL parsed cleanly"); the protocol-enablement half is
// resolved by TrackerList.IsUsable using the Connection Manager.
func NewTracker(url string, variant connmgr.Protocol, flags Flags, client Announcer, usable UsableFunc) *Tracker {
	return &Tracker{
		url:             url,
		variant:         variant,
		flags:           flags,
		enabled:         StatusUndefined,
		normalInterval:  defaultNormalInterval,
		minInterval:     defaultMinInterval,
		latestEvent:     EventNone,
		requestTimeLast: clock.Now(),
		client:          client,
		usable:          usable,
	}
}

func (t *Tracker) Group() uint32            { return t.group }
func (t *Tracker) URL() string               { return t.url }
func (t *Tracker) Variant() connmgr.Protocol { return t.variant }
func (t *Tracker) Flags() Flags              { return t.flags }
func (t *Tracker) LatestEvent() Event        { return t.latestEvent }

func (t *Tracker) EnabledStatus() EnabledStatus { return t.enabled }

// SetEnabledStatus changes the tri-state. Unchanged is a no-op; a
// transition to Off closes the tracker; either way the owning list is
// notified so it can fire the enabled/disabled callback.
func (t *Tracker) SetEnabledStatus(status EnabledStatus) {
	if status == t.enabled {
		return
	}

	old := t.enabled
	t.enabled = status

	if status == StatusOff {
		t.Close()
	}

	if t.list != nil {
		t.list.receiveTrackerEnabledChange(t, old, status)
	}
}

// IsUsable reports the variant-defined usability predicate only. Protocol
// enablement is resolved one layer up, by TrackerList.IsUsable, since it
// needs the Connection Manager.
func (t *Tracker) IsUsable() bool {
	if t.disowned || t.usable == nil {
		return false
	}
	return t.usable()
}

func (t *Tracker) IsBusy() bool { return t.busy }

// IsBusyNotScrape reports whether the in-flight request, if any, is
// something other than a scrape.
func (t *Tracker) IsBusyNotScrape() bool { return t.busy && t.latestEvent != EventScrape }

// CanRequestState reports eligibility for a non-scrape announce: simply
// "not already busy with something".
func (t *Tracker) CanRequestState() bool { return !t.busy }

func (t *Tracker) CanScrape() bool { return t.flags&FlagCanScrape != 0 }

func (t *Tracker) SuccessCounter() uint32 { return t.successCounter }
func (t *Tracker) FailedCounter() uint32  { return t.failedCounter }
func (t *Tracker) ScrapeCounter() uint32  { return t.scrapeCounter }
func (t *Tracker) RequestCounter() uint32 { return t.requestCounter }

func (t *Tracker) LatestNewPeers() int { return t.latestNewPeers }
func (t *Tracker) LatestSumPeers() int { return t.latestSumPeers }

func (t *Tracker) ScrapeComplete() int64   { return t.scrapeComplete }
func (t *Tracker) ScrapeIncomplete() int64 { return t.scrapeIncomplete }
func (t *Tracker) ScrapeDownloaded() int64 { return t.scrapeDownloaded }

func (t *Tracker) SuccessTimeLast() int64 { return t.successTimeLast }
func (t *Tracker) FailedTimeLast() int64  { return t.failedTimeLast }
func (t *Tracker) ScrapeTimeLast() int64  { return t.scrapeTimeLast }
func (t *Tracker) RequestTimeLast() int64 { return t.requestTimeLast }

func (t *Tracker) NormalInterval() int64         { return t.normalInterval }
func (t *Tracker) SetNormalInterval(seconds int64) { t.normalInterval = seconds }
func (t *Tracker) MinInterval() int64            { return t.minInterval }
func (t *Tracker) SetMinInterval(seconds int64)  { t.minInterval = seconds }

// SuccessTimeNext is when the next regular announce becomes due, or 0 if
// there has never been a success.
func (t *Tracker) SuccessTimeNext() int64 {
	if t.successCounter == 0 {
		return 0
	}
	return t.successTimeLast + t.normalInterval
}

// FailedTimeNext is when the next retry becomes due after a failure, or 0
// if there has never been a failure. The backoff is 5 * 2^min(n-1, 6)
// seconds: 5, 10, 20, 40, 80, 160, 320, capped at 320.
func (t *Tracker) FailedTimeNext() int64 {
	if t.failedCounter == 0 {
		return 0
	}
	shift := t.failedCounter - 1
	if shift > 6 {
		shift = 6
	}
	return t.failedTimeLast + int64(5<<shift)
}

// ScrapeURLFrom derives a scrape URL from an announce URL: the last path
// segment must be exactly "announce" (optionally followed by a query
// string); it is replaced with "scrape". Any other shape is rejected.
func ScrapeURLFrom(url string) (string, error) {
	slash := strings.LastIndex(url, "/")
	if slash < 0 {
		return "", errs.ErrInvalidArgument
	}
	rest := url[slash+1:]
	if rest != "announce" && !strings.HasPrefix(rest, "announce?") {
		return "", errs.ErrInvalidArgument
	}
	return url[:slash+1] + "scrape" + rest[len("announce"):], nil
}

// IncRequestCounter enforces the ≤10-requests-per-10-seconds throttle: the
// counter decays by one per second since the last request, then increments.
// Reaching 10 is a broken invariant
// (some caller bypassed TrackerList's send policies), not a recoverable
// error.
func (t *Tracker) IncRequestCounter() {
	now := clock.Now()
	elapsed := now - t.requestTimeLast
	if elapsed < 0 {
		elapsed = 0
	}
	if uint64(elapsed) >= uint64(t.requestCounter) {
		t.requestCounter = 0
	} else {
		t.requestCounter -= uint32(elapsed)
	}
	t.requestCounter++
	t.requestTimeLast = now

	panicif.True(t.requestCounter >= 10)
}

// sendState dispatches a non-scrape announce to the protocol collaborator
// in the background, and delivers the result back into the owning list
// under its lock once the collaborator returns. Policy checks (busy, usable,
// throttling) live in TrackerList.SendState; by the time this is called the
// send is authorized.
func (t *Tracker) sendState(event Event) {
	t.latestEvent = event
	t.busy = true

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go func() {
		res, err := t.client.Announce(ctx, AnnounceRequest{Event: event})

		list := t.list
		if list == nil {
			return
		}
		list.Lock()
		defer list.Unlock()

		t.busy = false
		if t.disowned {
			return
		}
		if err != nil {
			list.ReceiveFailed(t, err.Error())
		} else {
			list.ReceiveSuccess(t, res.Peers)
		}
	}()
}

// sendScrape mirrors sendState for scrape requests.
func (t *Tracker) sendScrape() {
	t.latestEvent = EventScrape
	t.busy = true

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go func() {
		res, err := t.client.Scrape(ctx)

		list := t.list
		if list == nil {
			return
		}
		list.Lock()
		defer list.Unlock()

		t.busy = false
		if t.disowned {
			return
		}
		if err != nil {
			list.ReceiveScrapeFailed(t, err.Error())
			return
		}
		t.scrapeComplete = res.Complete
		t.scrapeIncomplete = res.Incomplete
		t.scrapeDownloaded = res.Downloaded
		list.ReceiveScrapeSuccess(t)
	}()
}

// Close aborts any in-flight request. Safe at any point, including while a
// DNS lookup is in flight (the context cancellation propagates into
// whichever protocol collaborator is blocked on it). Close never mutates
// counters.
func (t *Tracker) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	t.client.Close()
}

// Disown detaches the tracker from its list. Any completion that arrives
// after Disown is dropped by the sendState/sendScrape callback goroutines.
// Disown never mutates counters.
func (t *Tracker) Disown() {
	t.disowned = true
	t.Close()
}

// ClearStats zeroes the latest-peers and attempt counters without touching
// timestamps or the enabled tri-state. Mirrors the original's bulk-reset
// entry point used when a torrent restarts a session.
func (t *Tracker) ClearStats() {
	t.latestNewPeers = 0
	t.latestSumPeers = 0
	t.successCounter = 0
	t.failedCounter = 0
	t.scrapeCounter = 0
}
