// Package trackerlist implements the ordered, group-partitioned tracker
// container and its selection/dispatch policy — the core of the tracker
// coordination subsystem.
package trackerlist

import (
	"crypto/rand"
	"fmt"
	rand2 "math/rand/v2"
	"net/netip"
	"sort"
	"strings"
	"sync"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"

	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/errs"
	"github.com/draglop/libtorrent/internal/clock"
)

var logger = log.Default.WithNames("trackerlist")

// ProtocolEnabler is the sliver of the Connection Manager TrackerList
// depends on: whether a protocol is globally enabled. Satisfied
// structurally by *connmgr.Manager.
type ProtocolEnabler interface {
	ProtocolEnabledGet(p connmgr.Protocol) bool
}

// NewAnnouncerFunc constructs the concrete variant for a scheme-matched URL:
// the Announcer collaborator, the variant-specific usability predicate, and
// the flags (notably FlagCanScrape) the variant should carry. TrackerList
// never imports tracker/http, tracker/udp or tracker/dht directly — this
// factory, supplied by the session at construction, is the seam.
type NewAnnouncerFunc func(variant connmgr.Protocol, rawurl string) (Announcer, UsableFunc, Flags, error)

// SuccessSlot receives a successful announce's deduplicated peer list and
// returns how many of those peers were new.
type SuccessSlot func(t *Tracker, peers []netip.AddrPort) int

// FailedSlot receives a failed announce's error message.
type FailedSlot func(t *Tracker, message string)

// ScrapeSuccessSlot and ScrapeFailedSlot are optional.
type ScrapeSuccessSlot func(t *Tracker)
type ScrapeFailedSlot func(t *Tracker, message string)

// TrackerEnabledSlot fires when a tracker transitions to/from effectively
// enabled.
type TrackerEnabledSlot func(t *Tracker)

// TrackerList is the ordered, group-partitioned sequence of trackers
// belonging to one download session. It is not internally synchronized:
// every method here assumes the caller holds the session's global lock,
// which is also what Lock/Unlock expose to Tracker's async dispatch
// goroutines.
type TrackerList struct {
	trackers []*Tracker

	connMgr      ProtocolEnabler
	newAnnouncer NewAnnouncerFunc
	locker       sync.Locker

	slotSuccess         SuccessSlot
	slotFailed          FailedSlot
	slotScrapeSuccess   g.Option[ScrapeSuccessSlot]
	slotScrapeFailed    g.Option[ScrapeFailedSlot]
	slotTrackerEnabled  g.Option[TrackerEnabledSlot]
	slotTrackerDisabled g.Option[TrackerEnabledSlot]
}

// New builds an empty TrackerList. locker is the session's global lock;
// it's only ever unlocked by the DNS resolver's system strategy and
// relocked by Tracker's send/scrape completion goroutines — TrackerList
// itself never releases it.
func New(connMgr ProtocolEnabler, newAnnouncer NewAnnouncerFunc, locker sync.Locker) *TrackerList {
	return &TrackerList{
		connMgr:      connMgr,
		newAnnouncer: newAnnouncer,
		locker:       locker,
	}
}

func (l *TrackerList) Lock()   { l.locker.Lock() }
func (l *TrackerList) Unlock() { l.locker.Unlock() }

func (l *TrackerList) SetSlotSuccess(s SuccessSlot) { l.slotSuccess = s }
func (l *TrackerList) SetSlotFailed(s FailedSlot)   { l.slotFailed = s }
func (l *TrackerList) SetSlotScrapeSuccess(s ScrapeSuccessSlot) {
	l.slotScrapeSuccess = g.Some(s)
}
func (l *TrackerList) SetSlotScrapeFailed(s ScrapeFailedSlot) {
	l.slotScrapeFailed = g.Some(s)
}
func (l *TrackerList) SetSlotTrackerEnabled(s TrackerEnabledSlot) {
	l.slotTrackerEnabled = g.Some(s)
}
func (l *TrackerList) SetSlotTrackerDisabled(s TrackerEnabledSlot) {
	l.slotTrackerDisabled = g.Some(s)
}

func (l *TrackerList) Len() int { return len(l.trackers) }

func (l *TrackerList) At(i int) *Tracker { return l.trackers[i] }

// SizeGroup is the number of groups: the last tracker's group plus one, or
// zero if the list is empty.
func (l *TrackerList) SizeGroup() uint32 {
	if len(l.trackers) == 0 {
		return 0
	}
	return l.trackers[len(l.trackers)-1].group + 1
}

// BeginGroup returns the index of the first tracker whose group is at least
// group: the start of group if it has trackers, otherwise the first tracker
// of a later group, or Len() if there is none.
func (l *TrackerList) BeginGroup(group uint32) int {
	for i, t := range l.trackers {
		if t.group >= group {
			return i
		}
	}
	return len(l.trackers)
}

// EndGroup returns the index just past the last tracker in group.
func (l *TrackerList) EndGroup(group uint32) int {
	for i, t := range l.trackers {
		if t.group > group {
			return i
		}
	}
	return len(l.trackers)
}

// Insert places tracker at the end of group, setting its group field and
// back-reference, and fires the tracker-enabled callback if it's currently
// enabled.
func (l *TrackerList) Insert(group uint32, t *Tracker) int {
	t.group = group
	t.list = l

	idx := l.EndGroup(group)
	l.trackers = append(l.trackers, nil)
	copy(l.trackers[idx+1:], l.trackers[idx:])
	l.trackers[idx] = t

	if l.isEffectivelyEnabled(t) {
		if l.slotTrackerEnabled.Ok {
			l.slotTrackerEnabled.Value(t)
		}
	}

	return idx
}

// InsertURL parses url's scheme and inserts a tracker of the matching
// variant into group. extra marks a user-added tracker (not from torrent
// metadata): an unrecognized scheme is a silent, logged drop for a
// non-extra tracker, but an error for an extra one.
func (l *TrackerList) InsertURL(group uint32, rawurl string, extra bool) error {
	variant, ok := schemeVariant(rawurl)
	if !ok {
		logger.Printf("could not find matching tracker protocol (url:%s)", rawurl)
		if extra {
			return fmt.Errorf("%w: could not find matching tracker protocol (url:%s)", errs.ErrInvalidArgument, rawurl)
		}
		return nil
	}

	if variant == connmgr.ProtocolDHT && !l.connMgr.ProtocolEnabledGet(connmgr.ProtocolDHT) {
		logger.Printf("dht tracker rejected, dht not globally allowed (url:%s)", rawurl)
		if extra {
			return fmt.Errorf("%w: dht not globally allowed (url:%s)", errs.ErrInvalidArgument, rawurl)
		}
		return nil
	}

	flags := Flags(0)
	if extra {
		flags |= FlagExtraTracker
	}

	client, usable, variantFlags, err := l.newAnnouncer(variant, rawurl)
	if err != nil {
		return err
	}

	t := NewTracker(rawurl, variant, flags|variantFlags, client, usable)
	logger.Printf("added tracker (group:%d url:%s)", group, rawurl)
	l.Insert(group, t)
	return nil
}

func schemeVariant(rawurl string) (connmgr.Protocol, bool) {
	switch {
	case strings.HasPrefix(rawurl, "http://"), strings.HasPrefix(rawurl, "https://"):
		return connmgr.ProtocolHTTP, true
	case strings.HasPrefix(rawurl, "udp://"):
		return connmgr.ProtocolUDP, true
	case strings.HasPrefix(rawurl, "dht://"):
		return connmgr.ProtocolDHT, true
	default:
		return 0, false
	}
}

// FindURL returns the first tracker with an exact URL match.
func (l *TrackerList) FindURL(url string) (*Tracker, bool) {
	for _, t := range l.trackers {
		if t.url == url {
			return t, true
		}
	}
	return nil, false
}

// FindUsable scans forward from start for the next tracker passing
// IsUsable, or returns Len() if none remain.
func (l *TrackerList) FindUsable(start int) int {
	for i := start; i < len(l.trackers); i++ {
		if l.IsUsable(l.trackers[i]) {
			return i
		}
	}
	return len(l.trackers)
}

// IsUsable resolves the enabled tri-state against the Connection Manager's
// per-protocol enablement: On always defers to the variant, Off is always
// unusable, and Undefined defers to the variant only if its protocol is
// globally enabled.
func (l *TrackerList) IsUsable(t *Tracker) bool {
	var usable bool
	switch t.EnabledStatus() {
	case StatusOn:
		usable = t.IsUsable()
	case StatusOff:
		usable = false
	default: // StatusUndefined
		usable = l.connMgr.ProtocolEnabledGet(t.variant) && t.IsUsable()
	}
	logger.WithDefaultLevel(log.Debug).Printf("is usable check [%v] for [group: %d] [url: %s]", usable, t.group, t.url)
	return usable
}

func (l *TrackerList) canRequest(t *Tracker) bool {
	return l.IsUsable(t) && t.CanRequestState()
}

// FindNextToRequest implements the tracker selection policy: the
// first usable, request-eligible tracker from start is the initial
// candidate. If it has never failed, it's returned immediately. Otherwise
// the remainder of the list is scanned for a better candidate: the first
// healthy tracker ends the scan, replacing the candidate only if its next
// regular announce is due before the candidate's retry; a failed tracker
// whose retry is due sooner replaces the candidate and the scan continues.
func (l *TrackerList) FindNextToRequest(start int) (int, bool) {
	idx := start
	for idx < len(l.trackers) && !l.canRequest(l.trackers[idx]) {
		idx++
	}
	if idx >= len(l.trackers) {
		return 0, false
	}

	candidate := l.trackers[idx]
	if candidate.FailedCounter() == 0 {
		return idx, true
	}

	for j := idx + 1; j < len(l.trackers); j++ {
		other := l.trackers[j]
		if !l.canRequest(other) {
			continue
		}

		if other.FailedCounter() != 0 {
			if other.FailedTimeNext() < candidate.FailedTimeNext() {
				idx, candidate = j, other
			}
			continue
		}

		if other.SuccessTimeNext() < candidate.FailedTimeNext() {
			idx, candidate = j, other
		}
		break
	}

	return idx, true
}

// Promote swaps tracker idx to the front of its group, after a successful
// announce. Failing to find the group's start is a broken invariant: it
// can only happen if idx's group field disagrees with the list's sort
// order.
func (l *TrackerList) Promote(idx int) int {
	group := l.trackers[idx].group
	first := l.BeginGroup(group)
	panicif.True(first >= len(l.trackers))

	l.trackers[first], l.trackers[idx] = l.trackers[idx], l.trackers[first]
	return first
}

// CycleGroup rotates one position within group: the first tracker becomes
// the last. Used after a group is exhausted without success so the next
// attempt starts with a different tracker.
func (l *TrackerList) CycleGroup(group uint32) {
	start := l.BeginGroup(group)
	if start >= len(l.trackers) || l.trackers[start].group != group {
		return
	}
	end := l.EndGroup(group)

	first := l.trackers[start]
	copy(l.trackers[start:end-1], l.trackers[start+1:end])
	l.trackers[end-1] = first
}

// RandomizeGroupEntries shuffles each group independently with a
// cryptographically-seeded PRNG, to diffuse load at session start.
func (l *TrackerList) RandomizeGroupEntries() {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		logger.Printf("crypto/rand seed failed, falling back to an unseeded shuffle: %v", err)
	}
	src := rand2.NewChaCha8(seed)

	i := 0
	for i < len(l.trackers) {
		group := l.trackers[i].group
		j := l.EndGroup(group)
		shuffleSlice(l.trackers[i:j], src)
		i = j
	}
}

func shuffleSlice(s []*Tracker, src *rand2.ChaCha8) {
	r := rand2.New(src)
	r.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// CloseAllExcluding closes every tracker whose latest event bit is not set
// in eventBitmap.
func (l *TrackerList) CloseAllExcluding(eventBitmap uint32) {
	for _, t := range l.trackers {
		if eventBitmap&t.latestEvent.Bit() != 0 {
			continue
		}
		t.Close()
	}
}

// DisownAllIncluding disowns every tracker whose latest event bit is set in
// eventBitmap.
func (l *TrackerList) DisownAllIncluding(eventBitmap uint32) {
	for _, t := range l.trackers {
		if eventBitmap&t.latestEvent.Bit() != 0 {
			t.Disown()
		}
	}
}

// Clear detaches and discards every tracker.
func (l *TrackerList) Clear() {
	for _, t := range l.trackers {
		t.list = nil
	}
	l.trackers = nil
}

// ClearStats resets every tracker's attempt counters.
func (l *TrackerList) ClearStats() {
	for _, t := range l.trackers {
		t.ClearStats()
	}
}

func (l *TrackerList) HasActive() bool {
	for _, t := range l.trackers {
		if t.IsBusy() {
			return true
		}
	}
	return false
}

func (l *TrackerList) HasActiveNotScrape() bool {
	for _, t := range l.trackers {
		if t.IsBusyNotScrape() {
			return true
		}
	}
	return false
}

func (l *TrackerList) HasActiveInGroup(group uint32) bool {
	for i := l.BeginGroup(group); i < l.EndGroup(group); i++ {
		if l.trackers[i].IsBusy() {
			return true
		}
	}
	return false
}

func (l *TrackerList) HasActiveNotScrapeInGroup(group uint32) bool {
	for i := l.BeginGroup(group); i < l.EndGroup(group); i++ {
		if l.trackers[i].IsBusyNotScrape() {
			return true
		}
	}
	return false
}

func (l *TrackerList) HasUsable() bool {
	for _, t := range l.trackers {
		if l.IsUsable(t) {
			return true
		}
	}
	return false
}

func (l *TrackerList) CountActive() int {
	n := 0
	for _, t := range l.trackers {
		if t.IsBusy() {
			n++
		}
	}
	return n
}

func (l *TrackerList) CountUsable() int {
	n := 0
	for _, t := range l.trackers {
		if l.IsUsable(t) {
			n++
		}
	}
	return n
}

// SendState dispatches a non-scrape announce. It is a silent no-op if the
// tracker isn't usable or newEvent is Scrape. A tracker busy with a scrape
// is interrupted in favour of the new announce; one busy with anything else
// is left alone.
func (l *TrackerList) SendState(t *Tracker, newEvent Event) {
	if !l.IsUsable(t) || newEvent == EventScrape {
		return
	}

	if t.IsBusy() {
		if t.LatestEvent() != EventScrape {
			return
		}
		t.Close()
	}

	logger.Printf("sending [%s] to [group: %d] [url: %s]", newEvent, t.group, t.url)

	t.sendState(newEvent)
	t.IncRequestCounter()
}

const scrapeCourtesyInterval = 10 * 60 // seconds

// SendScrape dispatches a scrape. It is a silent no-op if the tracker is
// busy, not usable, not scrape-capable, or was scraped within the last ten
// minutes — a global courtesy policy enforced here rather than on the
// tracker, since it has nothing to do with any one tracker's own state.
func (l *TrackerList) SendScrape(t *Tracker) {
	if t.IsBusy() || !l.IsUsable(t) || !t.CanScrape() {
		return
	}
	if t.ScrapeTimeLast()+scrapeCourtesyInterval > clock.Now() {
		return
	}

	logger.Printf("sending 'scrape' (group:%d url:%s)", t.group, t.url)

	t.sendScrape()
	t.IncRequestCounter()
}

func (l *TrackerList) mustFind(t *Tracker) {
	for _, cand := range l.trackers {
		if cand == t {
			return
		}
	}
	panicif.True(true)
}

// ReceiveSuccess processes a successful announce: promotes the tracker,
// sorts and deduplicates the peer list, updates counters, and invokes the
// user's success callback.
func (l *TrackerList) ReceiveSuccess(t *Tracker, peers []netip.AddrPort) {
	l.mustFind(t)
	panicif.True(t.IsBusy())

	idx := indexOf(l.trackers, t)
	l.Promote(idx)

	peers = sortDedupPeers(peers)

	logger.Printf("received %d peers (url:%s)", len(peers), t.url)

	t.successTimeLast = clock.Now()
	t.successCounter++
	t.failedCounter = 0

	t.latestSumPeers = len(peers)
	t.latestNewPeers = l.slotSuccess(t, peers)
}

// ReceiveFailed processes a failed announce.
func (l *TrackerList) ReceiveFailed(t *Tracker, message string) {
	l.mustFind(t)
	panicif.True(t.IsBusy())

	logger.Printf("failed to connect to tracker (url:%s msg:%s)", t.url, message)

	t.failedTimeLast = clock.Now()
	t.failedCounter++
	l.slotFailed(t, message)
}

// ReceiveScrapeSuccess processes a successful scrape.
func (l *TrackerList) ReceiveScrapeSuccess(t *Tracker) {
	l.mustFind(t)
	panicif.True(t.IsBusy())

	logger.Printf("received scrape from tracker (url:%s)", t.url)

	t.scrapeTimeLast = clock.Now()
	t.scrapeCounter++

	if l.slotScrapeSuccess.Ok {
		l.slotScrapeSuccess.Value(t)
	}
}

// ReceiveScrapeFailed processes a failed scrape.
func (l *TrackerList) ReceiveScrapeFailed(t *Tracker, message string) {
	l.mustFind(t)
	panicif.True(t.IsBusy())

	logger.Printf("failed to scrape tracker (url:%s msg:%s)", t.url, message)

	if l.slotScrapeFailed.Ok {
		l.slotScrapeFailed.Value(t, message)
	}
}

func (l *TrackerList) isEffectivelyEnabled(t *Tracker) bool {
	switch t.EnabledStatus() {
	case StatusOn:
		return true
	case StatusOff:
		return false
	default:
		return l.connMgr.ProtocolEnabledGet(t.variant)
	}
}

// receiveTrackerEnabledChange is called by Tracker.SetEnabledStatus. It
// determines whether the effective enabled state flipped and fires the
// matching list-level callback; if protocol disablement is what pushed an
// Undefined tracker to effectively disabled, it also closes the tracker.
func (l *TrackerList) receiveTrackerEnabledChange(t *Tracker, previous, current EnabledStatus) {
	logger.WithDefaultLevel(log.Debug).Printf(
		"receiving tracker enabled change [old: %v] [new: %v] for [group: %d] [url: %s]",
		previous, current, t.group, t.url)

	protocolOn := l.connMgr.ProtocolEnabledGet(t.variant)
	wasOn := previous == StatusOn || (previous == StatusUndefined && protocolOn)
	isOn := current == StatusOn || (current == StatusUndefined && protocolOn)

	if wasOn && current == StatusUndefined && !protocolOn {
		t.Close()
	}

	if isOn == wasOn {
		return
	}

	if isOn {
		if l.slotTrackerEnabled.Ok {
			l.slotTrackerEnabled.Value(t)
		}
	} else {
		if l.slotTrackerDisabled.Ok {
			l.slotTrackerDisabled.Value(t)
		}
	}
}

func indexOf(trackers []*Tracker, t *Tracker) int {
	for i, cand := range trackers {
		if cand == t {
			return i
		}
	}
	panicif.True(true)
	return -1
}

func sortDedupPeers(peers []netip.AddrPort) []netip.AddrPort {
	sort.Slice(peers, func(i, j int) bool { return addrPortLess(peers[i], peers[j]) })
	out := peers[:0]
	for i, p := range peers {
		if i == 0 || p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

func addrPortLess(a, b netip.AddrPort) bool {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c < 0
	}
	return a.Port() < b.Port()
}
