package trackerlist

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/internal/clock"
)

type stubAnnouncer struct {
	announceResult AnnounceResult
	announceErr    error
	scrapeResult   ScrapeResult
	scrapeErr      error
	closed         bool
}

func (s *stubAnnouncer) Announce(ctx context.Context, req AnnounceRequest) (AnnounceResult, error) {
	return s.announceResult, s.announceErr
}
func (s *stubAnnouncer) Scrape(ctx context.Context) (ScrapeResult, error) {
	return s.scrapeResult, s.scrapeErr
}
func (s *stubAnnouncer) Close() { s.closed = true }

func alwaysUsable() bool { return true }

func withFakeClock(t *testing.T, now int64) func() {
	t.Helper()
	orig := clock.Now
	clock.Now = func() int64 { return now }
	return func() { clock.Now = orig }
}

func TestEnabledStatusRoundTrip(t *testing.T) {
	cases := []struct {
		raw  int64
		want EnabledStatus
	}{
		{0, StatusOff},
		{1, StatusOn},
		{2, StatusUndefined},
		{-5, StatusUndefined},
		{99, StatusUndefined},
	}
	for _, c := range cases {
		got := EnabledStatusFromInt64(c.raw)
		assert.Equal(t, c.want, got)
	}
	assert.EqualValues(t, 0, StatusOff.ToInt64())
	assert.EqualValues(t, 1, StatusOn.ToInt64())
	assert.EqualValues(t, 2, StatusUndefined.ToInt64())
}

func TestScrapeURLFromPlainAnnounce(t *testing.T) {
	got, err := ScrapeURLFrom("http://example.com/announce")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/scrape", got)
}

func TestScrapeURLFromAnnounceWithQuery(t *testing.T) {
	got, err := ScrapeURLFrom("http://example.com/announce?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/scrape?x=1", got)
}

func TestScrapeURLFromRejectsOtherShapes(t *testing.T) {
	_, err := ScrapeURLFrom("http://example.com/other")
	require.Error(t, err)

	_, err = ScrapeURLFrom("not-a-url")
	require.Error(t, err)

	_, err = ScrapeURLFrom("http://example.com/announcement")
	require.Error(t, err)
}

func TestFailedTimeNextBackoffCapsAtSeventh(t *testing.T) {
	defer withFakeClock(t, 1000)()

	tr := NewTracker("http://x/announce", connmgr.ProtocolHTTP, 0, &stubAnnouncer{}, alwaysUsable)
	assert.EqualValues(t, 0, tr.FailedTimeNext())

	tr.failedTimeLast = 1000
	tr.failedCounter = 1
	assert.EqualValues(t, 1005, tr.FailedTimeNext())

	tr.failedCounter = 6
	assert.EqualValues(t, 1000+5*32, tr.FailedTimeNext())

	tr.failedCounter = 7
	seventh := tr.FailedTimeNext()
	tr.failedCounter = 8
	eighth := tr.FailedTimeNext()
	assert.Equal(t, seventh, eighth)
}

func TestSuccessTimeNextZeroBeforeFirstSuccess(t *testing.T) {
	tr := NewTracker("http://x/announce", connmgr.ProtocolHTTP, 0, &stubAnnouncer{}, alwaysUsable)
	assert.EqualValues(t, 0, tr.SuccessTimeNext())

	tr.successCounter = 1
	tr.successTimeLast = 100
	tr.normalInterval = 1800
	assert.EqualValues(t, 1900, tr.SuccessTimeNext())
}

func TestIncRequestCounterFatalAfterTen(t *testing.T) {
	defer withFakeClock(t, 100)()

	tr := NewTracker("http://x/announce", connmgr.ProtocolHTTP, 0, &stubAnnouncer{}, alwaysUsable)
	assert.Panics(t, func() {
		for i := 0; i < 10; i++ {
			tr.IncRequestCounter()
		}
	})
}

func TestIncRequestCounterDecaysWithElapsedTime(t *testing.T) {
	restore := withFakeClock(t, 100)
	defer restore()

	tr := NewTracker("http://x/announce", connmgr.ProtocolHTTP, 0, &stubAnnouncer{}, alwaysUsable)
	for i := 0; i < 9; i++ {
		tr.IncRequestCounter()
	}
	assert.EqualValues(t, 9, tr.RequestCounter())

	clock.Now = func() int64 { return 109 }
	tr.IncRequestCounter()
	assert.EqualValues(t, 1, tr.RequestCounter())
}

func TestSetEnabledStatusClosesOnOff(t *testing.T) {
	client := &stubAnnouncer{}
	tr := NewTracker("http://x/announce", connmgr.ProtocolHTTP, 0, client, alwaysUsable)
	tr.SetEnabledStatus(StatusOff)
	assert.True(t, client.closed)
	assert.Equal(t, StatusOff, tr.EnabledStatus())
}

func TestSetEnabledStatusNoOpWhenUnchanged(t *testing.T) {
	tr := NewTracker("http://x/announce", connmgr.ProtocolHTTP, 0, &stubAnnouncer{}, alwaysUsable)
	tr.enabled = StatusOn
	tr.SetEnabledStatus(StatusOn)
	assert.Equal(t, StatusOn, tr.EnabledStatus())
}

func TestDisownClosesClient(t *testing.T) {
	list := New(fakeEnabler{http: true}, nil, &noopLocker{})
	list.SetSlotSuccess(func(t *Tracker, peers []netip.AddrPort) int { return len(peers) })
	list.SetSlotFailed(func(t *Tracker, msg string) {})

	client := &stubAnnouncer{announceResult: AnnounceResult{Peers: nil}}
	tr := NewTracker("http://x/announce", connmgr.ProtocolHTTP, 0, client, alwaysUsable)
	list.Insert(0, tr)

	tr.Disown()
	assert.True(t, client.closed)
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

type fakeEnabler struct {
	http, udp, dht bool
}

func (f fakeEnabler) ProtocolEnabledGet(p connmgr.Protocol) bool {
	switch p {
	case connmgr.ProtocolHTTP:
		return f.http
	case connmgr.ProtocolUDP:
		return f.udp
	case connmgr.ProtocolDHT:
		return f.dht
	default:
		return false
	}
}
