package trackerlist

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draglop/libtorrent/connmgr"
	"github.com/draglop/libtorrent/errs"
)

func newTestAnnouncer(connmgr.Protocol, string) (Announcer, UsableFunc, Flags, error) {
	return &stubAnnouncer{}, alwaysUsable, FlagCanScrape, nil
}

func newTestList(enabler ProtocolEnabler) *TrackerList {
	l := New(enabler, newTestAnnouncer, &noopLocker{})
	l.SetSlotSuccess(func(t *Tracker, peers []netip.AddrPort) int { return len(peers) })
	return l
}

func TestInsertURLOrdersWithinGroup(t *testing.T) {
	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(0, "http://b/announce", false))

	require.Equal(t, 2, l.Len())
	assert.Equal(t, "http://a/announce", l.At(0).URL())
	assert.Equal(t, "http://b/announce", l.At(1).URL())
}

func TestInsertURLGroupOrdering(t *testing.T) {
	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(1, "http://b/announce", false))
	require.NoError(t, l.InsertURL(0, "http://c/announce", false))

	groups := []uint32{l.At(0).Group(), l.At(1).Group(), l.At(2).Group()}
	assert.Equal(t, []uint32{0, 0, 1}, groups)
	assert.Equal(t, "http://a/announce", l.At(0).URL())
	assert.Equal(t, "http://c/announce", l.At(1).URL())
	assert.Equal(t, "http://b/announce", l.At(2).URL())
}

func TestInsertURLUnknownSchemeSilentlyDroppedUnlessExtra(t *testing.T) {
	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "ftp://a/announce", false))
	assert.Equal(t, 0, l.Len())

	err := l.InsertURL(0, "ftp://a/announce", true)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestInsertURLDHTRejectedWhenProtocolDisabled(t *testing.T) {
	l := newTestList(fakeEnabler{dht: false})
	require.NoError(t, l.InsertURL(0, "dht://a/announce", false))
	assert.Equal(t, 0, l.Len())

	err := l.InsertURL(0, "dht://a/announce", true)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestFindNextToRequestSkipsUnusable(t *testing.T) {
	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(0, "http://b/announce", false))

	l.At(0).SetEnabledStatus(StatusOff)

	idx, ok := l.FindNextToRequest(0)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestFindNextToRequestPrefersNeverFailed(t *testing.T) {
	defer withFakeClock(t, 1000)()

	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(0, "http://b/announce", false))

	l.At(0).failedCounter = 3
	l.At(0).failedTimeLast = 1000

	idx, ok := l.FindNextToRequest(0)
	require.True(t, ok)
	assert.Equal(t, 1, idx, "the never-failed tracker should win over one with a pending retry")
}

func TestFindNextToRequestPicksSoonerRetry(t *testing.T) {
	defer withFakeClock(t, 1000)()

	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(0, "http://b/announce", false))

	l.At(0).failedCounter = 1
	l.At(0).failedTimeLast = 500 // next due at 505

	l.At(1).failedCounter = 5
	l.At(1).failedTimeLast = 990 // next due at 1070

	idx, ok := l.FindNextToRequest(0)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestPromoteMovesToFrontOfGroup(t *testing.T) {
	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(0, "http://b/announce", false))
	require.NoError(t, l.InsertURL(0, "http://c/announce", false))

	l.Promote(2)
	assert.Equal(t, "http://c/announce", l.At(0).URL())
}

func TestReceiveSuccessPromotesAndResetsFailedCounter(t *testing.T) {
	defer withFakeClock(t, 2000)()

	var gotNew int
	l := New(fakeEnabler{http: true}, newTestAnnouncer, &noopLocker{})
	l.SetSlotSuccess(func(t *Tracker, peers []netip.AddrPort) int {
		gotNew = len(peers)
		return gotNew
	})
	l.SetSlotFailed(func(t *Tracker, msg string) {})

	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(0, "http://b/announce", false))

	tr := l.At(1)
	tr.failedCounter = 4

	l.ReceiveSuccess(tr, nil)

	assert.EqualValues(t, 0, tr.FailedCounter())
	assert.EqualValues(t, 1, tr.SuccessCounter())
	assert.EqualValues(t, 2000, tr.SuccessTimeLast())
	assert.Equal(t, tr, l.At(0))
	assert.Equal(t, 0, gotNew)
}

func TestReceiveFailedIncrementsCounter(t *testing.T) {
	defer withFakeClock(t, 3000)()

	var message string
	l := New(fakeEnabler{http: true}, newTestAnnouncer, &noopLocker{})
	l.SetSlotSuccess(func(t *Tracker, peers []netip.AddrPort) int { return 0 })
	l.SetSlotFailed(func(t *Tracker, msg string) { message = msg })

	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	tr := l.At(0)

	l.ReceiveFailed(tr, "connection refused")

	assert.EqualValues(t, 1, tr.FailedCounter())
	assert.EqualValues(t, 3000, tr.FailedTimeLast())
	assert.Equal(t, "connection refused", message)
}

func TestSendScrapeRespectsCourtesyWindow(t *testing.T) {
	defer withFakeClock(t, 10_000)()

	l := New(fakeEnabler{http: true}, newTestAnnouncer, &noopLocker{})
	l.SetSlotSuccess(func(t *Tracker, peers []netip.AddrPort) int { return 0 })
	l.SetSlotFailed(func(t *Tracker, msg string) {})

	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	tr := l.At(0)
	tr.scrapeTimeLast = 10_000 - 60 // scraped a minute ago

	l.SendScrape(tr)
	assert.False(t, tr.IsBusy(), "scrape within the ten minute courtesy window must be a no-op")
}

func TestSendScrapeAllowedAfterCourtesyWindow(t *testing.T) {
	defer withFakeClock(t, 10_000)()

	l := New(fakeEnabler{http: true}, newTestAnnouncer, &noopLocker{})
	l.SetSlotSuccess(func(t *Tracker, peers []netip.AddrPort) int { return 0 })
	l.SetSlotFailed(func(t *Tracker, msg string) {})

	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	tr := l.At(0)
	tr.scrapeTimeLast = 10_000 - 700 // well past 10 minutes

	l.SendScrape(tr)
	assert.EqualValues(t, 1, tr.RequestCounter(), "a dispatched scrape bumps the request counter")
}

func TestCycleGroupRotatesFirstToLast(t *testing.T) {
	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(0, "http://b/announce", false))
	require.NoError(t, l.InsertURL(0, "http://c/announce", false))

	l.CycleGroup(0)
	assert.Equal(t, []string{"http://b/announce", "http://c/announce", "http://a/announce"}, urlsOf(l))
}

func TestHasUsableAndCountUsable(t *testing.T) {
	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	require.NoError(t, l.InsertURL(0, "http://b/announce", false))
	l.At(1).SetEnabledStatus(StatusOff)

	assert.True(t, l.HasUsable())
	assert.Equal(t, 1, l.CountUsable())
}

func TestClearStatsResetsCountersNotTimestamps(t *testing.T) {
	l := newTestList(fakeEnabler{http: true})
	require.NoError(t, l.InsertURL(0, "http://a/announce", false))
	tr := l.At(0)
	tr.successCounter = 5
	tr.failedTimeLast = 42

	l.ClearStats()
	assert.EqualValues(t, 0, tr.SuccessCounter())
	assert.EqualValues(t, 42, tr.FailedTimeLast())
}

func urlsOf(l *TrackerList) []string {
	out := make([]string, l.Len())
	for i := 0; i < l.Len(); i++ {
		out[i] = l.At(i).URL()
	}
	return out
}
