package connmgr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draglop/libtorrent/errs"
)

func TestSetBindAddressRejectsIPv6(t *testing.T) {
	m := New()
	err := m.SetBindAddress(netip.MustParseAddr("::1"))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSetBindAddressAcceptsIPv4(t *testing.T) {
	m := New()
	addr := netip.MustParseAddr("127.0.0.1")
	require.NoError(t, m.SetBindAddress(addr))
	assert.Equal(t, addr, m.BindAddress())
}

func TestEncryptionOptionsRequireCompiledSupport(t *testing.T) {
	m := New()
	err := m.SetEncryptionOptions(EncryptionOptions(1))
	require.ErrorIs(t, err, errs.ErrUnsupported)

	m2 := New(WithEncryptionCompiled())
	require.NoError(t, m2.SetEncryptionOptions(EncryptionOptions(1)))
}

func TestListenBacklogRange(t *testing.T) {
	m := New()
	require.ErrorIs(t, m.SetListenBacklog(0), errs.ErrInvalidArgument)
	require.ErrorIs(t, m.SetListenBacklog(70000), errs.ErrInvalidArgument)
	require.NoError(t, m.SetListenBacklog(50))
	assert.Equal(t, 50, m.ListenBacklog())
}

type fakeListener struct {
	open bool
	port int
}

func (f *fakeListener) Open(lo, hi, backlog int, bindAddr netip.Addr) error {
	f.open = true
	f.port = lo
	return nil
}
func (f *fakeListener) Close() error   { f.open = false; return nil }
func (f *fakeListener) IsOpen() bool   { return f.open }
func (f *fakeListener) Port() int      { return f.port }

func TestListenBacklogCannotChangeWhileOpen(t *testing.T) {
	fl := &fakeListener{}
	m := New(WithListener(fl))
	require.NoError(t, m.ListenOpen(6881, 6889))
	require.ErrorIs(t, m.SetListenBacklog(10), errs.ErrInvalidArgument)
}

func TestProtocolEnabledDefaults(t *testing.T) {
	m := New()
	assert.True(t, m.ProtocolEnabledGet(ProtocolHTTP))
	assert.True(t, m.ProtocolEnabledGet(ProtocolUDP))
	assert.False(t, m.ProtocolEnabledGet(ProtocolDHT))
}

func TestFilterDefaultsToAccept(t *testing.T) {
	m := New()
	assert.EqualValues(t, 1, m.Filter(netip.MustParseAddrPort("1.2.3.4:80")))
}

func TestDNSServerSetDelegatesToResolver(t *testing.T) {
	m := New()
	err := m.DNSServerSet(netip.MustParseAddrPort("[::1]:53"))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}
