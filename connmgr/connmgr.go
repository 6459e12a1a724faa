// Package connmgr implements the Connection Manager: global network policy
// shared by every tracker in a session — bind/local/proxy
// addresses, buffer sizes, per-protocol enablement, encryption options, the
// listener, and the DNS resolver hook that trackers call through.
package connmgr

import (
	"fmt"
	"net/netip"

	"github.com/anacrolix/log"

	"github.com/draglop/libtorrent/dns"
	"github.com/draglop/libtorrent/errs"
)

// Protocol is a tracker's wire variant, and doubles as the key into the
// Connection Manager's per-protocol enablement bitset.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolUDP
	ProtocolDHT

	numProtocols = 3
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolUDP:
		return "udp"
	case ProtocolDHT:
		return "dht"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// EncryptionOptions is a bitset of negotiation preferences. The concrete
// bits are opaque to this layer; it only gates whether they may be set at
// all (EncryptionCompiledIn).
type EncryptionOptions uint32

const (
	EncryptionNone EncryptionOptions = 0
)

// IPPriority mirrors the original's IP-type-of-service priority knob.
type IPPriority int

const (
	PriorityDefault IPPriority = iota
	PriorityLowDelay
	PriorityThroughput
	PriorityReliability
)

// IPFilter is the optional per-connection accept/reject hook. The default
// (nil) accepts everything, matching slot_filter's documented default.
type IPFilter func(addr netip.AddrPort) uint32

var logger = log.Default.WithNames("connmgr")

// Manager is the process-lifetime-singleton-by-convention network policy
// object shared by every tracker. It is not internally synchronized: like
// the tracker list, every method assumes the caller holds the session's
// global lock.
type Manager struct {
	bindAddress  netip.Addr
	localAddress netip.Addr
	proxyAddress netip.Addr

	maxSize            uint32
	sendBufferSize     uint32
	receiveBufferSize  uint32
	priority           IPPriority
	encryptionOptions  EncryptionOptions
	encryptionCompiled bool

	protocolEnabled [numProtocols]bool

	networkActive bool

	listenBacklog int
	listener      Listener

	filter IPFilter

	resolver *dns.Resolver
}

// Option configures a Manager at construction. Kept as a functional option
// (rather than a mutable-after-the-fact struct literal) because several
// fields — encryptionCompiled in particular — are build-time capabilities
// that shouldn't be reachable through the ordinary setters.
type Option func(*Manager)

// WithEncryptionCompiled marks encryption support as compiled in, letting
// SetEncryptionOptions succeed instead of returning ErrUnsupported.
func WithEncryptionCompiled() Option {
	return func(m *Manager) { m.encryptionCompiled = true }
}

// WithListener overrides the default TCPListener, e.g. with a fake in tests.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listener = l }
}

const defaultListenBacklog = 128

// New builds a Manager with HTTP and UDP enabled, DHT disabled, network
// active, and the system DNS strategy.
func New(opts ...Option) *Manager {
	m := &Manager{
		listenBacklog: defaultListenBacklog,
		listener:      NewTCPListener(),
		networkActive: true,
		resolver:      dns.NewResolver(),
	}
	m.protocolEnabled[ProtocolHTTP] = true
	m.protocolEnabled[ProtocolUDP] = true
	m.protocolEnabled[ProtocolDHT] = false

	for _, opt := range opts {
		opt(m)
	}

	m.resolver.SetNetworkActiveFunc(m.NetworkActiveGet)
	return m
}

// Resolver returns the DNS resolver hook trackers call through.
func (m *Manager) Resolver() *dns.Resolver { return m.resolver }

func requireIPv4(addr netip.Addr) error {
	if !addr.IsValid() || !addr.Is4() {
		return errs.ErrInvalidArgument
	}
	return nil
}

func (m *Manager) SetBindAddress(addr netip.Addr) error {
	if err := requireIPv4(addr); err != nil {
		return err
	}
	m.bindAddress = addr
	return nil
}

func (m *Manager) BindAddress() netip.Addr { return m.bindAddress }

func (m *Manager) SetLocalAddress(addr netip.Addr) error {
	if err := requireIPv4(addr); err != nil {
		return err
	}
	m.localAddress = addr
	return nil
}

func (m *Manager) LocalAddress() netip.Addr { return m.localAddress }

func (m *Manager) SetProxyAddress(addr netip.Addr) error {
	if err := requireIPv4(addr); err != nil {
		return err
	}
	m.proxyAddress = addr
	return nil
}

func (m *Manager) ProxyAddress() netip.Addr { return m.proxyAddress }

// DNSServerSet installs a custom nameserver, or reverts to the system
// strategy for the zero value. It's a thin pass-through to the resolver, but
// lives on Manager too since embedders configure DNS alongside the rest of
// network policy (matches ConnectionManager::dns_server_set in the
// original).
func (m *Manager) DNSServerSet(addr netip.AddrPort) error {
	return m.resolver.ServerSet(addr)
}

func (m *Manager) SetMaxSize(v uint32)           { m.maxSize = v }
func (m *Manager) MaxSize() uint32               { return m.maxSize }
func (m *Manager) SetSendBufferSize(v uint32)    { m.sendBufferSize = v }
func (m *Manager) SendBufferSize() uint32        { return m.sendBufferSize }
func (m *Manager) SetReceiveBufferSize(v uint32) { m.receiveBufferSize = v }
func (m *Manager) ReceiveBufferSize() uint32     { return m.receiveBufferSize }
func (m *Manager) SetPriority(p IPPriority)      { m.priority = p }
func (m *Manager) Priority() IPPriority          { return m.priority }

func (m *Manager) SetEncryptionOptions(opts EncryptionOptions) error {
	if !m.encryptionCompiled {
		return errs.ErrUnsupported
	}
	m.encryptionOptions = opts
	return nil
}

func (m *Manager) EncryptionOptions() EncryptionOptions { return m.encryptionOptions }

func (m *Manager) ProtocolEnabledGet(p Protocol) bool { return m.protocolEnabled[p] }

func (m *Manager) SetProtocolEnabled(p Protocol, enabled bool) {
	m.protocolEnabled[p] = enabled
}

func (m *Manager) NetworkActiveGet() bool { return m.networkActive }
func (m *Manager) SetNetworkActive(v bool) { m.networkActive = v }

func (m *Manager) SetFilter(f IPFilter) { m.filter = f }

// Filter runs the configured IP filter, defaulting to "accept" (returns 1)
// when none is set.
func (m *Manager) Filter(addr netip.AddrPort) uint32 {
	if m.filter == nil {
		return 1
	}
	return m.filter(addr)
}

func (m *Manager) SetListenBacklog(v int) error {
	if v < 1 || v > 65535 {
		return errs.ErrInvalidArgument
	}
	if m.listener.IsOpen() {
		return errs.ErrInvalidArgument
	}
	m.listenBacklog = v
	return nil
}

func (m *Manager) ListenBacklog() int { return m.listenBacklog }

func (m *Manager) ListenOpen(lo, hi int) error {
	if err := m.listener.Open(lo, hi, m.listenBacklog, m.bindAddress); err != nil {
		return err
	}
	logger.Printf("listening on port %d", m.listener.Port())
	return nil
}

func (m *Manager) ListenClose() error { return m.listener.Close() }
func (m *Manager) ListenPort() int    { return m.listener.Port() }
func (m *Manager) IsListening() bool  { return m.listener.IsOpen() }
