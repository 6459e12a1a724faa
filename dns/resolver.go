// Package dns implements the synchronous, caching hostname resolver
// consumed by tracker protocol implementations. Resolution
// blocks the calling goroutine; the only concession to the "don't stall the
// session" requirement is ResolveLocked, which releases a caller-supplied
// lock around the system strategy's blocking call, exactly as the original
// dns_manager.cc releases the global lock around getaddrinfo.
package dns

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/anacrolix/log"
	"github.com/rs/dnscache"

	"github.com/draglop/libtorrent/errs"
)

// Family mirrors the address family half of the (host, family, socktype)
// cache key; we don't use syscall constants since only the two practical
// values matter at this layer.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// SockType mirrors the socket type half of the cache key. Trackers care
// about this because a UDP tracker and an HTTP tracker resolving the same
// host are logically distinct lookups in the original design.
type SockType int

const (
	SockStream SockType = iota
	SockDgram
)

var logger = log.Default.WithNames("dns")

// Callback receives the resolved address (invalid if err != nil) and the
// raw resolve error. It is invoked synchronously from Resolve/ResolveLocked.
type Callback func(addr netip.Addr, err error)

// Resolver is the DNS subsystem of one Connection Manager. It holds no lock
// of its own: callers are expected to serialize access with the session's
// global lock, same as the rest of the tracker core.
type Resolver struct {
	enabled       bool
	networkActive func() bool

	cache *cache

	customServer netip.AddrPort // zero value means "use the system strategy"

	sys *dnscache.Resolver // system lookup primitive; see DESIGN.md for why its own cache is unused

	mu sync.Mutex // guards only the read of sys in resolveSystem, not resolver state in general
}

// NewResolver builds a Resolver using the system strategy by default, with
// the DNS subsystem enabled and no network-active gate (always on unless the
// embedder wires one through SetNetworkActiveFunc).
func NewResolver() *Resolver {
	return &Resolver{
		enabled:       true,
		networkActive: func() bool { return true },
		cache:         newCache(),
		sys:           &dnscache.Resolver{},
	}
}

// SetEnabled toggles the DNS subsystem. When disabled, Resolve returns false
// without invoking its callback.
func (r *Resolver) SetEnabled(enabled bool) { r.enabled = enabled }

// SetNetworkActiveFunc installs the hook Resolve consults alongside
// SetEnabled. The Connection Manager wires its own network-active flag here.
func (r *Resolver) SetNetworkActiveFunc(f func() bool) { r.networkActive = f }

// ServerSet selects the resolution strategy. A valid IPv4 address installs
// the custom nameserver strategy (port defaults to 53 if zero); the zero
// value reverts to the system strategy. A non-IPv4 address is rejected.
func (r *Resolver) ServerSet(addr netip.AddrPort) error {
	if !addr.IsValid() {
		r.customServer = netip.AddrPort{}
		logger.Printf("reverted to system resolver strategy")
		return nil
	}
	if !addr.Addr().Is4() {
		return errs.ErrInvalidArgument
	}
	if addr.Port() == 0 {
		addr = netip.AddrPortFrom(addr.Addr(), 53)
	}
	r.customServer = addr
	logger.Printf("installed custom nameserver %v", addr)
	return nil
}

// CacheClear empties the resolution cache. There is no TTL: this is the
// entire expiry mechanism, by design.
func (r *Resolver) CacheClear() {
	logger.Printf("clearing cache")
	r.cache.clear()
}

// Resolve looks up host, consulting the cache first, and invokes cb
// synchronously with the result. It returns false without calling cb if the
// DNS subsystem is disabled or the network is inactive; otherwise it
// returns true.
func (r *Resolver) Resolve(host string, family Family, sockType SockType, cb Callback) bool {
	return r.resolve(nil, host, family, sockType, cb)
}

// ResolveLocked behaves like Resolve, but when the system strategy is in
// effect, releases locker for the duration of the live lookup and
// reacquires it before returning. The custom strategy never releases the
// lock: it's a single local UDP round trip, same as the original only
// dropping the lock around resolve_host_system.
func (r *Resolver) ResolveLocked(locker sync.Locker, host string, family Family, sockType SockType, cb Callback) bool {
	return r.resolve(locker, host, family, sockType, cb)
}

func (r *Resolver) resolve(locker sync.Locker, host string, family Family, sockType SockType, cb Callback) bool {
	logger.WithDefaultLevel(log.Debug).Printf("resolving %q", host)

	if !r.enabled || !r.networkActive() {
		logger.WithDefaultLevel(log.Debug).Printf("skipped %q", host)
		return false
	}

	key := cacheKey{host: host, family: family, sockType: sockType}

	if v, ok := r.cache.get(key); ok {
		logger.WithDefaultLevel(log.Debug).Printf("using cache for %q", host)
		cb(v.addr, v.err)
		return true
	}

	logger.WithDefaultLevel(log.Debug).Printf("querying server for %q", host)

	var (
		addr netip.Addr
		err  error
	)
	if !r.customServer.IsValid() {
		if locker != nil {
			locker.Unlock()
		}
		addr, err = r.resolveSystem(host, family, sockType)
		if locker != nil {
			locker.Lock()
		}
	} else {
		addr, err = r.resolveCustom(host)
	}

	logger.WithDefaultLevel(log.Debug).Printf("got server result for %q: %v", host, err)

	if err != nil {
		err = fmt.Errorf("%w: %w", errs.ErrResolveFailed, err)
	}
	r.cache.put(key, cacheValue{addr: addr, err: err})
	cb(addr, err)
	return true
}

// resolveSystem performs the blocking OS lookup. It reuses rs/dnscache's
// LookupHost as the lookup primitive, but not its own TTL cache, since this
// package's cache has a different, manually-cleared contract.
func (r *Resolver) resolveSystem(host string, family Family, sockType SockType) (netip.Addr, error) {
	r.mu.Lock()
	sys := r.sys
	r.mu.Unlock()

	addrs, err := sys.LookupHost(context.Background(), host)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ip, perr := netip.ParseAddr(a)
		if perr != nil {
			continue
		}
		if family == FamilyIPv4 && !ip.Is4() {
			continue
		}
		if family == FamilyIPv6 && !ip.Is4() {
			if ip.Is4In6() {
				continue
			}
		}
		_ = sockType // the system resolver doesn't distinguish socket types
		return ip, nil
	}
	return netip.Addr{}, &net.DNSError{Err: "no acceptable address", Name: host}
}
