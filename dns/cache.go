package dns

import "net/netip"

// cacheKey identifies one resolution: the host plus the family/socktype the
// caller asked for. The original keys on (host, family, socktype); we keep
// the same three-part key rather than collapsing family+socktype, since a
// tracker variant may resolve the same host for both a UDP connect and an
// HTTP dial and the two lookups are allowed to diverge.
type cacheKey struct {
	host     string
	family   Family
	sockType SockType
}

// cacheValue is either a resolved address or a nonzero error code, never
// both. There is no TTL: entries live until cache.clear is called.
type cacheValue struct {
	addr netip.Addr
	err  error
}

// cache is the advisory, no-TTL DNS cache. It
// deliberately memoises failures too, so a broken resolver isn't hammered by
// repeat lookups for the same dead host.
type cache struct {
	entries map[cacheKey]cacheValue
}

func newCache() *cache {
	return &cache{entries: make(map[cacheKey]cacheValue)}
}

func (c *cache) get(key cacheKey) (cacheValue, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *cache) put(key cacheKey, v cacheValue) {
	c.entries[key] = v
}

// clear empties the cache. Callers must not replace this with a TTL-based
// eviction policy: the manual clear is the entire expiry contract.
func (c *cache) clear() {
	c.entries = make(map[cacheKey]cacheValue)
}
