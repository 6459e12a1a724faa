package dns

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/anacrolix/missinggo/v2/panicif"
)

const customQueryTimeout = 5 * time.Second

// resolveCustom issues a DNS-A query directly to the configured nameserver,
// IPv4 only, mirroring the original's res_nquery/ns_initparse pair. A
// custom-strategy lookup for a AAAA-only answer simply returns no address,
// same as the original returning errno when no A record is found.
func (r *Resolver) resolveCustom(host string) (netip.Addr, error) {
	conn, err := net.DialTimeout("udp4", r.customServer.String(), customQueryTimeout)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("dialing nameserver: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(customQueryTimeout))

	query, err := buildAQuery(host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("building query: %w", err)
	}

	if _, err := conn.Write(query); err != nil {
		return netip.Addr{}, fmt.Errorf("writing query: %w", err)
	}

	resp := make([]byte, 512)
	n, err := conn.Read(resp)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("reading response: %w", err)
	}

	return parseAResponse(resp[:n])
}

func buildAQuery(host string) ([]byte, error) {
	name, err := dnsmessage.NewName(host + ".")
	if err != nil {
		return nil, err
	}
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{RecursionDesired: true})
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(dnsmessage.Question{
		Name:  name,
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	}); err != nil {
		return nil, err
	}
	return b.Finish()
}

// parseAResponse walks the answer section looking for the first A record.
// A wrong rdlength on an A record is a fatal internal error: it means the
// response is corrupt in a way that should never happen against a
// well-formed nameserver, not a recoverable resolve failure.
func parseAResponse(raw []byte) (netip.Addr, error) {
	var p dnsmessage.Parser
	if _, err := p.Start(raw); err != nil {
		return netip.Addr{}, fmt.Errorf("parsing header: %w", err)
	}
	if err := p.SkipAllQuestions(); err != nil {
		return netip.Addr{}, fmt.Errorf("skipping questions: %w", err)
	}

	for {
		h, err := p.AnswerHeader()
		if err == dnsmessage.ErrSectionDone {
			break
		}
		if err != nil {
			return netip.Addr{}, fmt.Errorf("reading answer header: %w", err)
		}
		if h.Type != dnsmessage.TypeA {
			if err := p.SkipAnswer(); err != nil {
				return netip.Addr{}, fmt.Errorf("skipping answer: %w", err)
			}
			continue
		}

		panicif.True(h.Length != 4)

		res, err := p.AResource()
		if err != nil {
			return netip.Addr{}, fmt.Errorf("reading A resource: %w", err)
		}
		return netip.AddrFrom4(res.A), nil
	}

	return netip.Addr{}, fmt.Errorf("no A record in response")
}
