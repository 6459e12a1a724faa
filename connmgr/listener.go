package connmgr

import (
	"fmt"
	"net"
	"net/netip"
)

// Listener is the accept-socket contract the Connection Manager owns and
// drives. Its accept loop and peer-connection accounting are out of scope
// for this module; only the open/close/backlog boundary lives
// here.
type Listener interface {
	// Open binds to some port in [lo, hi], using backlog and bindAddr, or
	// reports an error if no port in the range is available.
	Open(lo, hi int, backlog int, bindAddr netip.Addr) error
	Close() error
	IsOpen() bool
	Port() int
}

// TCPListener is the default Listener, backed by net.Listen. It exists so
// the module is runnable end to end without an embedder-supplied listener;
// the session's actual accept loop is still out of scope.
type TCPListener struct {
	ln   net.Listener
	port int
}

func NewTCPListener() *TCPListener {
	return &TCPListener{}
}

func (l *TCPListener) Open(lo, hi int, backlog int, bindAddr netip.Addr) error {
	if l.ln != nil {
		return fmt.Errorf("listener already open on port %d", l.port)
	}

	var lastErr error
	for port := lo; port <= hi; port++ {
		addr := net.JoinHostPort(bindAddr.String(), fmt.Sprint(port))
		if !bindAddr.IsValid() {
			addr = fmt.Sprintf(":%d", port)
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		l.ln = ln
		l.port = port
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("empty port range [%d, %d]", lo, hi)
	}
	return fmt.Errorf("opening listener in [%d, %d]: %w", lo, hi, lastErr)
}

func (l *TCPListener) Close() error {
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	l.port = 0
	return err
}

func (l *TCPListener) IsOpen() bool { return l.ln != nil }
func (l *TCPListener) Port() int    { return l.port }
