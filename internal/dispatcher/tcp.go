package dispatcher

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spire-proxy/spire/internal/config"
)

// DispatchTCP bridges conn to the selected endpoint bidirectionally,
// propagating half-close in either direction (spec.md §4.7's TCP
// forwarding). Adapted from the teacher's internal/proxy/tcp.go
// TCPProxy.Handle — generalized from a fixed upstream to a
// balancer-selected Endpoint and wired to the shared health/breaker
// registries instead of a per-balancer Feedback callback.
func (d *Dispatcher) DispatchTCP(conn net.Conn, ep config.Endpoint, timeout config.TimeoutSpec, fb Feedback) {
	defer conn.Close()

	connectTimeout := timeout.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	addr := net.JoinHostPort(ep.Authority, strconv.Itoa(int(ep.Port)))
	upstream, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		d.recordFailure(ep.Identity, fb)
		if d.Metrics != nil {
			d.Metrics.IncUpstreamFailure(ep.Identity, "connect")
		}
		return
	}
	defer upstream.Close()
	d.recordSuccess(ep.Identity, fb)

	if timeout.UpstreamTimeout > 0 {
		conn = &deadlineConn{Conn: conn, timeout: timeout.UpstreamTimeout}
		upstream = &deadlineConn{Conn: upstream, timeout: timeout.UpstreamTimeout}
	}

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(upstream, conn)
		if c, ok := upstream.(*net.TCPConn); ok {
			_ = c.CloseWrite()
		} else if dc, ok := upstream.(*deadlineConn); ok {
			if c, ok := dc.Conn.(*net.TCPConn); ok {
				_ = c.CloseWrite()
			}
		}
		close(done)
	}()

	_, _ = io.Copy(conn, upstream)
	if c, ok := conn.(*net.TCPConn); ok {
		_ = c.CloseWrite()
	} else if dc, ok := conn.(*deadlineConn); ok {
		if c, ok := dc.Conn.(*net.TCPConn); ok {
			_ = c.CloseWrite()
		}
	}
	<-done
}

// deadlineConn resets a read/write deadline on every I/O call, giving the
// bridge an idle timeout rather than a hard connection-lifetime cap.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	_ = c.SetDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	_ = c.SetDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(b)
}
