// Package transport supplies exclusively owned connections to the groups
// API, optionally tunneled through a forward proxy.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/proxy"
)

var dialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupscan_dials_total",
	Help: "Connection attempts to the groups API by route and outcome",
}, []string{"route", "outcome"})

// DefaultTimeout bounds dialing and every read or write on a connection.
const DefaultTimeout = 5 * time.Second

// Dialer opens connections to a fixed API endpoint.
type Dialer struct {
	// Address is the host:port of the API.
	Address string

	// ServerName is the TLS SNI and certificate name. Defaults to the host of Address.
	ServerName string

	// TLS enables TLS on top of the (possibly proxied) TCP stream.
	TLS bool

	// TLSConfig overrides the default TLS settings. ServerName is filled in when empty.
	TLSConfig *tls.Config

	// Timeout applies to the whole connection setup and to each read and write.
	Timeout time.Duration
}

// Acquire opens a new connection, through proxyURL when it is not nil. The
// returned conn re-arms a deadline of d.Timeout before every read and write.
func (d *Dialer) Acquire(ctx context.Context, proxyURL *url.URL) (net.Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	route := "direct"
	forward := &net.Dialer{Timeout: timeout}
	var dialer proxy.Dialer = forward
	if proxyURL != nil {
		route = proxyURL.Scheme
		pd, err := proxy.FromURL(proxyURL, forward)
		if err != nil {
			dialsTotal.WithLabelValues(route, "error").Inc()
			return nil, fmt.Errorf("proxy %s: %w", proxyURL.Redacted(), err)
		}
		dialer = pd
	}

	conn, err := dialContext(ctx, dialer, "tcp", d.Address)
	if err != nil {
		dialsTotal.WithLabelValues(route, "error").Inc()
		return nil, fmt.Errorf("dial %s via %s: %w", d.Address, route, err)
	}

	if d.TLS {
		tlsConn := tls.Client(conn, d.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			dialsTotal.WithLabelValues(route, "error").Inc()
			return nil, fmt.Errorf("tls handshake with %s: %w", d.Address, err)
		}
		conn = tlsConn
	}

	dialsTotal.WithLabelValues(route, "ok").Inc()
	return &deadlineConn{Conn: conn, timeout: timeout}, nil
}

func (d *Dialer) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.ServerName == "" {
		cfg.ServerName = d.ServerName
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(d.Address); err == nil {
			cfg.ServerName = host
		}
	}
	return cfg
}

func dialContext(ctx context.Context, d proxy.Dialer, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}

	// Dialers without context support: enforce the deadline by abandoning the dial.
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := d.Dial(network, addr)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// deadlineConn applies a fresh deadline before every read and write so a
// stalled peer fails the operation instead of blocking the worker.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
