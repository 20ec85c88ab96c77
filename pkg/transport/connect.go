package transport

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

func init() {
	proxy.RegisterDialerType("http", newConnectDialer)
}

// connectDialer tunnels TCP through an HTTP proxy with the CONNECT method.
type connectDialer struct {
	proxyAddr string
	auth      string
	forward   proxy.Dialer
}

func newConnectDialer(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("http proxy url %q has no host", u.Redacted())
	}

	d := &connectDialer{proxyAddr: u.Host, forward: forward}
	if u.Port() == "" {
		d.proxyAddr = net.JoinHostPort(u.Hostname(), "80")
	}
	if u.User != nil {
		password, _ := u.User.Password()
		creds := u.User.Username() + ":" + password
		d.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	}
	return d, nil
}

func (d *connectDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

func (d *connectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := dialContext(ctx, d.forward, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to proxy %s: %w", d.proxyAddr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT to %s: %w", d.proxyAddr, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response from %s: %w", d.proxyAddr, err)
	}
	// The body of a CONNECT reply is the tunnel itself; it is never read here.
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy %s refused CONNECT %s: %s", d.proxyAddr, addr, resp.Status)
	}

	conn.SetDeadline(time.Time{})

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn returns bytes the proxy sent right after its CONNECT reply
// before reading from the socket again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
