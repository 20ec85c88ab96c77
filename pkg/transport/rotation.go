package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
)

// ErrNoProxies is returned when a proxy list contains no usable entry.
var ErrNoProxies = errors.New("no proxies configured")

// Rotation hands out proxy endpoints round-robin, restarting from the first
// entry after the last. It is safe for concurrent use by all workers. A nil
// *Rotation yields no proxy.
type Rotation struct {
	proxies []*url.URL
	next    atomic.Uint64
}

// NewRotation parses every entry with ParseProxy.
func NewRotation(entries []string) (*Rotation, error) {
	r := &Rotation{}
	for _, e := range entries {
		u, err := ParseProxy(e)
		if err != nil {
			return nil, err
		}
		r.proxies = append(r.proxies, u)
	}
	if len(r.proxies) == 0 {
		return nil, ErrNoProxies
	}
	return r, nil
}

// LoadRotation reads a proxy list with one endpoint per line. Blank lines
// and anything after '#' are ignored.
func LoadRotation(path string) (*Rotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxy list: %w", err)
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		if line = strings.TrimSpace(line); line != "" {
			entries = append(entries, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}

	r, err := NewRotation(entries)
	if err != nil {
		return nil, fmt.Errorf("proxy list %s: %w", path, err)
	}
	return r, nil
}

// ParseProxy accepts "host:port" (HTTP CONNECT), "http://[user:pass@]host:port"
// and "socks5://[user:pass@]host:port".
func ParseProxy(s string) (*url.URL, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", s, err)
	}

	switch u.Scheme {
	case "http", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("parse proxy %q: unsupported scheme %q", u.Redacted(), u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("parse proxy %q: host and port are required", u.Redacted())
	}
	return u, nil
}

// Next returns the next proxy, or nil when r is nil.
func (r *Rotation) Next() *url.URL {
	if r == nil || len(r.proxies) == 0 {
		return nil
	}
	i := r.next.Add(1) - 1
	return r.proxies[i%uint64(len(r.proxies))]
}

// Len returns the number of proxies in the rotation.
func (r *Rotation) Len() int {
	if r == nil {
		return 0
	}
	return len(r.proxies)
}
