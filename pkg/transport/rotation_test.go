package transport

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProxy(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantScheme string
		wantHost   string
		wantErr    bool
	}{
		{name: "bare host port", input: "10.0.0.1:3128", wantScheme: "http", wantHost: "10.0.0.1:3128"},
		{name: "http with auth", input: "http://u:p@proxy.local:8080", wantScheme: "http", wantHost: "proxy.local:8080"},
		{name: "socks5", input: "socks5://127.0.0.1:1080", wantScheme: "socks5", wantHost: "127.0.0.1:1080"},
		{name: "missing port", input: "proxy.local", wantErr: true},
		{name: "unsupported scheme", input: "https://proxy.local:443", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseProxy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScheme, u.Scheme)
			assert.Equal(t, tt.wantHost, u.Host)
		})
	}
}

func TestRotation_Cycles(t *testing.T) {
	r, err := NewRotation([]string{"a.local:1", "b.local:2", "c.local:3"})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, r.Next().Host)
	}
	assert.Equal(t, []string{"a.local:1", "b.local:2", "c.local:3", "a.local:1", "b.local:2", "c.local:3", "a.local:1"}, got)
}

func TestRotation_Nil(t *testing.T) {
	var r *Rotation
	assert.Nil(t, r.Next())
	assert.Zero(t, r.Len())
}

func TestRotation_Empty(t *testing.T) {
	_, err := NewRotation(nil)
	assert.True(t, errors.Is(err, ErrNoProxies))
}

func TestRotation_ConcurrentNext(t *testing.T) {
	r, err := NewRotation([]string{"a.local:1", "b.local:2"})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				host := r.Next().Host
				mu.Lock()
				counts[host]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, counts["a.local:1"])
	assert.Equal(t, 400, counts["b.local:2"])
}

func TestLoadRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "# upstream pool\n10.0.0.1:3128\n\n  socks5://10.0.0.2:1080  # backup\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := LoadRotation(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "http", r.Next().Scheme)
	assert.Equal(t, "socks5", r.Next().Scheme)
}

func TestLoadRotation_Missing(t *testing.T) {
	_, err := LoadRotation(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
