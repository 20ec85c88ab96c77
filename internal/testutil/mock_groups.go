// Package testutil provides testing utilities for the group scanner.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
)

// MockGroup defines the state the mock API reports for one group.
type MockGroup struct {
	ID                 uint64
	Name               string
	MemberCount        int
	Owned              bool
	PublicEntryAllowed bool
	Locked             bool
}

// MockGroupAPI is a configurable mock groups API for testing. It answers the
// batch endpoint with raw-deflate bodies and the detail endpoint with plain
// JSON, like the real service.
type MockGroupAPI struct {
	server *httptest.Server
	mu     sync.RWMutex
	groups map[uint64]MockGroup

	failBatches int
	failDetails int
	batchHook   func(ids []uint64)
	batchCount  int
	detailCount int
}

// NewMockGroupAPI creates and starts a new mock server.
func NewMockGroupAPI() *MockGroupAPI {
	mock := &MockGroupAPI{
		groups: make(map[uint64]MockGroup),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/groups", mock.handleBatch)
	mux.HandleFunc("GET /v1/groups/{id}", mock.handleDetail)
	mock.server = httptest.NewServer(mux)

	return mock
}

// Addr returns the host:port the mock listens on.
func (m *MockGroupAPI) Addr() string {
	return m.server.Listener.Addr().String()
}

// Close shuts down the mock server.
func (m *MockGroupAPI) Close() {
	m.server.CloseClientConnections()
	m.server.Close()
}

// SetGroup adds or replaces a group.
func (m *MockGroupAPI) SetGroup(g MockGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g
}

// FailNextBatches answers the next n batch requests with 503.
func (m *MockGroupAPI) FailNextBatches(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBatches = n
}

// FailNextDetails answers the next n detail requests with 503.
func (m *MockGroupAPI) FailNextDetails(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDetails = n
}

// OnBatch registers a hook called with the requested IDs of every batch,
// before the response is built.
func (m *MockGroupAPI) OnBatch(hook func(ids []uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchHook = hook
}

// BatchCount returns the number of batch requests served.
func (m *MockGroupAPI) BatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchCount
}

// DetailCount returns the number of detail requests served.
func (m *MockGroupAPI) DetailCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detailCount
}

func (m *MockGroupAPI) handleBatch(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("groupIds"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.batchCount++
	fail := m.failBatches > 0
	if fail {
		m.failBatches--
	}
	hook := m.batchHook
	m.mu.Unlock()

	if fail {
		http.Error(w, `{"errors":[{"code":0,"message":"Service unavailable"}]}`, http.StatusServiceUnavailable)
		return
	}
	if hook != nil {
		hook(ids)
	}

	m.mu.RLock()
	records := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		g, ok := m.groups[id]
		if !ok {
			continue
		}
		records = append(records, map[string]any{
			"id":               g.ID,
			"name":             g.Name,
			"description":      "",
			"owner":            ownerValue(g),
			"created":          "2015-06-01T12:00:00Z",
			"hasVerifiedBadge": false,
		})
	}
	m.mu.RUnlock()

	payload, err := json.Marshal(map[string]any{"data": records})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload = append(payload, 0)

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fw.Write(payload)
	fw.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Encoding", "deflate")
	w.Header().Set("Content-Length", strconv.Itoa(compressed.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(compressed.Bytes())
}

func (m *MockGroupAPI) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.detailCount++
	fail := m.failDetails > 0
	if fail {
		m.failDetails--
	}
	g, ok := m.groups[id]
	m.mu.Unlock()

	if fail {
		http.Error(w, `{"errors":[{"code":0,"message":"Service unavailable"}]}`, http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, `{"errors":[{"code":1,"message":"Group is invalid or does not exist."}]}`, http.StatusBadRequest)
		return
	}

	record := map[string]any{
		"id":                 g.ID,
		"name":               g.Name,
		"description":        "",
		"owner":              ownerValue(g),
		"shout":              nil,
		"memberCount":        g.MemberCount,
		"isBuildersClubOnly": false,
		"publicEntryAllowed": g.PublicEntryAllowed,
		"hasVerifiedBadge":   false,
	}
	if g.Locked {
		record["isLocked"] = true
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(record)
}

func ownerValue(g MockGroup) any {
	if !g.Owned {
		return nil
	}
	return map[string]any{
		"id":   1000 + g.ID,
		"type": "User",
		"name": fmt.Sprintf("owner%d", g.ID),
	}
}

func parseIDs(s string) ([]uint64, error) {
	if s == "" {
		return nil, fmt.Errorf("groupIds is required")
	}

	parts := strings.Split(s, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid group id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
