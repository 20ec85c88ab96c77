// Package groupapi implements the two wire protocols spoken to the groups
// API over a raw, persistent HTTP/1.1 connection: the batch ownership query
// and the single-group detail query.
package groupapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
)

// DefaultHost is the API host named in the Host header and used for TLS SNI.
const DefaultHost = "groups.roblox.com"

const (
	batchPath  = "/v2/groups?groupIds="
	detailPath = "/v1/groups/"
)

// BatchResult maps a group ID to whether the group currently has an owner.
// Groups the server did not return, or whose owner could not be classified,
// are absent.
type BatchResult map[uint64]bool

// GroupDetail is the subset of a group record used to decide claimability.
type GroupDetail struct {
	ID                 uint64 `json:"id"`
	Name               string `json:"name"`
	MemberCount        int    `json:"member_count"`
	PublicEntryAllowed bool   `json:"public_entry_allowed"`
	HasOwner           bool   `json:"has_owner"`
	Locked             bool   `json:"locked"`
}

// GroupURL returns the public page of a group.
func GroupURL(id uint64) string {
	return "https://www.roblox.com/groups/" + strconv.FormatUint(id, 10)
}

// AppendBatchRequest appends the batch query for ids to dst.
func AppendBatchRequest(dst []byte, host string, ids []uint64) []byte {
	dst = append(dst, "GET "+batchPath...)
	for i, id := range ids {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendUint(dst, id, 10)
	}
	dst = append(dst, " HTTP/1.1\r\nHost: "...)
	dst = append(dst, host...)
	dst = append(dst, "\r\nAccept-Encoding: deflate\r\n\r\n"...)
	return dst
}

// AppendDetailRequest appends the detail query for id to dst.
func AppendDetailRequest(dst []byte, host string, id uint64) []byte {
	dst = append(dst, "GET "+detailPath...)
	dst = strconv.AppendUint(dst, id, 10)
	dst = append(dst, " HTTP/1.1\r\nHost: "...)
	dst = append(dst, host...)
	dst = append(dst, "\r\n\r\n"...)
	return dst
}

// ReadBatchResponse reads one batch response from br and decodes it.
func ReadBatchResponse(br *bufio.Reader) (BatchResult, error) {
	payload, err := readPayload(br, opBatch)
	if err != nil {
		return nil, err
	}

	result, err := ParseBatch(payload)
	if err != nil {
		return nil, payloadError(opBatch, err)
	}
	return result, nil
}

// ReadDetailResponse reads one detail response for id from br and decodes it.
func ReadDetailResponse(br *bufio.Reader, id uint64) (*GroupDetail, error) {
	payload, err := readPayload(br, opDetail)
	if err != nil {
		return nil, err
	}

	detail, err := ParseDetail(id, payload)
	if err != nil {
		return nil, payloadError(opDetail, err)
	}
	return detail, nil
}

// readPayload reads a full response and returns its decoded body. The body
// is consumed to the end so the next response on the connection starts at
// its status line.
func readPayload(br *bufio.Reader, op string) ([]byte, error) {
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		return nil, networkError(op, err)
	}
	defer resp.Body.Close()

	// Only the exact "HTTP/1.1 200 OK" status line is a success.
	if resp.StatusCode != http.StatusOK || resp.Status != "200 OK" || resp.ProtoMajor != 1 || resp.ProtoMinor != 1 {
		return nil, statusError(op, resp.StatusCode, resp.Proto+" "+resp.Status)
	}

	// The batch endpoint compresses its bodies; an uncompressed body is read as is.
	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "deflate") {
		fr := flate.NewReader(resp.Body)
		defer fr.Close()
		body = fr
	}

	payload, err := io.ReadAll(body)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, networkError(op, err)
		}
		return nil, payloadError(op, err)
	}

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return nil, networkError(op, err)
	}

	return bytes.TrimRight(payload, "\x00"), nil
}

type batchEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

type batchRecord struct {
	ID    json.Number     `json:"id"`
	Owner json.RawMessage `json:"owner"`
}

// ParseBatch decodes a decompressed batch payload. Records whose ID or owner
// cannot be classified are left out of the result.
func ParseBatch(payload []byte) (BatchResult, error) {
	var env batchEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode batch envelope: %w", err)
	}

	result := make(BatchResult, len(env.Data))
	for _, raw := range env.Data {
		id, owned, ok := classifyRecord(raw)
		if ok {
			result[id] = owned
		}
	}
	return result, nil
}

func classifyRecord(raw json.RawMessage) (id uint64, owned, ok bool) {
	var rec batchRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0, false, false
	}

	id, err := strconv.ParseUint(rec.ID.String(), 10, 64)
	if err != nil {
		return 0, false, false
	}

	owner := bytes.TrimSpace(rec.Owner)
	switch {
	case len(owner) == 0:
		return 0, false, false
	case bytes.Equal(owner, []byte("null")):
		return id, false, true
	case owner[0] == '{':
		return id, true, true
	default:
		return 0, false, false
	}
}

// ParseDetail decodes a single group record. The presence of isLocked marks
// the group locked whatever its value.
func ParseDetail(id uint64, payload []byte) (*GroupDetail, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode group %d: %w", id, err)
	}

	d := &GroupDetail{ID: id}

	raw, ok := fields["publicEntryAllowed"]
	if !ok {
		return nil, fmt.Errorf("decode group %d: publicEntryAllowed missing", id)
	}
	if err := json.Unmarshal(raw, &d.PublicEntryAllowed); err != nil {
		return nil, fmt.Errorf("decode group %d publicEntryAllowed: %w", id, err)
	}

	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &d.Name); err != nil {
			return nil, fmt.Errorf("decode group %d name: %w", id, err)
		}
	}

	if raw, ok := fields["memberCount"]; ok {
		if err := json.Unmarshal(raw, &d.MemberCount); err != nil {
			return nil, fmt.Errorf("decode group %d memberCount: %w", id, err)
		}
	}

	if raw, ok := fields["owner"]; ok {
		d.HasOwner = !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
	}

	_, d.Locked = fields["isLocked"]

	return d, nil
}
