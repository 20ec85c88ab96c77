package groupapi

import (
	"bufio"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for group API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupscan_requests_total",
		Help: "Total group API requests by operation and outcome",
	}, []string{"op", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groupscan_request_duration_seconds",
		Help:    "Group API round-trip duration in seconds by operation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"op"})
)

const (
	opBatch  = "batch"
	opDetail = "detail"
)

// Client speaks both protocols over one exclusively owned connection.
// Requests are strictly sequential: each call writes a request and reads its
// response before returning. A Client is not safe for concurrent use, and
// after any error the connection must be discarded.
type Client struct {
	host string
	conn io.ReadWriter
	br   *bufio.Reader
	buf  []byte
}

// NewClient wraps conn. host is sent in the Host header of every request.
func NewClient(conn io.ReadWriter, host string) *Client {
	if host == "" {
		host = DefaultHost
	}
	return &Client{
		host: host,
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
		buf:  make([]byte, 0, 2048),
	}
}

// Batch queries ownership for ids.
func (c *Client) Batch(ids []uint64) (BatchResult, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(opBatch).Observe(time.Since(start).Seconds())
	}()

	c.buf = AppendBatchRequest(c.buf[:0], c.host, ids)
	if _, err := c.conn.Write(c.buf); err != nil {
		requestsTotal.WithLabelValues(opBatch, string(ErrorClassNetwork)).Inc()
		return nil, networkError(opBatch, err)
	}

	result, err := ReadBatchResponse(c.br)
	if err != nil {
		requestsTotal.WithLabelValues(opBatch, string(Classify(err))).Inc()
		return nil, err
	}

	requestsTotal.WithLabelValues(opBatch, "ok").Inc()
	return result, nil
}

// Detail fetches the full record of a single group.
func (c *Client) Detail(id uint64) (*GroupDetail, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(opDetail).Observe(time.Since(start).Seconds())
	}()

	c.buf = AppendDetailRequest(c.buf[:0], c.host, id)
	if _, err := c.conn.Write(c.buf); err != nil {
		requestsTotal.WithLabelValues(opDetail, string(ErrorClassNetwork)).Inc()
		return nil, networkError(opDetail, err)
	}

	detail, err := ReadDetailResponse(c.br, id)
	if err != nil {
		requestsTotal.WithLabelValues(opDetail, string(Classify(err))).Inc()
		return nil, err
	}

	requestsTotal.WithLabelValues(opDetail, "ok").Inc()
	return detail, nil
}
