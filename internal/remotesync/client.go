// Package remotesync pushes saved records to a remote endpoint over a
// websocket. The local store stays authoritative: records that cannot be
// delivered are dropped, never retried into the caller's path.
package remotesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/goldfish/internal/config"
	"github.com/scrypster/goldfish/pkg/types"
)

// ErrCircuitOpen is reported when pushes are rejected because the remote
// failed too many times in a row.
var ErrCircuitOpen = errors.New("remotesync: circuit breaker is open")

// Frame is the JSON message sent for each record.
type Frame struct {
	Type      string          `json:"type"`
	Workspace string          `json:"workspace"`
	Kind      types.Kind      `json:"kind"`
	ID        string          `json:"id"`
	Record    json.RawMessage `json:"record"`
	SentAt    time.Time       `json:"sent_at"`
}

// FrameTypeRecord marks a frame carrying a saved record.
const FrameTypeRecord = "record"

// Metrics counts client activity.
type Metrics struct {
	Enqueued uint64
	Dropped  uint64 // queue full
	Pushed   uint64
	Failed   uint64 // includes pushes rejected by the open breaker
}

// Client queues records and pushes them from Run.
type Client struct {
	cfg     config.SyncConfig
	log     logrus.FieldLogger
	queue   chan Frame
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu   sync.Mutex
	conn *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	metricsMu sync.Mutex
	metrics   Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a client for cfg. Nothing is dialled until Run pushes the
// first record.
func New(cfg config.SyncConfig, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		log:     logrus.StandardLogger(),
		queue:   make(chan Frame, cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
	for _, opt := range opts {
		opt(c)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remotesync",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("remotesync: breaker state changed")
		},
	})
	return c
}

// Enqueue queues e for pushing. It never blocks: when the queue is full the
// record is dropped and false is returned. The record is encoded before
// Enqueue returns, so the caller may keep modifying e.
func (c *Client) Enqueue(e types.Entity) bool {
	record, err := json.Marshal(e)
	if err != nil {
		c.count(func(m *Metrics) { m.Dropped++ })
		c.log.WithFields(logrus.Fields{
			"kind":  e.EntityKind(),
			"id":    e.EntityID(),
			"error": err,
		}).Warn("remotesync: cannot encode record, dropping it")
		return false
	}
	f := Frame{
		Type:      FrameTypeRecord,
		Workspace: e.EntityWorkspace(),
		Kind:      e.EntityKind(),
		ID:        e.EntityID(),
		Record:    record,
	}
	select {
	case c.queue <- f:
		c.count(func(m *Metrics) { m.Enqueued++ })
		return true
	default:
		c.count(func(m *Metrics) { m.Dropped++ })
		c.log.WithFields(logrus.Fields{
			"kind": e.EntityKind(),
			"id":   e.EntityID(),
		}).Warn("remotesync: queue full, dropping record")
		return false
	}
}

// Run drains the queue until ctx is done, pushing at most RatePerSecond
// records per second.
func (c *Client) Run(ctx context.Context) error {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-c.queue:
			if err := c.limiter.Wait(ctx); err != nil {
				return ctx.Err()
			}
			if err := c.push(ctx, f); err != nil {
				c.count(func(m *Metrics) { m.Failed++ })
				entry := c.log.WithFields(logrus.Fields{
					"kind":  f.Kind,
					"id":    f.ID,
					"error": err,
				})
				if errors.Is(err, ErrCircuitOpen) {
					entry.Debug("remotesync: dropping record")
				} else {
					entry.Warn("remotesync: push failed, dropping record")
				}
				continue
			}
			c.count(func(m *Metrics) { m.Pushed++ })
		}
	}
}

func (c *Client) push(ctx context.Context, f Frame) error {
	f.SentAt = time.Now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("remotesync: encode frame: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		pctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		conn, err := c.connect(pctx)
		if err != nil {
			return nil, err
		}
		if err := conn.Write(pctx, websocket.MessageText, data); err != nil {
			c.dropConn()
			return nil, fmt.Errorf("remotesync: write: %w", err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("remotesync: dial %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	c.log.WithField("url", c.cfg.URL).Info("remotesync: connected")
	return conn, nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusInternalError, "write failed")
		c.conn = nil
	}
}

// Close closes the connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
	}
}

// State returns the breaker state: "closed", "open" or "half-open".
func (c *Client) State() string {
	return c.breaker.State().String()
}

// Metrics returns a snapshot of the counters.
func (c *Client) Metrics() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

func (c *Client) count(fn func(*Metrics)) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	fn(&c.metrics)
}
