// Package webhooks delivers signed event notifications to configured
// receivers, such as a review queue that wants to hear about orders sent to
// manual review.
//
// Each delivery is a JSON POST carrying the event type, a unix timestamp and,
// when a secret is configured, an HMAC-SHA256 signature of the body:
//
//	X-Riskguard-Event:     assessment.manual_review
//	X-Riskguard-Timestamp: 1772366400
//	X-Riskguard-Signature: sha256=<hex>
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/riskguard/riskguard/internal/retry"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventManualReview EventType = "assessment.manual_review"
)

// Header names set on every delivery.
const (
	HeaderEvent     = "X-Riskguard-Event"
	HeaderTimestamp = "X-Riskguard-Timestamp"
	HeaderSignature = "X-Riskguard-Signature"
)

// Defaults
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
)

var (
	// ErrReceiverStatus is returned for non-2xx receiver responses.
	ErrReceiverStatus = errors.New("webhooks: receiver returned non-2xx status")
	// ErrClosed is returned by Dispatch once Close has started.
	ErrClosed = errors.New("webhooks: dispatcher closed")
	// ErrQueueFull is returned by Dispatch when deliveries were dropped
	// because every worker is busy and the queue is full.
	ErrQueueFull = errors.New("webhooks: delivery queue full")
)

// Event represents a webhook event
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Target is one receiver.
type Target struct {
	URL    string
	Secret string // optional; enables the signature header
}

// Options configures a Dispatcher.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger
	Client      *http.Client
	// Workers bounds concurrent deliveries; QueueSize bounds the deliveries
	// waiting for a worker.
	Workers   int
	QueueSize int
}

type job struct {
	target  Target
	event   *Event
	payload []byte
}

// Dispatcher sends events to every target in the background, on a fixed
// pool of workers.
type Dispatcher struct {
	targets     []Target
	client      *http.Client
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger

	mu      sync.RWMutex // guards closed and sends on queue
	closed  bool
	queue   chan job
	workers sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(targets []Target, opts Options) *Dispatcher {
	d := &Dispatcher{
		targets:     targets,
		client:      opts.Client,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		logger:      opts.Logger,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: d.timeout}
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxAttempts
	}
	if d.baseDelay <= 0 {
		d.baseDelay = DefaultBaseDelay
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	d.queue = make(chan job, size)
	d.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Targets returns the number of configured receivers.
func (d *Dispatcher) Targets() int { return len(d.targets) }

// Dispatch queues event for delivery to every target and returns at once.
// Deliveries outlive the caller's request; use Close to wait for them. It
// returns ErrQueueFull when some deliveries had to be dropped.
func (d *Dispatcher) Dispatch(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	dropped := 0
	for _, t := range d.targets {
		select {
		case d.queue <- job{target: t, event: event, payload: payload}:
		default:
			dropped++
			deliveries.WithLabelValues(string(event.Type), "dropped").Inc()
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d of %d deliveries dropped", ErrQueueFull, dropped, len(d.targets))
	}
	return nil
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(d.maxAttempts)*d.timeout*2)
		outcome := "delivered"
		if err := d.deliver(ctx, j.target, j.event, j.payload); err != nil {
			outcome = "failed"
			d.logger.Warn("webhook delivery failed",
				"event", j.event.Type, "event_id", j.event.ID, "url", j.target.URL, "error", err)
		}
		cancel()
		deliveries.WithLabelValues(string(j.event.Type), outcome).Inc()
	}
}

// Close stops accepting events and waits for queued deliveries to finish
// or for ctx to end. It is safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver POSTs payload with retries. 4xx responses other than 408 and 429
// (and 3xx, which the client did not follow) are not retried.
func (d *Dispatcher) deliver(ctx context.Context, t Target, event *Event, payload []byte) error {
	policy := retry.Policy{MaxAttempts: d.maxAttempts, BaseDelay: d.baseDelay, MaxDelay: d.timeout}
	return policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEvent, string(event.Type))
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
		if t.Secret != "" {
			req.Header.Set(HeaderSignature, "sha256="+Sign(payload, t.Secret))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		err = fmt.Errorf("%w: %d", ErrReceiverStatus, resp.StatusCode)
		if !retry.RetryableStatus(resp.StatusCode) {
			return retry.Permanent(err)
		}
		return err
	})
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header value ("sha256=<hex>") against payload.
func Verify(payload []byte, secret, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}
