package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/iso20022"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
)

const (
	defaultWorkers   = 8
	defaultQueueSize = 1024
	defaultTimeout   = 10 * time.Second
	maxDrainBytes    = 64 << 10
)

// Request carries one correlated response toward one tenant target.
type Request struct {
	URL           string
	TenantID      string
	MessageType   string
	CorrelationID string
	Headers       map[string]string
	Payload       core.Message
	MaxAttempts   int
	BaseDelay     time.Duration
}

// Deliverer admits delivery requests. The in-process Engine and the Cloud
// Tasks dispatcher both satisfy it.
type Deliverer interface {
	Deliver(ctx context.Context, req Request) (*Delivery, error)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Engine runs deliveries on a bounded worker pool. One dequeue performs one
// HTTP attempt; retries requeue after the fixed base delay so a slow ladder
// never holds a worker.
type Engine struct {
	store   StatusStore
	client  httpDoer
	queue   chan *Delivery
	workers int
	timeout time.Duration
	now     func() time.Time
	newID   func() string

	wg       sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewEngine(store StatusStore) *Engine {
	return &Engine{
		store:   store,
		client:  &http.Client{Timeout: defaultTimeout},
		queue:   make(chan *Delivery, defaultQueueSize),
		workers: defaultWorkers,
		timeout: defaultTimeout,
		now:     time.Now,
		newID:   uuid.NewString,
		stopped: make(chan struct{}),
	}
}

// WithHTTPClient swaps the delivery transport.
func (e *Engine) WithHTTPClient(c httpDoer) *Engine {
	e.client = c
	return e
}

// WithWorkers sets the pool size before Start.
func (e *Engine) WithWorkers(n int) *Engine {
	if n > 0 {
		e.workers = n
	}
	return e
}

// WithQueueSize bounds the admission queue before Start.
func (e *Engine) WithQueueSize(n int) *Engine {
	if n > 0 {
		e.queue = make(chan *Delivery, n)
	}
	return e
}

// WithTimeout bounds each HTTP attempt.
func (e *Engine) WithTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// Start launches the worker pool.
func (e *Engine) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop halts the workers. Deliveries mid-ladder stay RETRYING in the store;
// a durable store lets the next instance resume them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
	e.wg.Wait()
}

// Deliver validates and admits one delivery, returning its PENDING record.
// The ladder runs on the pool; progress is queryable through the store.
func (e *Engine) Deliver(ctx context.Context, req Request) (*Delivery, error) {
	if err := ValidateURL(req.URL); err != nil {
		return nil, core.E(core.KindValidation, "webhook.deliver", err)
	}
	if req.CorrelationID == "" || req.TenantID == "" {
		return nil, core.Errorf(core.KindValidation, "webhook.deliver",
			"delivery requires correlationId and tenantId")
	}
	if PrivateHost(req.URL) {
		slog.Warn("Webhook target resolves inside a private network",
			"tenantId", req.TenantID,
			"url", req.URL)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := req.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 5 * time.Second
	}

	select {
	case <-e.stopped:
		return nil, core.Errorf(core.KindInternal, "webhook.deliver", "delivery engine stopped")
	default:
	}

	now := e.now().UTC()
	d := &Delivery{
		DeliveryID:    e.newID(),
		CorrelationID: req.CorrelationID,
		TenantID:      req.TenantID,
		MessageType:   req.MessageType,
		URL:           req.URL,
		Headers:       req.Headers,
		Payload:       req.Payload,
		MaxAttempts:   maxAttempts,
		BaseDelay:     baseDelay,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.save(ctx, d)

	select {
	case e.queue <- d:
		return d.snapshot(), nil
	case <-e.stopped:
		return nil, core.Errorf(core.KindInternal, "webhook.deliver", "delivery engine stopped")
	default:
		e.finish(d, StateFailed, false, "delivery queue saturated")
		return d.snapshot(), core.Errorf(core.KindSaturated, "webhook.deliver",
			"delivery queue full (%d)", cap(e.queue))
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopped:
			return
		case d := <-e.queue:
			e.attempt(d)
		}
	}
}

// attempt performs one HTTP call and moves the ladder.
func (e *Engine) attempt(d *Delivery) {
	d.Attempt++
	e.advance(d, StateDelivering)

	code, err := e.post(d)
	d.LastCode = code
	if err != nil {
		d.LastError = err.Error()
	} else {
		d.LastError = ""
	}

	switch {
	case err == nil && code >= 200 && code < 300:
		e.finish(d, StateDelivered, true, "")
	case err != nil || resilience.RetryableStatus(code):
		if d.Attempt >= d.MaxAttempts {
			e.finish(d, StateGivenUp, false, d.LastError)
			return
		}
		e.advance(d, StateRetrying)
		e.requeue(d)
	default:
		// Non-retryable answer; the target rejected the delivery outright.
		e.finish(d, StateFailed, false, d.LastError)
	}
}

func (e *Engine) requeue(d *Delivery) {
	time.AfterFunc(d.BaseDelay, func() {
		select {
		case e.queue <- d:
		case <-e.stopped:
		}
	})
}

func (e *Engine) post(d *Delivery) (int, error) {
	body, err := iso20022.EncodeJSON(d.Payload)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}
	// Mandatory headers are stamped last so tenant headers cannot shadow
	// them.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", d.CorrelationID)
	req.Header.Set("X-Tenant-ID", d.TenantID)
	req.Header.Set("X-Message-Type", d.MessageType)
	req.Header.Set("X-Timestamp", e.now().UTC().Format(time.RFC3339))
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(d.Attempt))

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, nil
}

// finish lands the delivery on a terminal state with its result in one
// store write, so history sees exactly one record per delivery.
func (e *Engine) finish(d *Delivery, to State, success bool, errMsg string) {
	if err := d.transition(to, e.now().UTC()); err != nil {
		slog.Error("Webhook ladder violation", "error", err)
		return
	}
	d.Result = &Result{
		Success:     success,
		Attempt:     d.Attempt,
		StatusCode:  d.LastCode,
		Error:       errMsg,
		CompletedAt: e.now().UTC(),
	}
	e.save(context.Background(), d)
	if !success {
		slog.Warn("Webhook delivery ended without success",
			"deliveryId", d.DeliveryID,
			"correlationId", d.CorrelationID,
			"tenantId", d.TenantID,
			"state", string(d.State),
			"attempt", d.Attempt,
			"statusCode", d.LastCode)
	}
}

func (e *Engine) advance(d *Delivery, to State) {
	if err := d.transition(to, e.now().UTC()); err != nil {
		slog.Error("Webhook ladder violation", "error", err)
		return
	}
	e.save(context.Background(), d)
}

func (e *Engine) save(ctx context.Context, d *Delivery) {
	if err := e.store.Save(ctx, d); err != nil {
		slog.Warn("Webhook delivery state not persisted",
			"deliveryId", d.DeliveryID,
			"state", string(d.State),
			"error", err)
	}
}

// ============================================================================
// URL screening
// ============================================================================

// ValidateURL enforces the target shape: http or https with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return core.Errorf(core.KindValidation, "webhook.url",
			"unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return core.Errorf(core.KindValidation, "webhook.url", "missing host")
	}
	return nil
}

// PrivateHost reports whether the target names a loopback, link-local or
// RFC 1918 destination. Such targets are accepted but logged.
func PrivateHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
