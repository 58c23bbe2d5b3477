// Package conn manages the lifecycle of a single long-lived stream
// connection: opening the transport, delivering frames in wire order, and
// driving the reconnect policy when the connection drops unexpectedly.
package conn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	stream "github.com/halvard/boreas/internal"
	"github.com/halvard/boreas/internal/sse"
	"github.com/halvard/boreas/internal/telemetry"
)

// Handlers receive lifecycle and frame callbacks. All callbacks fire from
// the connection's single goroutine, so they observe frames in wire order
// and never race each other. Nil fields are skipped.
type Handlers struct {
	// OnOpen fires after each successful transport open, reconnects
	// included.
	OnOpen func()
	// OnMessage fires once per complete frame received while connected.
	OnMessage func(stream.Frame)
	// OnError fires with a non-fatal error while reconnect attempts
	// remain, and with an error wrapping stream.ErrRetriesExhausted once
	// they are spent. It never fires for caller-initiated close.
	OnError func(error)
	// OnClose fires exactly once when the connection reaches its terminal
	// Closed state, before Close returns to the caller.
	OnClose func()
}

// Options configures a connection. URL is required; everything else has a
// working default.
type Options struct {
	URL       string
	Client    *http.Client          // default http.DefaultClient
	Reconnect bool                  // retry unexpected drops
	Policy    stream.ReconnectPolicy // zero value = stream.DefaultReconnectPolicy()
	// IdleTimeout drops a connection that has received no bytes for the
	// given duration, so a silently stalled transport still reaches the
	// reconnect path. Zero disables the watchdog.
	IdleTimeout time.Duration
	Header      http.Header // extra request headers, e.g. subscription filters
	Handlers    Handlers
	Logger      *slog.Logger
	Metrics     *telemetry.Metrics
}

// Conn is one logical stream connection. It owns its state exclusively:
// a single goroutine reads the transport, parses frames, and fires
// callbacks. Closed is terminal; build a new Conn to connect again.
type Conn struct {
	opts   Options
	client *http.Client
	log    *slog.Logger

	mu      sync.Mutex
	state   stream.ConnState
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Owned by the run goroutine; no locking needed.
	lastEventID   string
	retryOverride time.Duration
}

// New creates a connection for the given options. It does not dial;
// call Connect.
func New(opts Options) (*Conn, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("conn: missing URL")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Policy == (stream.ReconnectPolicy{}) {
		opts.Policy = stream.DefaultReconnectPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Conn{
		opts:   opts,
		client: opts.Client,
		log:    opts.Logger.With("url", opts.URL),
		state:  stream.StateDisconnected,
		done:   make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (c *Conn) State() stream.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the stream and starts delivering callbacks. Calling it
// again while the connection is live is a no-op; calling it after Close
// returns stream.ErrClosed.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stream.StateClosed {
		c.mu.Unlock()
		return stream.ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Close cancels the connection: it aborts any in-flight read, cancels a
// pending backoff timer, and transitions to Closed. No callback other than
// OnClose fires after Close returns. Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == stream.StateClosed {
		c.mu.Unlock()
		return nil
	}
	if !c.started {
		// Never connected; close is purely a state transition.
		c.setStateLocked(stream.StateClosed)
		c.mu.Unlock()
		close(c.done)
		c.emit(c.opts.Handlers.OnClose)
		return nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	<-c.done
	return nil
}

// run is the single goroutine that owns the connection end to end.
func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	defer func() {
		c.setState(stream.StateClosed)
		c.emit(c.opts.Handlers.OnClose)
	}()

	attempt := 0
	for {
		c.setState(stream.StateConnecting)
		err := c.readOnce(ctx, &attempt)
		if ctx.Err() != nil {
			// Caller cancellation is not an error: no OnError.
			return
		}

		if !c.opts.Reconnect {
			c.log.Error("stream failed", "error", err)
			c.emitError(ctx, err)
			return
		}

		attempt++
		if attempt > c.opts.Policy.MaxAttempts {
			fatal := fmt.Errorf("%w after %d attempts: %w",
				stream.ErrRetriesExhausted, c.opts.Policy.MaxAttempts, err)
			c.log.Error("giving up on stream", "attempts", c.opts.Policy.MaxAttempts, "error", err)
			if c.opts.Metrics != nil {
				c.opts.Metrics.ConnFailures.Inc()
			}
			c.emitError(ctx, fatal)
			return
		}

		delay := c.policy().Delay(attempt)
		c.setState(stream.StateReconnecting)
		c.log.Warn("stream dropped, reconnecting",
			"attempt", attempt, "max_attempts", c.opts.Policy.MaxAttempts,
			"delay", delay, "error", err)
		if c.opts.Metrics != nil {
			c.opts.Metrics.ReconnectsTotal.Inc()
		}
		c.emitError(ctx, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// readOnce performs one open/read cycle: it constructs a fresh transport
// request, reads frames until the stream ends or fails, and always returns
// a non-nil reason for the cycle ending.
func (c *Conn) readOnce(ctx context.Context, attempt *int) error {
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, vs := range c.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := stream.NewHTTPError(resp)
		resp.Body.Close()
		return err
	}

	*attempt = 0
	c.setState(stream.StateConnected)
	if c.opts.Metrics != nil {
		c.opts.Metrics.ConnectsTotal.Inc()
	}
	c.log.Info("stream connected")
	c.emit(c.opts.Handlers.OnOpen)

	// The watchdog cancels the request context when no bytes arrive for
	// IdleTimeout, which fails the blocked read below and sends the
	// connection through the normal reconnect path.
	var watchdog *time.Timer
	if c.opts.IdleTimeout > 0 {
		watchdog = time.AfterFunc(c.opts.IdleTimeout, cancelReq)
		defer watchdog.Stop()
	}

	r := sse.NewReader(&meteredReader{
		r: resp.Body,
		onChunk: func(n int) {
			if watchdog != nil {
				watchdog.Reset(c.opts.IdleTimeout)
			}
			if c.opts.Metrics != nil {
				c.opts.Metrics.StreamBytes.Add(float64(n))
			}
		},
	})
	defer resp.Body.Close()

	for {
		f, err := r.Next()
		if err == io.EOF {
			return fmt.Errorf("stream closed by server")
		}
		if err != nil {
			return err
		}
		c.handleFrame(ctx, f)
	}
}

// handleFrame applies frame side effects and dispatches OnMessage.
func (c *Conn) handleFrame(ctx context.Context, f stream.Frame) {
	if f.ID != "" {
		c.lastEventID = f.ID
	}
	if f.Retry > 0 {
		// Server-requested reconnection interval replaces the policy base.
		c.retryOverride = f.Retry
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.FramesTotal.WithLabelValues(eventLabel(f.Event)).Inc()
	}
	if ctx.Err() != nil {
		return
	}
	if h := c.opts.Handlers.OnMessage; h != nil {
		h(f)
	}
}

// policy returns the effective reconnect policy, honoring a server retry
// override.
func (c *Conn) policy() stream.ReconnectPolicy {
	p := c.opts.Policy
	if c.retryOverride > 0 {
		p.BaseInterval = c.retryOverride
	}
	return p
}

func (c *Conn) setState(s stream.ConnState) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Conn) setStateLocked(s stream.ConnState) {
	if c.state == s {
		return
	}
	c.log.Debug("state transition", "from", c.state, "to", s)
	c.state = s
	c.opts.Metrics.SetConnState(int(s))
}

func (c *Conn) emit(h func()) {
	if h != nil {
		h()
	}
}

func (c *Conn) emitError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if h := c.opts.Handlers.OnError; h != nil {
		h(err)
	}
}

// eventLabel bounds metric cardinality: the wire's default event type is
// "message" when the field is absent.
func eventLabel(event string) string {
	if event == "" {
		return "message"
	}
	return event
}

// meteredReader invokes onChunk for every successful read. It feeds the
// idle watchdog and the byte counter without another buffering layer.
type meteredReader struct {
	r       io.Reader
	onChunk func(n int)
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.onChunk(n)
	}
	return n, err
}
