package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	stream "github.com/halvard/boreas/internal"
	"github.com/halvard/boreas/internal/sse"
	"github.com/halvard/boreas/internal/telemetry"
)

// defaultTrackerTTL bounds how long a terminated request id suppresses
// late frames.
const defaultTrackerTTL = 10 * time.Minute

// Config configures a Client. Endpoint is required.
type Config struct {
	Endpoint string
	Client   *http.Client       // default http.DefaultClient
	Logger   *slog.Logger       // default slog.Default()
	Metrics  *telemetry.Metrics // nil disables metrics
	Recorder stream.Recorder    // nil disables transcript persistence
}

// Client consumes request-scoped streamed answers: one POST per question,
// the response body streamed incrementally until the terminal event or end
// of input. Request-scoped streams are never resumed; a failure requires a
// new Ask.
type Client struct {
	endpoint string
	http     *http.Client
	log      *slog.Logger
	metrics  *telemetry.Metrics
	recorder stream.Recorder
	track    *tracker
	tracer   trace.Tracer
}

// New creates a Client for the given config.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rag: missing endpoint")
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	track, err := newTracker(defaultTrackerTTL)
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     cfg.Client,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		recorder: cfg.Recorder,
		track:    track,
		tracer:   telemetry.Tracer("boreas/rag"),
	}, nil
}

// askRequest is the JSON body for a streamed question.
type askRequest struct {
	Query     string `json:"query"`
	RequestID string `json:"requestId"`
}

// Ask streams the answer to one question, dispatching exactly one handler
// call per interpreted frame. Frames that fail to interpret are logged and
// dropped; the stream continues. Ask returns after the response body ends
// or the context is cancelled.
func (c *Client) Ask(ctx context.Context, question string, h Handlers) error {
	rid := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "rag.ask",
		trace.WithAttributes(attribute.String("request.id", rid)))
	defer span.End()

	start := time.Now()
	body, err := json.Marshal(askRequest{Query: question, RequestID: rid})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stream.NewHTTPError(resp)
	}

	var (
		answer strings.Builder
		tokens int
		status string
		errMsg string
		lastID string
	)

	r := sse.NewReader(resp.Body)
	for {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Caller cancellation: no handler fires, per the
				// cancellation contract.
				return ctx.Err()
			}
			return err
		}

		ev, ok := Interpret(f)
		if !ok {
			c.log.Warn("dropping uninterpretable frame", "event", f.Event, "id", f.ID)
			if c.metrics != nil {
				c.metrics.FramesDropped.Inc()
			}
			continue
		}
		if c.track.terminal(ev.RequestID) {
			c.log.Debug("dropping frame for terminated request", "request_id", ev.RequestID)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if c.metrics != nil {
			c.metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		}
		lastID = ev.RequestID

		switch ev.Kind {
		case stream.EventToken:
			answer.WriteString(ev.Content)
			tokens++
		case stream.EventDone:
			c.track.markTerminal(ev.RequestID)
			status = "done"
		case stream.EventError:
			c.track.markTerminal(ev.RequestID)
			status = "error"
			errMsg = ev.Message
		}
		h.dispatch(ev)
	}

	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.RequestDuration.Observe(elapsed.Seconds())
	}
	span.SetAttributes(
		attribute.Int("tokens", tokens),
		attribute.String("status", status),
	)

	if status != "" && c.recorder != nil {
		t := &stream.Transcript{
			ID:         uuid.NewString(),
			RequestID:  lastID,
			Question:   question,
			Answer:     answer.String(),
			Status:     status,
			Error:      errMsg,
			TokenCount: tokens,
			CreatedAt:  time.Now().UTC(),
		}
		if err := c.recorder.SaveTranscript(ctx, t); err != nil {
			// Persistence is best-effort; the answer was already delivered.
			c.log.Warn("save transcript failed", "request_id", lastID, "error", err)
		}
	}
	return nil
}

// Collect runs Ask and accumulates the result in memory: the concatenated
// answer plus every typed event in arrival order. A protocol-level error
// event is returned in the event log, not as a Go error.
func (c *Client) Collect(ctx context.Context, question string) (string, []stream.Event, error) {
	var (
		answer strings.Builder
		events []stream.Event
	)
	err := c.Ask(ctx, question, Handlers{
		OnStart: func(rid string) {
			events = append(events, stream.Event{Kind: stream.EventStart, RequestID: rid})
		},
		OnToken: func(content, rid string) {
			answer.WriteString(content)
			events = append(events, stream.Event{Kind: stream.EventToken, Content: content, RequestID: rid})
		},
		OnDone: func(rid string) {
			events = append(events, stream.Event{Kind: stream.EventDone, RequestID: rid})
		},
		OnError: func(msg, rid string) {
			events = append(events, stream.Event{Kind: stream.EventError, Message: msg, RequestID: rid})
		},
	})
	if err != nil {
		return "", nil, err
	}
	return answer.String(), events, nil
}
