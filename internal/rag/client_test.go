package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	stream "github.com/halvard/boreas/internal"
)

// scriptServer streams the given SSE blocks for every POST.
func scriptServer(t *testing.T, blocks ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Query == "" {
			t.Error("request query is empty")
		}
		if req.RequestID == "" {
			t.Error("request id is empty")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, b := range blocks {
			fmt.Fprint(w, b)
			f.Flush()
		}
	}))
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []*stream.Transcript
}

func (f *fakeRecorder) SaveTranscript(_ context.Context, t *stream.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, t)
	return nil
}

func TestAskStreamsTypedEvents(t *testing.T) {
	t.Parallel()

	srv := scriptServer(t,
		"data: {\"type\":\"start\",\"requestId\":\"r1\"}\n\n",
		"data: {\"type\":\"token\",\"content\":\"Expect \",\"requestId\":\"r1\"}\n\n",
		"data: {\"type\":\"token\",\"content\":\"rain\",\"requestId\":\"r1\"}\n\n",
		"data: {\"type\":\"done\",\"requestId\":\"r1\"}\n\n",
	)
	defer srv.Close()

	rec := &fakeRecorder{}
	c, err := New(Config{Endpoint: srv.URL, Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}

	answer, events, err := c.Collect(context.Background(), "will it rain tomorrow?")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "Expect rain" {
		t.Errorf("answer = %q, want %q", answer, "Expect rain")
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	wantKinds := []stream.EventKind{stream.EventStart, stream.EventToken, stream.EventToken, stream.EventDone}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("event[%d].Kind = %v, want %v", i, events[i].Kind, k)
		}
		if events[i].RequestID != "r1" {
			t.Errorf("event[%d].RequestID = %q, want r1", i, events[i].RequestID)
		}
	}

	if len(rec.saved) != 1 {
		t.Fatalf("saved %d transcripts, want 1", len(rec.saved))
	}
	tr := rec.saved[0]
	if tr.Answer != "Expect rain" || tr.Status != "done" || tr.TokenCount != 2 {
		t.Errorf("transcript = %+v", tr)
	}
	if tr.RequestID != "r1" || tr.Question != "will it rain tomorrow?" {
		t.Errorf("transcript identity = %+v", tr)
	}
}

func TestAskProtocolError(t *testing.T) {
	t.Parallel()

	srv := scriptServer(t,
		"data: {\"type\":\"start\",\"requestId\":\"r2\"}\n\n",
		"data: {\"type\":\"error\",\"error\":\"index unavailable\",\"requestId\":\"r2\"}\n\n",
	)
	defer srv.Close()

	rec := &fakeRecorder{}
	c, err := New(Config{Endpoint: srv.URL, Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}

	var gotMsg, gotRID string
	err = c.Ask(context.Background(), "q", Handlers{
		OnError: func(msg, rid string) { gotMsg, gotRID = msg, rid },
	})
	// A protocol-level error is a typed event, not a transport failure.
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if gotMsg != "index unavailable" || gotRID != "r2" {
		t.Errorf("OnError(%q, %q)", gotMsg, gotRID)
	}
	if len(rec.saved) != 1 || rec.saved[0].Status != "error" {
		t.Errorf("transcript = %+v", rec.saved)
	}
	if rec.saved[0].Error != "index unavailable" {
		t.Errorf("transcript error = %q", rec.saved[0].Error)
	}
}

func TestAskSuppressesFramesAfterTerminal(t *testing.T) {
	t.Parallel()

	srv := scriptServer(t,
		"data: {\"type\":\"token\",\"content\":\"a\",\"requestId\":\"r3\"}\n\n",
		"data: {\"type\":\"done\",\"requestId\":\"r3\"}\n\n",
		"data: {\"type\":\"token\",\"content\":\"late\",\"requestId\":\"r3\"}\n\n",
	)
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	var tokens []string
	doneCount := 0
	err = c.Ask(context.Background(), "q", Handlers{
		OnToken: func(content, _ string) { tokens = append(tokens, content) },
		OnDone:  func(string) { doneCount++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 1 || tokens[0] != "a" {
		t.Errorf("tokens = %v, want [a]", tokens)
	}
	if doneCount != 1 {
		t.Errorf("done count = %d, want 1", doneCount)
	}
}

func TestAskPlainTextFallback(t *testing.T) {
	t.Parallel()

	srv := scriptServer(t,
		"data: just words\n\n",
		"data: {\"type\":\"done\"}\n\n",
	)
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	answer, events, err := c.Collect(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "just words" {
		t.Errorf("answer = %q", answer)
	}
	if events[0].RequestID == "" {
		t.Error("fallback token has no requestId")
	}
}

func TestAskUnterminatedFinalFrame(t *testing.T) {
	t.Parallel()

	// The server omits the trailing delimiter on the last message.
	srv := scriptServer(t,
		"data: {\"type\":\"token\",\"content\":\"a\",\"requestId\":\"r4\"}\n\n",
		"data: {\"type\":\"done\",\"requestId\":\"r4\"}",
	)
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	doneCount := 0
	err = c.Ask(context.Background(), "q", Handlers{
		OnDone: func(string) { doneCount++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	if doneCount != 1 {
		t.Errorf("done count = %d, want 1", doneCount)
	}
}

func TestAskNon2xxResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	err = c.Ask(context.Background(), "q", Handlers{})
	var httpErr *stream.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", httpErr.StatusCode)
	}
}

func TestAskDropsCommentOnlyBlocks(t *testing.T) {
	t.Parallel()

	srv := scriptServer(t,
		": keep-alive\n\n",
		"data: {\"type\":\"token\",\"content\":\"x\",\"requestId\":\"r5\"}\n\n",
		"data: {\"type\":\"done\",\"requestId\":\"r5\"}\n\n",
	)
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	_, events, err := c.Collect(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (keep-alive must not surface)", len(events))
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New accepted empty endpoint")
	}
}
