package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	stream "github.com/halvard/boreas/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTranscriptRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	tr := &stream.Transcript{
		ID:         "t-1",
		RequestID:  "r-1",
		Question:   "will it snow?",
		Answer:     "Light snow expected after midnight.",
		Status:     "done",
		TokenCount: 6,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveTranscript(ctx, tr); err != nil {
		t.Fatal("save:", err)
	}

	got, err := s.GetByRequestID(ctx, "r-1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.ID != tr.ID {
		t.Errorf("id = %q, want %q", got.ID, tr.ID)
	}
	if got.Answer != tr.Answer {
		t.Errorf("answer = %q, want %q", got.Answer, tr.Answer)
	}
	if got.Status != "done" {
		t.Errorf("status = %q, want done", got.Status)
	}
	if got.TokenCount != 6 {
		t.Errorf("token count = %d, want 6", got.TokenCount)
	}
	if !got.CreatedAt.Equal(tr.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, tr.CreatedAt)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"t-a", "t-b", "t-c"} {
		tr := &stream.Transcript{
			ID:        id,
			RequestID: "r-" + id,
			Question:  "q",
			Status:    "done",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveTranscript(ctx, tr); err != nil {
			t.Fatal("save:", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatal("recent:", err)
	}
	if len(got) != 2 {
		t.Fatalf("count = %d, want 2", len(got))
	}
	if got[0].ID != "t-c" || got[1].ID != "t-b" {
		t.Errorf("order = [%s %s], want [t-c t-b]", got[0].ID, got[1].ID)
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("count = %d, want 0", len(got))
	}
}

func TestGetByRequestIDNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetByRequestID(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestErrorTranscriptPersistsMessage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	tr := &stream.Transcript{
		ID:        "t-err",
		RequestID: "r-err",
		Question:  "q",
		Status:    "error",
		Error:     "index unavailable",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveTranscript(ctx, tr); err != nil {
		t.Fatal("save:", err)
	}
	got, err := s.GetByRequestID(ctx, "r-err")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Error != "index unavailable" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
