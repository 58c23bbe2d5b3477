package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	stream "github.com/halvard/boreas/internal"
)

// chunkReader returns at most size bytes per Read to force delimiter
// splits at unaligned boundaries.
type chunkReader struct {
	r    io.Reader
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}

func readAll(t *testing.T, r *Reader) []stream.Frame {
	t.Helper()
	var frames []stream.Frame
	for {
		f, err := r.Next()
		if err == io.EOF {
			return frames
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestReaderDecodesFramesAcrossReads(t *testing.T) {
	t.Parallel()

	input := "id: 1\ndata: hello\n\n: keep-alive\n\ndata: wor\ndata: ld\n\n"
	for _, size := range []int{1, 2, 3, 7, 4096} {
		r := NewReader(&chunkReader{r: strings.NewReader(input), size: size})
		frames := readAll(t, r)

		if len(frames) != 2 {
			t.Fatalf("size %d: got %d frames, want 2", size, len(frames))
		}
		if frames[0].ID != "1" || frames[0].Data != "hello" {
			t.Errorf("size %d: frame[0] = %+v", size, frames[0])
		}
		if frames[1].Data != "wor\nld" {
			t.Errorf("size %d: frame[1].Data = %q, want %q", size, frames[1].Data, "wor\nld")
		}
	}
}

func TestReaderFlushesFinalUnterminatedBlock(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("data: first\n\ndata: last"))
	frames := readAll(t, r)

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[1].Data != "last" {
		t.Errorf("final frame data = %q, want %q", frames[1].Data, "last")
	}

	// EOF is sticky.
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after EOF = %v, want io.EOF", err)
	}
}

func TestReaderDropsDatalessBlocks(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("event: ping\n\n: hb\n\ndata: real\n\n"))
	frames := readAll(t, r)

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Data != "real" {
		t.Errorf("data = %q, want %q", frames[0].Data, "real")
	}
}

type failReader struct {
	data string
	err  error
	done bool
}

func (f *failReader) Read(p []byte) (int, error) {
	if f.done {
		return 0, f.err
	}
	f.done = true
	return copy(p, f.data), nil
}

func TestReaderWrapsReadErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	r := NewReader(&failReader{data: "data: ok\n\n", err: cause})

	f, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Data != "ok" {
		t.Errorf("data = %q, want %q", f.Data, "ok")
	}

	_, err = r.Next()
	if !errors.Is(err, cause) {
		t.Errorf("Next error = %v, want wrapped %v", err, cause)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	body := io.NopCloser(strings.NewReader("data: a\n\ndata: b"))
	ch := make(chan Message, 8)
	go Stream(context.Background(), body, ch)

	var msgs []Message
	for m := range ch {
		msgs = append(msgs, m)
	}

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Err != nil {
			t.Fatalf("unexpected error: %v", m.Err)
		}
	}
	if msgs[0].Frame.Data != "a" || msgs[1].Frame.Data != "b" {
		t.Errorf("frames = %+v", msgs)
	}
}

func TestStreamContextCancel(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Message) // unbuffered: sender must block on us

	go Stream(ctx, pr, ch)

	go pw.Write([]byte("data: one\n\ndata: two\n\n"))
	m := <-ch
	if m.Frame.Data != "one" {
		t.Fatalf("frame = %+v, want data %q", m.Frame, "one")
	}

	// The second frame is queued but nobody is receiving; cancellation must
	// unblock the sender and tear the stream down.
	cancel()

	// Stream closes the pipe on exit, which fails this pending write.
	if _, err := pw.Write([]byte("x")); err == nil {
		t.Error("pipe still open after cancellation")
	}
	if m, ok := <-ch; ok {
		t.Errorf("message delivered after cancellation: %+v", m)
	}
}
