package sse

import (
	"context"
	"fmt"
	"io"

	stream "github.com/halvard/boreas/internal"
)

// readChunkSize is the transport read granularity. Blocks and their
// delimiters land on arbitrary boundaries relative to it.
const readChunkSize = 4096

// Reader decodes parsed Frames from a raw byte stream. It reads fixed-size
// chunks rather than lines so a block delimiter split across reads is
// reassembled by the Splitter, and a final unterminated block is still
// delivered at end of input.
//
// A Reader is owned by exactly one goroutine.
type Reader struct {
	r     io.Reader
	split Splitter
	queue []stream.Frame
	buf   []byte
	err   error // terminal read error, io.EOF included
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		buf: make([]byte, readChunkSize),
	}
}

// Next returns the next complete frame in wire order. It returns io.EOF
// after the final frame (including a flushed unterminated block) has been
// delivered. Blocks without a data field are dropped, never surfaced.
func (r *Reader) Next() (stream.Frame, error) {
	for {
		if len(r.queue) > 0 {
			f := r.queue[0]
			r.queue = r.queue[1:]
			return f, nil
		}
		if r.err != nil {
			return stream.Frame{}, r.err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.enqueue(r.split.Feed(string(r.buf[:n])))
		}
		if err != nil {
			if err == io.EOF {
				if block, ok := r.split.Flush(); ok {
					r.enqueue([]string{block})
				}
				r.err = io.EOF
			} else {
				r.err = fmt.Errorf("read stream: %w", err)
			}
		}
	}
}

func (r *Reader) enqueue(blocks []string) {
	for _, block := range blocks {
		if f, ok := ParseFrame(block); ok {
			r.queue = append(r.queue, f)
		}
	}
}

// Message is one delivery on a frame channel: a frame or a terminal error.
type Message struct {
	Frame stream.Frame
	Err   error
}

// Stream reads frames from body and sends them on ch until end of input,
// read error, or context cancellation. The channel is closed when done and
// the body is always closed. End of input is not an error: the channel
// simply closes after the final frame.
func Stream(ctx context.Context, body io.ReadCloser, ch chan<- Message) {
	defer close(ch)
	defer body.Close()

	r := NewReader(body)
	for {
		f, err := r.Next()
		if err != nil {
			if err != io.EOF {
				select {
				case ch <- Message{Err: err}:
				case <-ctx.Done():
				}
			}
			return
		}
		select {
		case ch <- Message{Frame: f}:
		case <-ctx.Done():
			return
		}
	}
}
