package sse

import "strings"

// blockDelimiter separates blocks on the wire: two consecutive newlines.
const blockDelimiter = "\n\n"

// Splitter accumulates raw stream text arriving at arbitrary chunk
// boundaries and splits it into complete delimiter-bounded blocks. It is
// the only state that must survive across reads: after every Feed the
// accumulator holds at most one trailing incomplete block.
//
// A Splitter is owned by exactly one connection and is not safe for
// concurrent use.
type Splitter struct {
	buf strings.Builder
}

// Feed appends one raw chunk and returns all complete blocks it unlocked,
// in wire order. A delimiter split across chunk boundaries neither loses
// nor duplicates data: the partial tail stays buffered verbatim until the
// next chunk completes it.
func (s *Splitter) Feed(chunk string) []string {
	if s.buf.Len() == 0 && chunk == "" {
		return nil
	}
	s.buf.WriteString(chunk)

	acc := s.buf.String()
	if !strings.Contains(acc, blockDelimiter) {
		return nil
	}

	var blocks []string
	rest := acc
	for {
		block, tail, found := strings.Cut(rest, blockDelimiter)
		if !found {
			break
		}
		if block != "" {
			blocks = append(blocks, block)
		}
		rest = tail
	}

	s.buf.Reset()
	s.buf.WriteString(rest)
	return blocks
}

// Flush returns the buffered remainder as one final block, if any. Servers
// may omit the trailing delimiter on the last message; the caller invokes
// Flush exactly once at end of input.
func (s *Splitter) Flush() (string, bool) {
	if s.buf.Len() == 0 {
		return "", false
	}
	block := s.buf.String()
	s.buf.Reset()
	// A remainder of bare newlines is delimiter residue, not a block.
	if strings.Trim(block, "\r\n") == "" {
		return "", false
	}
	return block, true
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (s *Splitter) Pending() int {
	return s.buf.Len()
}
