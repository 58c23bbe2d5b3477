// Package sse implements the text/event-stream wire format: field parsing
// of delimiter-bounded blocks and incremental splitting of arbitrarily
// chunked input into complete blocks.
package sse

import (
	"strconv"
	"strings"
	"time"

	stream "github.com/halvard/boreas/internal"
)

// ParseFrame parses one delimiter-bounded block into a Frame.
//
// Field handling per the wire convention:
//
//	"id: <v>"    -> Frame.ID (last wins)
//	"event: <v>" -> Frame.Event (last wins)
//	"data: <v>"  -> Frame.Data, repeated lines joined with "\n"
//	"retry: <n>" -> Frame.Retry in milliseconds; invalid values ignored
//	": comment"  -> skipped (keep-alive, never surfaced)
//
// Unrecognized field names are skipped for forward compatibility. A block
// with no "data" field carries no payload: ParseFrame returns ok=false and
// the block is dropped.
func ParseFrame(block string) (stream.Frame, bool) {
	var f stream.Frame
	hasData := false
	var data strings.Builder

	for line := range strings.Lines(block) {
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" || line[0] == ':' {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			// A bare field name with no colon is treated as an empty
			// value per the SSE convention.
			field, value = line, ""
		}
		field = strings.TrimSpace(field)
		// Strip exactly one leading space; interior whitespace is payload.
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			f.ID = value
		case "event":
			f.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "retry":
			ms, err := strconv.Atoi(value)
			if err == nil && ms >= 0 {
				f.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if !hasData {
		return stream.Frame{}, false
	}
	f.Data = data.String()
	return f, true
}
