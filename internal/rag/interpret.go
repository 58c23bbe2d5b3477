// Package rag interprets generic stream frames as the application-level
// start/token/done/error protocol and consumes request-scoped streamed
// answers.
package rag

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	stream "github.com/halvard/boreas/internal"
)

// Interpret maps one frame's payload to a typed event.
//
// Payloads that look like JSON objects are decoded and their "type" field
// selects the variant; anything else (plain text, broken JSON, unknown
// types without content) degrades to a Token carrying the raw data.
// ok=false means the frame carries nothing dispatchable and is dropped.
func Interpret(f stream.Frame) (stream.Event, bool) {
	data := strings.TrimSpace(f.Data)
	if data == "" {
		return stream.Event{}, false
	}
	if strings.HasPrefix(data, "{") && gjson.Valid(data) {
		return interpretJSON(f, data), true
	}
	return stream.Event{
		Kind:      stream.EventToken,
		Content:   f.Data,
		RequestID: requestID(f.ID, ""),
	}, true
}

func interpretJSON(f stream.Frame, data string) stream.Event {
	ev := stream.Event{
		RequestID: requestID(f.ID, gjson.Get(data, "requestId").String()),
	}
	if md := gjson.Get(data, "metadata"); md.IsObject() {
		ev.Metadata = json.RawMessage(md.Raw)
	}

	switch gjson.Get(data, "type").String() {
	case "start":
		ev.Kind = stream.EventStart
	case "token":
		ev.Kind = stream.EventToken
		ev.Content = gjson.Get(data, "content").String()
	case "done":
		ev.Kind = stream.EventDone
	case "error":
		ev.Kind = stream.EventError
		ev.Message = gjson.Get(data, "error").String()
		if ev.Message == "" {
			ev.Message = gjson.Get(data, "content").String()
		}
		if ev.Message == "" {
			ev.Message = "stream error"
		}
	default:
		// Unknown or missing type: best-effort token.
		ev.Kind = stream.EventToken
		if c := gjson.Get(data, "content"); c.Exists() {
			ev.Content = c.String()
		} else {
			ev.Content = f.Data
		}
	}
	return ev
}

// requestID resolves the request identity: payload field first, then the
// frame id, then a fresh identifier.
func requestID(frameID, payloadID string) string {
	if payloadID != "" {
		return payloadID
	}
	if frameID != "" {
		return frameID
	}
	return uuid.NewString()
}

// Handlers receive typed events. Exactly one handler fires per interpreted
// frame; nil fields are skipped.
type Handlers struct {
	OnStart func(requestID string)
	OnToken func(content, requestID string)
	OnDone  func(requestID string)
	OnError func(message, requestID string)
}

// dispatch routes one event to its handler.
func (h Handlers) dispatch(ev stream.Event) {
	switch ev.Kind {
	case stream.EventStart:
		if h.OnStart != nil {
			h.OnStart(ev.RequestID)
		}
	case stream.EventToken:
		if h.OnToken != nil {
			h.OnToken(ev.Content, ev.RequestID)
		}
	case stream.EventDone:
		if h.OnDone != nil {
			h.OnDone(ev.RequestID)
		}
	case stream.EventError:
		if h.OnError != nil {
			h.OnError(ev.Message, ev.RequestID)
		}
	}
}
