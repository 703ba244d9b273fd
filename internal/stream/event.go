// ABOUTME: Wire events carried by session channels and their SSE framing
// ABOUTME: One tagged variant (Connected, Data, Ping, Done) with a single WriteTo encoder

package stream

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// EventKind discriminates the variants of Event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventData
	EventPing
	EventDone
)

// String returns the lowercase name of the kind, used in logs and metric labels.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventPing:
		return "ping"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is a single item on a session channel. Payload is only meaningful for
// EventData (the opaque message) and EventConnected (the slot id).
type Event struct {
	Kind    EventKind
	Payload string
}

// Connected returns the synthetic first event of every session.
func Connected(id string) Event { return Event{Kind: EventConnected, Payload: id} }

// Data wraps an opaque payload.
func Data(payload string) Event { return Event{Kind: EventData, Payload: payload} }

// Ping returns the liveness probe event sent by the reaper.
func Ping() Event { return Event{Kind: EventPing} }

// Done returns the terminal marker.
func Done() Event { return Event{Kind: EventDone} }

// doneFrame is the literal end-of-stream sentinel expected by OpenAI-compatible clients.
const doneFrame = "data: [DONE]\n\n"

// WriteTo encodes the event as a Server-Sent Events frame:
//
//	Data      -> data: <payload>\n\n (one data: line per payload line)
//	Done      -> data: [DONE]\n\n
//	Connected -> : connected <id>\n\n
//	Ping      -> : ping\n\n
//
// Connected and Ping are SSE comments so that clients parsing JSON data lines
// never see them.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	switch e.Kind {
	case EventData:
		for _, line := range strings.Split(e.Payload, "\n") {
			buf.WriteString("data: ")
			buf.WriteString(strings.TrimSuffix(line, "\r"))
			buf.WriteByte('\n')
		}
		buf.WriteByte('\n')
	case EventDone:
		buf.WriteString(doneFrame)
	case EventConnected:
		buf.WriteString(": connected")
		if e.Payload != "" {
			buf.WriteString(" " + e.Payload)
		}
		buf.WriteString("\n\n")
	case EventPing:
		buf.WriteString(": ping\n\n")
	default:
		return 0, fmt.Errorf("encoding event: unknown kind %s", e.Kind)
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
