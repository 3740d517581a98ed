package events

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// EventKind is the top-level discriminator of a wire event.
type EventKind string

const (
	// EventKindFragment carries one incremental piece of a message.
	EventKindFragment EventKind = "fragment"
	// EventKindError reports a server-side failure; it terminates the run.
	EventKindError EventKind = "error"
	// EventKindEnd closes the stream normally.
	EventKindEnd EventKind = "end"
)

// WireEvent is one event as delivered by the transport. Data is kept raw:
// the payload shape has changed across server versions and is only
// interpreted by the Decoder.
type WireEvent struct {
	Kind EventKind       `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (e *WireEvent) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("kind", string(e.Kind)).Int("data_length", len(e.Data))
}

// ParseWireEvent decodes the outer envelope of a wire event. The payload is
// left raw for the Decoder.
func ParseWireEvent(b []byte) (*WireEvent, error) {
	var e WireEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ThreadIDFromEvent extracts a server-reported thread id from an event
// payload, if present. The first event of a run may carry the id of the
// thread the server allocated for it.
func ThreadIDFromEvent(e *WireEvent) string {
	if e == nil || len(e.Data) == 0 {
		return ""
	}
	var hdr struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(e.Data, &hdr); err != nil {
		return ""
	}
	return hdr.ThreadID
}

// ErrorFromEvent extracts the error message carried by an error event.
func ErrorFromEvent(e *WireEvent) string {
	if e == nil || len(e.Data) == 0 {
		return ""
	}
	var hdr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Data, &hdr); err != nil {
		return ""
	}
	if hdr.Error != "" {
		return hdr.Error
	}
	return hdr.Message
}
