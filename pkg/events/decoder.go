package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/alpha-xone/langchat/pkg/conversation"
)

// fragmentPayload is the union of every fragment shape we have seen on the
// wire. Content has changed from a plain string to an array of typed blocks
// to a bare "text" field across server versions; all variants are normalized
// here so the rest of the system only ever sees string content.
type fragmentPayload struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Delta string `json:"delta"`
	Text  string `json:"text"`
	Final bool   `json:"final"`

	Content  json.RawMessage        `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Decoder turns raw wire events into message fragments. It holds no mutable
// state; accumulation happens in conversation.Buffer.
type Decoder struct {
	onError func(error)
}

type DecoderOption func(*Decoder)

// WithErrorCallback registers a callback invoked when a payload cannot be
// decoded. Decode errors never abort the stream; the event is dropped.
func WithErrorCallback(f func(error)) DecoderOption {
	return func(d *Decoder) {
		d.onError = f
	}
}

func NewDecoder(options ...DecoderOption) *Decoder {
	ret := &Decoder{}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Decode normalizes one wire event into zero or one fragment. Events that
// carry no fragment (end, error, unknown kinds, malformed payloads, nil
// input) yield nil. Decode never panics out to the consuming loop.
func (d *Decoder) Decode(e *WireEvent) (f *conversation.Fragment) {
	defer func() {
		if r := recover(); r != nil {
			d.reportError(errors.Errorf("panic while decoding event: %v", r))
			f = nil
		}
	}()

	if e == nil {
		return nil
	}

	switch e.Kind {
	case EventKindFragment:
		// handled below
	case EventKindError, EventKindEnd:
		// terminal events carry no fragment
		return nil
	default:
		log.Debug().Str("kind", string(e.Kind)).Msg("ignoring unknown event kind")
		return nil
	}

	var payload fragmentPayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		d.reportError(errors.Wrap(err, "could not decode fragment payload"))
		return nil
	}

	id := payload.ID
	if id == "" {
		// A fragment without an id starts a new message rather than being
		// dropped or merged into a previous one.
		id = synthesizeID()
	}

	ret := &conversation.Fragment{
		ID:       id,
		Role:     conversation.NormalizeRole(payload.Role),
		Final:    payload.Final,
		Metadata: payload.Metadata,
	}

	switch {
	case payload.Delta != "":
		ret.ContentDelta = payload.Delta
	case len(payload.Content) > 0:
		full, err := normalizeContent(payload.Content)
		if err != nil {
			d.reportError(err)
			return nil
		}
		ret.ContentFull = &full
	case payload.Text != "":
		text := payload.Text
		ret.ContentFull = &text
	}

	return ret
}

// normalizeContent flattens the content field variants into a single string.
// Block arrays contribute only text-kind blocks, joined with newlines in
// array order.
func normalizeContent(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n"), nil
	}

	return "", errors.Errorf("unsupported content shape: %s", truncate(string(raw), 64))
}

func synthesizeID() string {
	return fmt.Sprintf("msg-%d-%s", time.Now().UnixNano(), shortuuid.New())
}

func (d *Decoder) reportError(err error) {
	log.Warn().Err(err).Msg("dropping undecodable event")
	if d.onError != nil {
		d.onError(err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
