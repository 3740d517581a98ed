package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/alpha-xone/langchat/pkg/events"
)

// sseStream consumes a server-sent-event response body. A reader goroutine
// parses events and pushes them on a channel; Next pulls from that channel
// so the consuming loop suspends between events.
type sseStream struct {
	runID  string
	body   io.ReadCloser
	events chan *events.WireEvent
	errs   chan error
	cancel context.CancelFunc
}

func (c *Client) openSSE(ctx context.Context, threadID string, input StreamInput) (Stream, error) {
	p := runPath(threadID, "/runs/stream")
	resp, err := c.do(ctx, http.MethodPost, p, input, "text/event-stream")
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	ret := &sseStream{
		runID:  resp.Header.Get("X-Run-Id"),
		body:   resp.Body,
		events: make(chan *events.WireEvent),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go ret.consume(streamCtx)
	return ret, nil
}

func (s *sseStream) consume(ctx context.Context) {
	defer func(rc io.ReadCloser) {
		_ = rc.Close()
	}(s.body)
	defer close(s.events)

	reader := bufio.NewReader(s.body)
	var dataLines []string
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.errs <- &NetworkError{Op: "read stream", Err: err}
			}
			return
		}

		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) == 0 {
			// blank line terminates one SSE event
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]

			ev, err := events.ParseWireEvent([]byte(payload))
			if err != nil {
				// one bad event never kills the stream
				log.Warn().Err(err).Str("payload", payload).Msg("skipping malformed stream event")
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
			continue
		}

		parts := bytes.SplitN(trimmed, []byte(":"), 2)
		if len(parts) != 2 {
			continue
		}
		if string(parts[0]) == "data" {
			dataLines = append(dataLines, strings.TrimPrefix(string(parts[1]), " "))
		}
	}
}

func (s *sseStream) Next(ctx context.Context) (*events.WireEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.errs:
		return nil, err
	case ev, ok := <-s.events:
		if !ok {
			select {
			case err := <-s.errs:
				return nil, err
			default:
			}
			return nil, io.EOF
		}
		return ev, nil
	}
}

func (s *sseStream) RunID() string {
	return s.runID
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}
