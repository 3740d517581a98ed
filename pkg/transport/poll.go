package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/alpha-xone/langchat/pkg/events"
)

// pollingStream adapts servers without end-to-end streaming to the Stream
// interface. The run is created up front, then its event list is polled at a
// fixed interval until the run reaches a terminal status or the polling
// budget runs out.
type pollingStream struct {
	client   *Client
	threadID string
	runID    string

	interval time.Duration
	deadline time.Time

	queue  []*events.WireEvent
	offset int
	done   bool
}

type runStatusResponse struct {
	Status string             `json:"status"`
	Events []events.WireEvent `json:"events"`
}

func (c *Client) openPolling(ctx context.Context, threadID string, input StreamInput) (Stream, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	p := runPath(threadID, "/runs")
	if err := c.doJSON(ctx, http.MethodPost, p, input, &resp); err != nil {
		return nil, err
	}
	if resp.RunID == "" {
		return nil, &ProtocolError{Detail: "create run response carried no run_id"}
	}

	log.Debug().Str("thread_id", threadID).Str("run_id", resp.RunID).
		Dur("poll_interval", c.settings.PollInterval).Msg("polling run")

	return &pollingStream{
		client:   c,
		threadID: threadID,
		runID:    resp.RunID,
		interval: c.settings.PollInterval,
		deadline: time.Now().Add(c.settings.PollBudget),
	}, nil
}

func (s *pollingStream) Next(ctx context.Context) (*events.WireEvent, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.done {
			return nil, io.EOF
		}
		if time.Now().After(s.deadline) {
			return nil, &NetworkError{Op: "poll run", Err: errors.New("polling budget exceeded")}
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		if err := s.poll(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *pollingStream) poll(ctx context.Context) error {
	p := runPath(s.threadID, fmt.Sprintf("/runs/%s?offset=%d", url.PathEscape(s.runID), s.offset))

	var resp runStatusResponse
	if err := s.client.doJSON(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return err
	}

	for i := range resp.Events {
		s.queue = append(s.queue, &resp.Events[i])
	}
	s.offset += len(resp.Events)

	switch resp.Status {
	case "done", "error", "cancelled":
		s.done = true
		// Synthesize the terminal event when the server did not send one.
		if !s.terminalQueued() {
			s.queue = append(s.queue, &events.WireEvent{Kind: events.EventKindEnd})
		}
	}
	return nil
}

func (s *pollingStream) terminalQueued() bool {
	for _, ev := range s.queue {
		if ev.Kind == events.EventKindEnd || ev.Kind == events.EventKindError {
			return true
		}
	}
	return false
}

func (s *pollingStream) RunID() string {
	return s.runID
}

func (s *pollingStream) Close() error {
	s.done = true
	s.queue = nil
	return nil
}
