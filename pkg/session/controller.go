package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/alpha-xone/langchat/pkg/conversation"
	"github.com/alpha-xone/langchat/pkg/events"
	"github.com/alpha-xone/langchat/pkg/settings"
	"github.com/alpha-xone/langchat/pkg/store"
	"github.com/alpha-xone/langchat/pkg/threads"
	"github.com/alpha-xone/langchat/pkg/transport"
)

var (
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrAlreadyStreaming = errors.New("a submission is already streaming")
	ErrNothingToRetry   = errors.New("no previous submission to retry")
)

// Snapshot is the read-only view published after every change to the
// message list. Messages are deep copies; mutating them has no effect on
// the session.
type Snapshot struct {
	ThreadID  string                    `json:"thread_id,omitempty"`
	Messages  conversation.Conversation `json:"messages"`
	Streaming bool                      `json:"streaming"`
	Error     string                    `json:"error,omitempty"`
}

// Controller orchestrates one conversation session: it resolves the thread
// id, opens one stream per submission, feeds decoded fragments into the
// buffer and publishes updated snapshots. A caller that needs two
// independent conversations instantiates two Controllers; nothing is shared
// across instances.
type Controller struct {
	settings  *settings.Settings
	transport transport.Transport
	threads   *threads.Manager
	decoder   *events.Decoder

	messages store.MessageStore
	users    store.UserProvider

	publisher message.Publisher
	topic     string

	onToken    func(*conversation.Message)
	onSnapshot func(Snapshot)

	mu        sync.Mutex
	buffer    *conversation.Buffer
	active    *StreamHandle
	streaming bool
	lastErr   error
	lastText  string
}

type ControllerOption func(*Controller)

// WithMessageStore enables persistence of completed messages and history
// warm-up on thread switch.
func WithMessageStore(s store.MessageStore) ControllerOption {
	return func(c *Controller) {
		c.messages = s
	}
}

func WithUserProvider(p store.UserProvider) ControllerOption {
	return func(c *Controller) {
		c.users = p
	}
}

// WithPublisher publishes every snapshot as a JSON message on the given
// topic, so external handlers can observe the session through an event
// router.
func WithPublisher(pub message.Publisher, topic string) ControllerOption {
	return func(c *Controller) {
		c.publisher = pub
		c.topic = topic
	}
}

// WithTokenCallback is invoked for each still-incomplete message as new
// content arrives.
func WithTokenCallback(f func(*conversation.Message)) ControllerOption {
	return func(c *Controller) {
		c.onToken = f
	}
}

func WithSnapshotCallback(f func(Snapshot)) ControllerOption {
	return func(c *Controller) {
		c.onSnapshot = f
	}
}

func NewController(s *settings.Settings, t transport.Transport, options ...ControllerOption) (*Controller, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	ret := &Controller{
		settings:  s,
		transport: t,
		threads: threads.NewManager(t,
			threads.WithAutoCreate(s.AutoCreateThread),
		),
		buffer: conversation.NewBuffer(),
	}
	ret.decoder = events.NewDecoder(events.WithErrorCallback(func(err error) {
		log.Warn().Err(err).Msg("decode error")
	}))

	for _, option := range options {
		option(ret)
	}
	return ret, nil
}

// Threads exposes the thread lifecycle manager, mainly for tests and
// advanced callers.
func (c *Controller) Threads() *threads.Manager {
	return c.threads
}

// Messages returns the current message list sorted by timestamp.
func (c *Controller) Messages() conversation.Conversation {
	c.mu.Lock()
	buf := c.buffer
	c.mu.Unlock()
	return buf.GetAll()
}

func (c *Controller) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Submit appends the human message synchronously and starts consuming the
// response stream in the background. Progress is observed through published
// snapshots and the streaming flag. While a stream is active, further
// submissions are rejected rather than queued.
func (c *Controller) Submit(ctx context.Context, text string) (*StreamHandle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return nil, ErrAlreadyStreaming
	}
	c.streaming = true
	c.lastErr = nil
	c.lastText = text
	buf := c.buffer

	runCtx, cancel := context.WithCancel(ctx)
	handle := newStreamHandle(cancel)
	c.active = handle
	c.mu.Unlock()

	human := conversation.NewMessage(conversation.RoleHuman, text)
	if c.users != nil {
		if userID, err := c.users.CurrentUserID(ctx); err == nil && userID != "" {
			human.Metadata = map[string]interface{}{"user_id": userID}
		}
	}
	buf.Put(human)
	c.publishSnapshot(buf)

	go c.run(runCtx, handle, buf, human)

	return handle, nil
}

// Retry resubmits the last user text after a failure.
func (c *Controller) Retry(ctx context.Context) (*StreamHandle, error) {
	c.mu.Lock()
	text := c.lastText
	c.mu.Unlock()
	if text == "" {
		return nil, ErrNothingToRetry
	}
	return c.Submit(ctx, text)
}

// Cancel stops the active stream. The consuming loop observes cancellation
// before processing the next event; the interrupted message stays marked
// incomplete. Calling Cancel with nothing streaming is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	handle := c.active
	c.mu.Unlock()
	if handle == nil || !handle.IsRunning() {
		return
	}

	handle.Cancel()

	threadID, runID := handle.Run()
	if runID != "" {
		// best effort; the server may have already finished the run
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.transport.CancelStream(ctx, threadID, runID); err != nil {
			log.Debug().Err(err).Str("run_id", runID).Msg("cancel stream request failed")
		}
	}
}

func (c *Controller) run(ctx context.Context, handle *StreamHandle, buf *conversation.Buffer, human *conversation.Message) {
	defer func() {
		c.mu.Lock()
		c.streaming = false
		if c.active == handle {
			c.active = nil
		}
		c.mu.Unlock()
		c.publishSnapshot(buf)
		handle.finish()
	}()

	threadID, err := c.threads.Ensure(ctx)
	if err != nil {
		if !errors.Is(err, threads.ErrNoActiveThread) {
			c.fail(buf, err)
			return
		}
		// No active thread and auto-create is disabled: open the stream
		// without one and adopt the thread id the server reports on the
		// first event.
		threadID = ""
	}
	if threadID != "" {
		c.persist(threadID, human)
	}

	stream, err := c.transport.OpenStream(ctx, threadID, transport.StreamInput{
		AgentID:  c.settings.AgentID,
		Messages: buf.GetAll(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(buf, err)
		return
	}
	defer func(s transport.Stream) {
		_ = s.Close()
	}(stream)
	handle.setRun(threadID, stream.RunID())

	first := true
	for {
		select {
		case <-ctx.Done():
			// cancelled: stop without emitting further updates, leave the
			// interrupted message incomplete
			log.Debug().Str("thread_id", threadID).Msg("stream cancelled")
			return
		default:
		}

		nextCtx := ctx
		var cancelNext context.CancelFunc
		if first {
			// ceiling on time-to-first-event
			nextCtx, cancelNext = context.WithTimeout(ctx, c.settings.RequestTimeout)
		}
		ev, err := stream.Next(nextCtx)
		if cancelNext != nil {
			cancelNext()
		}

		if err != nil {
			if err == io.EOF {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if first && errors.Is(err, context.DeadlineExceeded) {
				err = &transport.NetworkError{Op: "await first event", Err: err}
			}
			c.fail(buf, err)
			return
		}
		first = false

		if reported := events.ThreadIDFromEvent(ev); reported != "" {
			if c.threads.AcceptReportedID(reported) && threadID == "" {
				threadID = reported
				handle.setRun(threadID, stream.RunID())
				c.persist(threadID, human)
			}
		}

		switch ev.Kind {
		case events.EventKindEnd:
			return
		case events.EventKindError:
			msg := events.ErrorFromEvent(ev)
			if msg == "" {
				msg = "stream reported an error"
			}
			c.fail(buf, pkgerrors.New(msg))
			return
		}

		fragment := c.decoder.Decode(ev)
		if fragment == nil {
			continue
		}

		merged := buf.Apply(fragment)
		c.publishSnapshot(buf)
		if merged.Complete {
			c.persist(threadID, merged)
		} else if c.onToken != nil {
			c.onToken(merged)
		}
	}
}

// fail records a single user-visible error. Partial messages stay in the
// list, marked incomplete, so the UI can offer a retry without losing
// context. A failure from a stream whose buffer is no longer current (the
// user switched threads while it was draining) is logged but never surfaced
// against the new conversation.
func (c *Controller) fail(buf *conversation.Buffer, err error) {
	log.Error().Err(err).Msg("submission failed")
	c.mu.Lock()
	if c.buffer == buf {
		c.lastErr = err
	}
	c.mu.Unlock()
	c.publishSnapshot(buf)
}

func (c *Controller) persist(threadID string, msg *conversation.Message) {
	if c.messages == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.messages.PersistMessage(ctx, threadID, msg); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("could not persist message")
	}
}

// publishSnapshot publishes the current state of buf, unless the session
// has moved on to another buffer (thread switch while a stale stream is
// still draining).
func (c *Controller) publishSnapshot(buf *conversation.Buffer) {
	c.mu.Lock()
	if c.buffer != buf {
		c.mu.Unlock()
		return
	}
	snapshot := Snapshot{
		ThreadID:  c.threads.Handle().ID,
		Messages:  buf.GetAll(),
		Streaming: c.streaming,
	}
	if c.lastErr != nil {
		snapshot.Error = c.lastErr.Error()
	}
	onSnapshot := c.onSnapshot
	publisher := c.publisher
	topic := c.topic
	c.mu.Unlock()

	if onSnapshot != nil {
		onSnapshot(snapshot)
	}
	if publisher != nil {
		b, err := json.Marshal(snapshot)
		if err != nil {
			log.Warn().Err(err).Msg("could not marshal snapshot")
			return
		}
		if err := publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), b)); err != nil {
			log.Warn().Err(err).Msg("could not publish snapshot")
		}
	}
}
