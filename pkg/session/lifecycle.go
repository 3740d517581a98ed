package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/alpha-xone/langchat/pkg/conversation"
)

// SwitchThread makes another thread the active one and warms the message
// list from the store when one is configured. An in-flight stream for the
// previous thread is not aborted; it keeps draining into its old buffer and
// its reported thread id is discarded by the lifecycle manager, so it can
// never override this switch.
func (c *Controller) SwitchThread(ctx context.Context, id string) error {
	c.threads.SwitchTo(id)

	fresh := conversation.NewBuffer()
	if c.messages != nil {
		history, err := c.messages.LoadMessages(ctx, id)
		if err != nil {
			return err
		}
		for _, m := range history {
			fresh.Put(m)
		}
	}

	c.mu.Lock()
	c.buffer = fresh
	c.lastErr = nil
	c.lastText = ""
	c.mu.Unlock()

	c.publishSnapshot(fresh)
	return nil
}

// NewThread clears the conversation and explicitly creates a fresh thread.
func (c *Controller) NewThread(ctx context.Context) (string, error) {
	fresh := conversation.NewBuffer()
	c.mu.Lock()
	c.buffer = fresh
	c.lastErr = nil
	c.lastText = ""
	c.mu.Unlock()

	id, err := c.threads.CreateNew(ctx)
	if err != nil {
		return "", err
	}
	c.publishSnapshot(fresh)
	return id, nil
}

// DeleteThread removes a thread and its persisted messages. Deleting the
// active thread clears the conversation; the lifecycle manager recreates a
// thread immediately when auto-create is enabled.
func (c *Controller) DeleteThread(ctx context.Context, id string) error {
	active := c.threads.Handle().ID == id

	if err := c.threads.Delete(ctx, id); err != nil {
		return err
	}
	if c.messages != nil {
		if err := c.messages.DeleteThreadMessages(ctx, id); err != nil {
			log.Warn().Err(err).Str("thread_id", id).Msg("could not delete persisted messages")
		}
	}

	if active {
		fresh := conversation.NewBuffer()
		c.mu.Lock()
		c.buffer = fresh
		c.lastErr = nil
		c.mu.Unlock()
		c.publishSnapshot(fresh)
	}
	return nil
}

// RenameThread sets a thread's display title on the server.
func (c *Controller) RenameThread(ctx context.Context, id string, title string) error {
	return c.transport.RenameThread(ctx, id, title)
}

// BatchDeleteThreads removes several threads at once. The active thread, if
// included, is handled like DeleteThread's active case.
func (c *Controller) BatchDeleteThreads(ctx context.Context, ids []string) error {
	if err := c.transport.BatchDeleteThreads(ctx, ids); err != nil {
		return err
	}

	activeID := c.threads.Handle().ID
	for _, id := range ids {
		if c.messages != nil {
			if err := c.messages.DeleteThreadMessages(ctx, id); err != nil {
				log.Warn().Err(err).Str("thread_id", id).Msg("could not delete persisted messages")
			}
		}
		if id == activeID {
			c.threads.Reset()
			fresh := conversation.NewBuffer()
			c.mu.Lock()
			c.buffer = fresh
			c.lastErr = nil
			c.mu.Unlock()
			c.publishSnapshot(fresh)
		}
	}
	return nil
}

// Clear drops the conversation's messages without touching the thread.
func (c *Controller) Clear() {
	c.mu.Lock()
	buf := c.buffer
	c.mu.Unlock()
	buf.Clear()
	c.publishSnapshot(buf)
}
