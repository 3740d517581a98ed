package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/alpha-xone/langchat/pkg/settings"
	"github.com/alpha-xone/langchat/pkg/store"
)

// Client is the HTTP implementation of Transport. Runs are consumed either
// as a server-sent event stream or, when streaming is disabled in the
// settings, by polling the run status at a fixed interval.
type Client struct {
	settings *settings.Settings
	http     *http.Client
	tokens   store.TokenProvider
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

func WithTokenProvider(p store.TokenProvider) ClientOption {
	return func(cl *Client) {
		cl.tokens = p
	}
}

func NewClient(s *settings.Settings, options ...ClientOption) (*Client, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	ret := &Client{
		settings: s,
		http:     &http.Client{},
	}
	for _, option := range options {
		option(ret)
	}
	return ret, nil
}

var _ Transport = (*Client)(nil)

func (c *Client) CreateThread(ctx context.Context, metadata map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.settings.RequestTimeout)
	defer cancel()

	body := map[string]interface{}{}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/threads", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &ProtocolError{Detail: "create thread response carried no id"}
	}
	log.Debug().Str("thread_id", resp.ID).Msg("created thread")
	return resp.ID, nil
}

func (c *Client) DeleteThread(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/threads/"+url.PathEscape(id), nil, nil)
}

func (c *Client) RenameThread(ctx context.Context, id string, title string) error {
	body := map[string]interface{}{"title": title}
	return c.doJSON(ctx, http.MethodPatch, "/threads/"+url.PathEscape(id), body, nil)
}

func (c *Client) BatchDeleteThreads(ctx context.Context, ids []string) error {
	body := map[string]interface{}{"ids": ids}
	return c.doJSON(ctx, http.MethodPost, "/threads/delete", body, nil)
}

func (c *Client) CancelStream(ctx context.Context, threadID string, runID string) error {
	if runID == "" {
		return nil
	}
	p := runPath(threadID, fmt.Sprintf("/runs/%s/cancel", url.PathEscape(runID)))
	return c.doJSON(ctx, http.MethodPost, p, nil, nil)
}

// runPath prefixes suffix with the thread segment. An empty threadID targets
// the threadless run endpoints, where the server assigns a thread and reports
// its id on the stream.
func runPath(threadID string, suffix string) string {
	if threadID == "" {
		return suffix
	}
	return "/threads/" + url.PathEscape(threadID) + suffix
}

// OpenStream creates a run on the thread and returns an iterator over its
// events. With streaming enabled the run endpoint is consumed as SSE;
// otherwise the run is created and its status polled until terminal.
func (c *Client) OpenStream(ctx context.Context, threadID string, input StreamInput) (Stream, error) {
	if input.AgentID == "" {
		input.AgentID = c.settings.AgentID
	}

	if c.settings.Stream {
		return c.openSSE(ctx, threadID, input)
	}
	return c.openPolling(ctx, threadID, input)
}

// doJSON performs a request against the endpoint, attaching the bearer token
// when available, and decodes the response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	resp, err := c.do(ctx, method, path, body, "")
	if err != nil {
		return err
	}
	defer func(rc io.ReadCloser) {
		_ = rc.Close()
	}(resp.Body)

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProtocolError{Detail: "could not decode response body", Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, accept string) (*http.Response, error) {
	u := strings.TrimRight(c.settings.EndpointURL, "/") + path

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "could not marshal request body")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, errors.Wrap(err, "could not build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, &AuthError{}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		return nil, &AuthError{Status: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		defer func(rc io.ReadCloser) {
			_ = rc.Close()
		}(resp.Body)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &NetworkError{
			Op:  method + " " + path,
			Err: errors.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	return resp, nil
}
