package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// pageSize is the history page size requested per call. 1000 is the
// API maximum for channels.history.
const pageSize = 1000

// maxAttempts bounds retries of a single API call on transient
// transport failures. Exhausting the budget surfaces the failure.
const maxAttempts = 3

// APIError is a not-ok response from the Web API: the transport
// succeeded but Slack rejected the call. It is never retried.
type APIError struct {
	Method string
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Reason)
}

// Client talks to the Slack Web API with a bearer token. Calls are
// paced through a rate limiter and retried a bounded number of times
// on transport failures; HTTP 429 honors Retry-After.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient returns a client for the given API token.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: "https://slack.com/api",
		http:    newHTTPClient(),
		// Tier 3 methods allow ~50 calls/min; stay under it.
		limiter: rate.NewLimiter(rate.Every(1500*time.Millisecond), 2),
	}
}

// NewClientURL is NewClient with an explicit API base URL, for tests.
func NewClientURL(token, baseURL string) *Client {
	c := NewClient(token)
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

// newHTTPClient builds a pooled transport with explicit timeouts so a
// wedged request can never hang a sync run.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// call performs one API method call and decodes the response into
// out, which must embed the ok/error envelope.
func (c *Client) call(ctx context.Context, method string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)

	body, err := c.post(ctx, method, params)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !env.OK {
		return &APIError{Method: method, Reason: env.Error}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", method, err)
	}
	return nil
}

// post sends the form-encoded request with bounded retries. Only
// transport-level failures and 429s are retried; anything the server
// actually answered is decided by the envelope.
func (c *Client) post(ctx context.Context, method string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + "/" + method

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(params.Encode()))
		if err != nil {
			return nil, fmt.Errorf("failed to build %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request for %s failed: %w", method, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("%s rate limited", method)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read %s response: %w", method, err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s returned HTTP %d", method, resp.StatusCode)
		}
		return body, nil
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", method, maxAttempts, lastErr)
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs)*time.Second + 500*time.Millisecond
		}
	}
	return 2 * time.Second
}

// ListChannels fetches the full channel list.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var resp struct {
		envelope
		Channels []Channel `json:"channels"`
	}
	if err := c.call(ctx, "channels.list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// ListUsers fetches the full member list. Bots generally do not
// appear here; they are synthesized lazily via BotInfo when a message
// references one.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp struct {
		envelope
		Members []User `json:"members"`
	}
	if err := c.call(ctx, "users.list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// History fetches one page of channel history strictly newer than the
// oldest cursor. The wire order inside the page is preserved; the
// boundary cursor for the next page is the first entry's timestamp
// when more pages remain.
func (c *Client) History(ctx context.Context, channelID, oldest string) (HistoryPage, error) {
	params := url.Values{}
	params.Set("channel", channelID)
	params.Set("count", strconv.Itoa(pageSize))
	params.Set("oldest", oldest)

	var resp struct {
		envelope
		Messages []Message `json:"messages"`
		HasMore  bool      `json:"has_more"`
	}
	if err := c.call(ctx, "channels.history", params, &resp); err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{Messages: resp.Messages, HasMore: resp.HasMore}
	if resp.HasMore && len(resp.Messages) > 0 {
		page.Boundary = resp.Messages[0].TS
	}
	return page, nil
}

// BotInfo fetches the descriptor for a bot id.
func (c *Client) BotInfo(ctx context.Context, botID string) (Bot, error) {
	params := url.Values{}
	params.Set("bot", botID)

	var resp struct {
		envelope
		Bot Bot `json:"bot"`
	}
	if err := c.call(ctx, "bots.info", params, &resp); err != nil {
		return Bot{}, err
	}
	return resp.Bot, nil
}
