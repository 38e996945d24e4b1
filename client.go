// Package lazycord is the Go client for the lazycord chat service.
//
// It keeps one STOMP-over-WebSocket connection to the chat broker, follows
// the selected channel and the user's notification feed, and reconciles the
// REST-loaded history with pushed events.
//
// Example:
//
//	session := lazycord.NewStaticSession(token, userID)
//	api := lazycord.NewClient("http://localhost:8080", session)
//	chat := lazycord.NewChat(api, session)
//	chat.Start(ctx)
//	defer chat.Close()
//
//	chat.SelectChannel(ctx, channelID)
//	chat.Send("hello")
package lazycord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client calls the chat service's REST API with the session's bearer token.
type Client struct {
	session     SessionProvider
	baseURL     string
	communityID string
	httpClient  *http.Client
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithCommunity scopes channel and history requests to a community.
func WithCommunity(communityID string) ClientOption {
	return func(c *Client) { c.communityID = communityID }
}

// NewClient creates a REST client. An empty baseURL means DefaultBaseURL.
func NewClient(baseURL string, session SessionProvider, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		session: session,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the REST base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != nil {
		if token := c.session.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
			apiErr.Status = resp.StatusCode
		}
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func (c *Client) communityQuery() map[string]string {
	if c.communityID == "" {
		return nil
	}
	return map[string]string{"communityId": c.communityID}
}

// ============================================================================
// Channels & Messages
// ============================================================================

// Channels lists the channels the user is a member of.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	data, err := c.doRequest(ctx, "GET", "/api/channels", nil, c.communityQuery())
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]Channel](data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// PublicChannels lists every public channel.
func (c *Client) PublicChannels(ctx context.Context) ([]Channel, error) {
	data, err := c.doRequest(ctx, "GET", "/api/channels/public", nil, c.communityQuery())
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]Channel](data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// ChannelMessages returns the channel's recent history.
func (c *Client) ChannelMessages(ctx context.Context, channelID string) ([]ChatMessage, error) {
	path := "/api/messages/channel/" + url.PathEscape(channelID)
	data, err := c.doRequest(ctx, "GET", path, nil, c.communityQuery())
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]ChatMessage](data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// ============================================================================
// Notifications
// ============================================================================

// Notifications returns one page of the notification feed, newest first.
func (c *Client) Notifications(ctx context.Context, page, size int) ([]Notification, error) {
	query := map[string]string{
		"page": strconv.Itoa(page),
		"size": strconv.Itoa(size),
	}
	data, err := c.doRequest(ctx, "GET", "/api/notifications", nil, query)
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[notificationPage](data)
	if err != nil {
		return nil, err
	}
	return out.Content, nil
}

// UnreadNotificationCount returns the server's unread counter.
func (c *Client) UnreadNotificationCount(ctx context.Context) (int, error) {
	data, err := c.doRequest(ctx, "GET", "/api/notifications/count", nil, nil)
	if err != nil {
		return 0, err
	}
	out, err := decodeJSON[unreadCount](data)
	if err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkNotificationRead acknowledges one notification.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, "POST", "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
	return err
}

// MarkAllNotificationsRead acknowledges every notification.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := c.doRequest(ctx, "POST", "/api/notifications/read-all", nil, nil)
	return err
}
