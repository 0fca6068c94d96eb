package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hezronokwach/soshi/internal/model"
)

// UnreadCounts is the aggregate badge payload.
type UnreadCounts struct {
	Notifications int `json:"notifications"`
	Messages      int `json:"messages"`
}

// API is the persistence collaborator consumed by the reducers. Message sends
// return nothing the client must trust: the authoritative copy arrives as an
// inbound envelope. Faked in tests.
type API interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	Messages(ctx context.Context, peerID int64, limit, offset int) ([]model.Message, error)
	GroupMessages(ctx context.Context, groupID int64, limit, offset int) ([]model.Message, error)
	SendMessage(ctx context.Context, recipientID int64, content string) error
	SendGroupMessage(ctx context.Context, groupID int64, content string) error
	MarkRead(ctx context.Context, peerID int64) error
	AcceptRequest(ctx context.Context, peerID int64) error
	UnreadCounts(ctx context.Context) (UnreadCounts, error)
}

// HTTPClient is the real API implementation speaking to the soshi server,
// authenticated by the session cookie.
type HTTPClient struct {
	baseURL string
	session string
	http    *http.Client
}

func NewHTTPClient(baseURL, sessionID string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		session: sessionID,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: "soshi_session", Value: c.session})
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var list []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) Messages(ctx context.Context, peerID int64, limit, offset int) ([]model.Message, error) {
	var list []model.Message
	path := fmt.Sprintf("/api/messages/%d?limit=%d&offset=%d", peerID, limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) GroupMessages(ctx context.Context, groupID int64, limit, offset int) ([]model.Message, error) {
	var list []model.Message
	path := fmt.Sprintf("/api/groups/%d/messages?limit=%d&offset=%d", groupID, limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, recipientID int64, content string) error {
	body := map[string]any{"recipient_id": recipientID, "content": content}
	return c.do(ctx, http.MethodPost, "/api/messages", body, nil)
}

func (c *HTTPClient) SendGroupMessage(ctx context.Context, groupID int64, content string) error {
	body := map[string]any{"content": content}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/groups/%d/messages", groupID), body, nil)
}

func (c *HTTPClient) MarkRead(ctx context.Context, peerID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/read", peerID), nil, nil)
}

func (c *HTTPClient) AcceptRequest(ctx context.Context, peerID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/accept", peerID), nil, nil)
}

func (c *HTTPClient) UnreadCounts(ctx context.Context) (UnreadCounts, error) {
	var counts UnreadCounts
	err := c.do(ctx, http.MethodGet, "/api/unread-counts", nil, &counts)
	return counts, err
}
