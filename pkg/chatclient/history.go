package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

// HistoryClient talks to history-service over its JSON API.
type HistoryClient struct {
	baseURL string
	http    *http.Client
}

func NewHistoryClient(baseURL string, timeout time.Duration) *HistoryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HistoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type historyData struct {
	Messages []protocol.ChatMessage `json:"messages"`
}

// Append stores msg and returns it with the id assigned by the store.
func (c *HistoryClient) Append(ctx context.Context, msg protocol.ChatMessage) (protocol.ChatMessage, error) {
	var stored protocol.ChatMessage
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", msg, &stored); err != nil {
		return protocol.ChatMessage{}, err
	}
	return stored, nil
}

// History returns the owner's conversation with partner, oldest first.
func (c *HistoryClient) History(ctx context.Context, ownerID, partnerID string) ([]protocol.ChatMessage, error) {
	var data historyData
	if err := c.do(ctx, http.MethodGet, conversationPath(ownerID, partnerID, "messages"), nil, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

// MarkRead flags the owner's copy of the conversation as read.
func (c *HistoryClient) MarkRead(ctx context.Context, ownerID, partnerID string) error {
	return c.do(ctx, http.MethodPost, conversationPath(ownerID, partnerID, "read"), nil, nil)
}

func (c *HistoryClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
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

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode history response (status %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("history service: %s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("history service: status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode history data: %w", err)
		}
	}
	return nil
}

func conversationPath(ownerID, partnerID, action string) string {
	return fmt.Sprintf("/api/v1/conversations/%s/%s/%s", url.PathEscape(ownerID), url.PathEscape(partnerID), action)
}
