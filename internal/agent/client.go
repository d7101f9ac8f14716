// Package agent calls the external webhook agents that back each bot.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Payload is the outbound webhook contract. conversation_id duplicates
// session_id for agents that predate the rename, and the placeholder id is
// included so an agent may update the row directly if it wants to.
type Payload struct {
	Message             string         `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
	ConversationID      string         `json:"conversation_id"`
	SessionID           string         `json:"session_id"`
	BotID               string         `json:"bot_id"`
	BotName             string         `json:"bot_name"`
	UserID              string         `json:"user_id"`
	RequestID           string         `json:"request_id"`
	AssistantMessageID  string         `json:"assistant_message_id"`
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StatusError is a non-2xx reply from the agent.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("agent: status %d", e.Code)
}

// ErrEmptyResponse means the agent answered 2xx but the body carried no
// usable text: empty, not JSON, or none of the known response fields set.
// Callers treat this as degraded success, not failure.
var ErrEmptyResponse = errors.New("agent: response had no usable text")

// Invoker is the outbound call. The context carries the hard deadline.
type Invoker interface {
	Invoke(ctx context.Context, p Payload) (string, error)
}

type Client struct {
	URL        string
	HTTPClient *http.Client
}

func NewClient(url string) *Client {
	// No client-level timeout: the per-call context owns the deadline.
	return &Client{URL: url, HTTPClient: &http.Client{}}
}

// agentResponse probes the field names seen across agent implementations.
type agentResponse struct {
	Response string `json:"response"`
	Message  string `json:"message"`
	Text     string `json:"text"`
	Output   string `json:"output"`
}

func (r agentResponse) text() string {
	for _, v := range []string{r.Response, r.Message, r.Text, r.Output} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

const maxResponseBytes = 1 << 20

func (c *Client) Invoke(ctx context.Context, p Payload) (string, error) {
	if c.HTTPClient == nil {
		return "", errors.New("agent: http client is nil")
	}
	if p.ConversationHistory == nil {
		p.ConversationHistory = []HistoryEntry{}
	}

	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", ErrEmptyResponse
	}

	var decoded agentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", ErrEmptyResponse
	}
	text := decoded.text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
