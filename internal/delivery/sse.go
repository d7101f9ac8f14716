package delivery

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"chat-relay/internal/notify"
)

// SSESubscriber consumes the server's per-session event stream over HTTP.
// Any transport failure simply closes the channel; the waiter then leans on
// polling, which is the whole point of having two paths.
type SSESubscriber struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewSSESubscriber(baseURL, token string) *SSESubscriber {
	return &SSESubscriber{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{},
	}
}

func (s *SSESubscriber) Subscribe(ctx context.Context, sessionID string) (<-chan notify.Event, func()) {
	out := make(chan notify.Event, 16)
	streamCtx, cancelStream := context.WithCancel(ctx)

	url := fmt.Sprintf("%s/api/v1/chat/sessions/%s/events", s.BaseURL, sessionID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		close(out)
		return out, cancelStream
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	go func() {
		defer close(out)

		resp, err := s.HTTPClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var eventName string
		var data strings.Builder
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if data.Len() > 0 && eventName != "ping" {
					var ev notify.Event
					if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
						select {
						case out <- ev:
						case <-streamCtx.Done():
							return
						}
					}
				}
				eventName = ""
				data.Reset()
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}
	}()

	return out, cancelStream
}
