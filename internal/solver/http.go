package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPMessenger implements Messenger by POSTing the payload as JSON text to
// endpoint and reading the solver's reply back as the response body. This is
// the harness's default transport: a thin, opaque request/response channel
// carrying no framing or protocol state of its own.
type HTTPMessenger struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPMessenger returns an HTTPMessenger with the given per-request
// timeout (default 120s if timeout <= 0).
func NewHTTPMessenger(timeout time.Duration) *HTTPMessenger {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPMessenger{Client: &http.Client{}, Timeout: timeout}
}

func (m *HTTPMessenger) Send(ctx context.Context, endpoint string, msg Message) (string, error) {
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("encoding solver payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.New {
		req.Header.Set("X-Conversation", "new")
	} else {
		req.Header.Set("X-Conversation", "continue")
	}

	resp, err := m.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending message to solver: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading solver reply: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("solver endpoint returned status %d: %s", resp.StatusCode, string(reply))
	}
	return string(reply), nil
}
