package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rxdesk/rxdesk-agent/internal/httpkit"
)

// OpenAIClient talks to the OpenAI Responses API over raw HTTP.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for the Responses API at baseURL
// (e.g. "https://api.openai.com/v1").
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			// No global timeout — streaming responses can be long-lived.
			// Rely on ctx deadlines/cancellation for timeout control.
			httpkit.WithTimeout(0),
		),
	}
}

// CreateResponse sends a non-streaming request.
func (c *OpenAIClient) CreateResponse(ctx context.Context, req *Request) (*Response, error) {
	req.Stream = false

	body, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp Response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai response error: %s", resp.Error.Message)
	}

	c.logger.Debug("response received",
		"id", resp.ID,
		"status", resp.Status,
		"output_items", len(resp.Output),
		"function_calls", len(resp.FunctionCalls()),
	)

	return &resp, nil
}

// StreamResponse sends a streaming request and relays events to callback.
func (c *OpenAIClient) StreamResponse(ctx context.Context, req *Request, callback StreamCallback) error {
	req.Stream = true

	body, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()

	return c.consumeStream(body, callback)
}

// send issues the HTTP request and returns the response body on 200.
func (c *OpenAIClient) send(ctx context.Context, req *Request) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/responses", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("openai API error %d: %s", resp.StatusCode, errBody)
	}

	return resp.Body, nil
}

// streamFrame is the wire form of a single SSE data payload.
type streamFrame struct {
	Type     string    `json:"type"`
	Delta    string    `json:"delta,omitempty"`
	Response *Response `json:"response,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// consumeStream parses the SSE body. A backend error event yields one
// KindError callback and stops reading; no retry is attempted.
func (c *OpenAIClient) consumeStream(body io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(body)
	// Increase scanner buffer for large responses
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "event: <type>" followed by "data: <json>"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue // Skip malformed events
		}

		switch frame.Type {
		case "response.output_text.delta":
			callback(StreamEvent{Kind: KindTextDelta, Delta: frame.Delta})

		case "response.error", "error":
			c.logger.Error("stream error event", "code", frame.Code, "message", frame.Message)
			callback(StreamEvent{Kind: KindError, Err: frame.Message})
			return nil

		case "response.failed":
			msg := ""
			if frame.Response != nil && frame.Response.Error != nil {
				msg = frame.Response.Error.Message
			}
			c.logger.Error("stream failed event", "message", msg)
			callback(StreamEvent{Kind: KindError, Err: msg})
			return nil

		case "response.completed":
			callback(StreamEvent{Kind: KindDone, Response: frame.Response})
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Ping checks that the API is reachable and the key is accepted.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from OpenAI API: %d", resp.StatusCode)
	}
	return nil
}
