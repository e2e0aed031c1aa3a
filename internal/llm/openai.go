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
	"time"

	"github.com/farmalink/rxagent/internal/httpkit"
)

// OpenAIClient is a client for any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a new client. baseURL should point at the /v1
// root of an OpenAI-compatible server.
func NewOpenAIClient(apiKey, model, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Providers can take significant time before sending headers on long
	// prompts. Use a custom transport with a generous response header
	// timeout, and no overall client timeout: streams are long-lived
	// and cancellation flows through the request context.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// OpenAI request/response wire types

type chatRequest struct {
	Model      string           `json:"model"`
	Messages   []wireMessage    `json:"messages"`
	Tools      []map[string]any `json:"tools,omitempty"`
	ToolChoice string           `json:"tool_choice,omitempty"`
	Stream     bool             `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// streamChunk is one SSE data payload from a streaming completion.
type streamChunk struct {
	Choices []struct {
		Index        int         `json:"index"`
		Delta        wireMessage `json:"delta"`
		FinishReason *string     `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatStream opens one streaming completion request. See [Client].
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, tools []map[string]any, callback StreamCallback) {
	req := chatRequest{
		Model:    c.model,
		Messages: convertToWire(messages),
		Tools:    tools,
		Stream:   true,
	}
	if len(tools) > 0 {
		req.ToolChoice = "auto"
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		callback(StreamEvent{Kind: KindUpstreamError, Err: fmt.Sprintf("marshal request: %v", err)})
		return
	}

	c.logger.Debug("preparing request",
		"model", c.model,
		"messages", len(req.Messages),
		"tools", len(tools),
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		callback(StreamEvent{Kind: KindUpstreamError, Err: fmt.Sprintf("create request: %v", err)})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		callback(StreamEvent{Kind: KindUpstreamError, Err: fmt.Sprintf("request failed: %v", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		callback(StreamEvent{Kind: KindUpstreamError, Err: fmt.Sprintf("provider error %d: %s", resp.StatusCode, errBody)})
		return
	}

	c.consumeStream(ctx, resp.Body, callback)
}

// consumeStream reads SSE frames until the stream ends, emitting exactly
// one terminal event on every path.
func (c *OpenAIClient) consumeStream(ctx context.Context, body io.Reader, callback StreamCallback) {
	scanner := bufio.NewScanner(body)
	// Increase scanner buffer for large responses
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		finishReason string
		textLen      int
		fragments    int
	)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "data: <json>", one chunk per frame
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed chunks
		}

		if chunk.Error != nil {
			callback(StreamEvent{Kind: KindUpstreamError, Err: chunk.Error.Message})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}

		if choice.Delta.Content != "" {
			textLen += len(choice.Delta.Content)
			callback(StreamEvent{Kind: KindTextFragment, Text: choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			fragments++
			callback(StreamEvent{
				Kind: KindToolCallFragment,
				Fragment: ToolCallFragment{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}

	if err := scanner.Err(); err != nil {
		callback(StreamEvent{Kind: KindUpstreamError, Err: fmt.Sprintf("read stream: %v", err)})
		return
	}

	reason := RoundEndTextComplete
	if finishReason == "tool_calls" {
		reason = RoundEndToolCalls
	}

	c.logger.Debug("stream complete",
		"finish_reason", finishReason,
		"content_len", textLen,
		"tool_call_fragments", fragments,
	)

	callback(StreamEvent{Kind: KindRoundEnd, Reason: reason})
}

// Ping checks if the provider is reachable and the API key is accepted.
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
		return fmt.Errorf("unexpected status from provider: %d", resp.StatusCode)
	}
	return nil
}

// convertToWire maps internal messages onto the OpenAI wire shape.
func convertToWire(messages []Message) []wireMessage {
	result := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wm := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		result = append(result, wm)
	}
	return result
}
