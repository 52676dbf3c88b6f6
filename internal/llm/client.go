package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to an OpenAI-compatible chat completion endpoint, streaming
// for turns and non-streaming for compaction summaries. A shared rate
// limiter smooths request bursts across sessions.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an LLM client. requestsPerMin bounds the request rate
// across all sessions; zero disables limiting.
func NewClient(baseURL, apiKey, model string, requestsPerMin int) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60.0), requestsPerMin)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		limiter:    limiter,
	}
}

// DefaultModel returns the configured fallback model.
func (c *Client) DefaultModel() string {
	return c.model
}

// Request is one chat completion request. Messages use the OpenAI wire shape.
type Request struct {
	Model     string
	Messages  []map[string]interface{}
	Tools     []map[string]interface{}
	MaxTokens int
}

// Stream issues a streaming completion and emits ordered events. Every event
// carries requestID so consumers can drop events from a superseded request.
// Runs synchronously; callers launch it on their own goroutine.
func (c *Client) Stream(ctx context.Context, requestID string, req Request, emit func(StreamEvent)) {
	if err := c.limiter.Wait(ctx); err != nil {
		emit(StreamEvent{Type: EventError, RequestID: requestID, ErrorReason: err.Error()})
		return
	}

	resp, err := c.post(ctx, req, true)
	if err != nil {
		emit(StreamEvent{Type: EventError, RequestID: requestID, ErrorReason: err.Error(), Recoverable: true})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		emit(StreamEvent{
			Type:        EventError,
			RequestID:   requestID,
			ErrorReason: fmt.Sprintf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))),
			Recoverable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		})
		return
	}

	emit(StreamEvent{Type: EventStarted, RequestID: requestID})
	c.processStream(resp.Body, requestID, emit)
}

// assembler tracks synthesized content blocks over the flat OpenAI delta
// stream: reasoning deltas and content deltas each map to their own block,
// and a kind switch closes the open block before starting the next.
type assembler struct {
	requestID string
	emit      func(StreamEvent)
	nextIndex int
	openIndex int
	openKind  BlockKind
	hasOpen   bool
}

func (a *assembler) delta(kind BlockKind, text string) {
	if text == "" {
		return
	}
	if a.hasOpen && a.openKind != kind {
		a.close()
	}
	if !a.hasOpen {
		a.openIndex = a.nextIndex
		a.nextIndex++
		a.openKind = kind
		a.hasOpen = true
		a.emit(StreamEvent{Type: EventBlockStart, RequestID: a.requestID, Index: a.openIndex, Kind: kind})
	}
	a.emit(StreamEvent{Type: EventDelta, RequestID: a.requestID, Index: a.openIndex, Text: text})
}

func (a *assembler) close() {
	if !a.hasOpen {
		return
	}
	a.emit(StreamEvent{Type: EventBlockStop, RequestID: a.requestID, Index: a.openIndex})
	a.hasOpen = false
}

// toolCallAccumulator accumulates streaming tool call fragments by index.
type toolCallAccumulator struct {
	ID        string
	Name      string
	Arguments strings.Builder
}

func (c *Client) processStream(reader io.Reader, requestID string, emit func(StreamEvent)) {
	scanner := bufio.NewScanner(reader)

	// 1MB buffer: large tool call arguments overflow the 64KB default.
	const maxCapacity = 1024 * 1024
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	blocks := assembler{requestID: requestID, emit: emit}
	toolCallsMap := make(map[int]*toolCallAccumulator)
	var finishReason string
	var usage *Usage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk map[string]interface{}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if u, ok := chunk["usage"].(map[string]interface{}); ok {
			usage = &Usage{}
			if v, ok := u["prompt_tokens"].(float64); ok {
				usage.InputTokens = int(v)
			}
			if v, ok := u["completion_tokens"].(float64); ok {
				usage.OutputTokens = int(v)
			}
		}

		choices, ok := chunk["choices"].([]interface{})
		if !ok || len(choices) == 0 {
			continue
		}
		choice, ok := choices[0].(map[string]interface{})
		if !ok {
			continue
		}
		if reason, ok := choice["finish_reason"].(string); ok && reason != "" {
			finishReason = reason
		}
		delta, ok := choice["delta"].(map[string]interface{})
		if !ok {
			continue
		}

		if reasoning, ok := delta["reasoning_content"].(string); ok {
			blocks.delta(BlockThinking, reasoning)
		}
		if content, ok := delta["content"].(string); ok {
			blocks.delta(BlockText, content)
		}

		if toolCallsData, ok := delta["tool_calls"].([]interface{}); ok {
			for _, tc := range toolCallsData {
				fragment, ok := tc.(map[string]interface{})
				if !ok {
					continue
				}
				var index int
				if idx, ok := fragment["index"].(float64); ok {
					index = int(idx)
				}
				if _, exists := toolCallsMap[index]; !exists {
					toolCallsMap[index] = &toolCallAccumulator{}
				}
				acc := toolCallsMap[index]
				if id, ok := fragment["id"].(string); ok && id != "" {
					acc.ID = id
				}
				if fn, ok := fragment["function"].(map[string]interface{}); ok {
					if name, ok := fn["name"].(string); ok && name != "" {
						acc.Name = name
					}
					if args, ok := fn["arguments"].(string); ok {
						acc.Arguments.WriteString(args)
					}
				}
			}
		}
	}

	blocks.close()

	if err := scanner.Err(); err != nil {
		emit(StreamEvent{Type: EventError, RequestID: requestID, ErrorReason: fmt.Sprintf("stream read failed: %v", err), Recoverable: true})
		return
	}

	// Emit accumulated tool calls in index order before completing.
	indexes := make([]int, 0, len(toolCallsMap))
	for i := range toolCallsMap {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		acc := toolCallsMap[i]
		args := acc.Arguments.String()
		if args == "" {
			args = "{}"
		}
		emit(StreamEvent{
			Type:      EventToolCall,
			RequestID: requestID,
			Call: &ToolCall{
				ID:        acc.ID,
				Name:      acc.Name,
				Arguments: args,
			},
		})
	}

	stopReason := StopEndTurn
	if finishReason == "tool_calls" || len(toolCallsMap) > 0 {
		stopReason = StopToolUse
	}
	log.Printf("✅ [LLM] Stream %s complete: finish=%s, tool_calls=%d", requestID, finishReason, len(toolCallsMap))
	emit(StreamEvent{Type: EventComplete, RequestID: requestID, StopReason: stopReason, Usage: usage})
}

// Complete issues a non-streaming completion and returns the assistant text.
// Used for compaction summaries.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	payload := map[string]interface{}{
		"model":    model,
		"messages": req.Messages,
		"stream":   stream,
	}
	if stream {
		payload["stream_options"] = map[string]interface{}{"include_usage": true}
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return c.httpClient.Do(httpReq)
}
