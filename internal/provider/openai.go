package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cmdagent/internal/domain"
)

const (
	DefaultAPIBase = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4"
)

// OpenAI implements domain.Provider for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	name    string
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	retry   retryPolicy
	logger  *slog.Logger
}

type OpenAIConfig struct {
	Name    string // reported by Name(), defaults to "openai"
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  SharedHTTPClient(cfg.Timeout),
		retry:   defaultRetry,
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	o.authorize(req)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: invalid API key", o.name)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", o.name, resp.StatusCode)
	}
	return nil
}

func (o *OpenAI) authorize(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Tools       []oaiTool    `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

type oaiMessage struct {
	Role      string        `json:"role"`
	Content   *string       `json:"content"`
	ToolCalls []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function oaiToolCallFn `json:"function"`
}

type oaiToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// toolSpec renders a descriptor in the chat completions "tools" shape. The
// top-level required list moves inside the parameter schema, where the API
// expects it.
func toolSpec(def domain.ToolDefinition) oaiTool {
	params := make(map[string]any, len(def.Parameters)+1)
	for k, v := range def.Parameters {
		params[k] = v
	}
	if len(def.Required) > 0 {
		params["required"] = append([]string(nil), def.Required...)
	}
	return oaiTool{
		Type: "function",
		Function: oaiFunction{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		},
	}
}

func toWireMessages(in []domain.Message) []oaiMessage {
	msgs := make([]oaiMessage, 0, len(in))
	for _, m := range in {
		content := m.Content
		msgs = append(msgs, oaiMessage{Role: m.Role, Content: &content})
	}
	return msgs
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	body := oaiRequest{
		Model:    model,
		Messages: toWireMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	for _, def := range req.Tools {
		body.Tools = append(body.Tools, toolSpec(def))
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, o.client, o.retry, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		o.authorize(r)
		return r, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", o.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %d: %s", o.name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("chat completed",
		"provider", o.name,
		"model", model,
		"tools", len(req.Tools),
		"latency_ms", latency,
		"total_tokens", oaiResp.Usage.TotalTokens,
	)

	if len(oaiResp.Choices) == 0 {
		return &domain.ChatResponse{FinishReason: "stop", LatencyMs: latency}, nil
	}

	choice := oaiResp.Choices[0]
	out := &domain.ChatResponse{
		FinishReason: choice.FinishReason,
		LatencyMs:    latency,
		Usage: domain.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			o.logger.Warn("tool call arguments are not a JSON object",
				"tool", tc.Function.Name, "error", err)
		}
		if args == nil {
			args = make(map[string]any)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return out, nil
}
