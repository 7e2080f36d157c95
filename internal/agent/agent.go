// Package agent is the dispatch façade: it owns the operation table and the
// calling contract synthesized from it, forwards prompts to the model and
// routes the structured calls that come back.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cmdagent/internal/domain"
	"cmdagent/internal/tool"
)

const (
	OpExecuteCommands = "execute_linux_commands"
	OpWriteStateFile  = "write_state_file"

	paramCommandsJSON = "commands_json"
)

const executeCommandsDoc = `
Execute list of Linux commands and return stdout for each.
:param commands_json: Stringified JSON of list of commands to execute. Each element
                      of the list needs a string attribute "command" and optional
                      attribute "args" which is a list of arguments.
                      Redirection should be an argument by itself.
`

const writeStateFileDoc = `
Writes a state file state.txt with the content of all relevant files in the current directory
and subdirectories (excluding venv).
`

var ErrNoProvider = errors.New("no model provider configured")

type Config struct {
	Provider    domain.Provider
	Executor    *tool.Executor
	Snapshot    *tool.Snapshotter
	Audit       domain.AuditStore // optional exchange history
	Logger      *slog.Logger
	Model       string
	MaxTokens   int
	Temperature float64
}

// Agent exposes a fixed set of host operations to a model.
type Agent struct {
	provider    domain.Provider
	executor    *tool.Executor
	snapshot    *tool.Snapshotter
	audit       domain.AuditStore
	registry    *tool.Registry
	functions   []domain.ToolDefinition
	logger      *slog.Logger
	model       string
	maxTokens   int
	temperature float64
}

// New registers the agent's operations and synthesizes their calling
// contract once. The contract does not change for the agent's lifetime.
func New(cfg Config) (*Agent, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Executor == nil {
		cfg.Executor = tool.NewExecutor(tool.ExecutorConfig{Logger: cfg.Logger})
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = tool.NewSnapshotter(tool.SnapshotConfig{Logger: cfg.Logger})
	}

	a := &Agent{
		provider:    cfg.Provider,
		executor:    cfg.Executor,
		snapshot:    cfg.Snapshot,
		audit:       cfg.Audit,
		registry:    tool.NewRegistry(cfg.Logger),
		logger:      cfg.Logger,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}

	for _, op := range a.operations() {
		if err := a.registry.Register(op); err != nil {
			return nil, fmt.Errorf("register %s: %w", op.Name, err)
		}
	}
	a.functions = a.registry.Definitions()

	a.logger.Debug("agent ready", "functions", a.registry.Names())
	return a, nil
}

func (a *Agent) operations() []domain.Operation {
	return []domain.Operation{
		domain.Invocable(domain.Operation{
			Name:   OpExecuteCommands,
			Doc:    executeCommandsDoc,
			Params: []domain.Param{{Name: paramCommandsJSON}},
			Func: func(ctx context.Context, args map[string]any) (string, error) {
				return a.ExecuteLinuxCommands(ctx, tool.ArgsString(args, paramCommandsJSON))
			},
		}),
		domain.Invocable(domain.Operation{
			Name: OpWriteStateFile,
			Doc:  writeStateFileDoc,
			Func: func(ctx context.Context, _ map[string]any) (string, error) {
				return a.WriteStateFile(ctx)
			},
		}),
	}
}

// Functions returns a copy of the calling contract.
func (a *Agent) Functions() []domain.ToolDefinition {
	out := make([]domain.ToolDefinition, len(a.functions))
	for i, def := range a.functions {
		def.Required = append([]string(nil), def.Required...)
		out[i] = def
	}
	return out
}

// ExecuteLinuxCommands runs a JSON batch of commands and returns the
// combined report. Only a malformed batch is an error.
func (a *Agent) ExecuteLinuxCommands(ctx context.Context, commandsJSON string) (string, error) {
	return a.executor.RunBatch(ctx, commandsJSON)
}

// WriteStateFile snapshots the workspace into the state file.
func (a *Agent) WriteStateFile(ctx context.Context) (string, error) {
	return a.snapshot.Write(ctx)
}

// Respond sends prompt as a single user message together with the calling
// contract and returns the model's message unchanged.
func (a *Agent) Respond(ctx context.Context, prompt string) (*domain.ChatResponse, error) {
	if a.provider == nil {
		return nil, ErrNoProvider
	}

	start := time.Now()
	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Messages:    []domain.Message{{Role: "user", Content: prompt}},
		Tools:       a.Functions(),
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.provider.Name(), err)
	}
	if resp.LatencyMs == 0 {
		resp.LatencyMs = time.Since(start).Milliseconds()
	}

	a.logger.Info("model responded",
		"provider", a.provider.Name(),
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
		"latency_ms", resp.LatencyMs,
	)
	a.recordExchange(ctx, prompt, resp)
	return resp, nil
}

// ToolCalls returns the structured calls in resp. Models that write a call
// into the message text instead are understood too, as long as the call
// names an advertised operation.
func (a *Agent) ToolCalls(resp *domain.ChatResponse) []domain.ToolCall {
	if resp == nil {
		return nil
	}
	if resp.HasToolCalls() {
		return resp.ToolCalls
	}
	var calls []domain.ToolCall
	for _, tc := range extractToolCallsFromContent(resp.Content, a.registry.Names()) {
		if _, ok := a.registry.Get(tc.Name); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Dispatch runs the operation a structured call names.
func (a *Agent) Dispatch(ctx context.Context, call domain.ToolCall) (string, error) {
	a.logger.Info("dispatching call", "name", call.Name, "id", call.ID)
	return a.registry.Invoke(ctx, call.Name, call.Arguments)
}

func (a *Agent) recordExchange(ctx context.Context, prompt string, resp *domain.ChatResponse) {
	if a.audit == nil {
		return
	}
	rec := domain.ExchangeRecord{
		Provider:         a.provider.Name(),
		Prompt:           prompt,
		Response:         resp.Content,
		LatencyMs:        resp.LatencyMs,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if resp.HasToolCalls() {
		if data, err := json.Marshal(resp.ToolCalls); err == nil {
			rec.ToolCall = string(data)
		}
	}
	if err := a.audit.RecordExchange(ctx, rec); err != nil {
		a.logger.Warn("cannot record exchange", "err", err)
	}
}
