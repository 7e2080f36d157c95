package domain

import (
	"context"
	"time"
)

// CommandRecord is one executed command as kept in the audit history.
type CommandRecord struct {
	ID        int64     `json:"id"`
	BatchID   string    `json:"batch_id"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	Redirect  string    `json:"redirect,omitempty"`
	Outcome   string    `json:"outcome"` // output | redirected | exit_error | not_found | unexpected
	Report    string    `json:"report"`
	CreatedAt time.Time `json:"created_at"`
}

// ExchangeRecord is one round trip across the model boundary.
type ExchangeRecord struct {
	ID               string    `json:"id"`
	Provider         string    `json:"provider"`
	Prompt           string    `json:"prompt"`
	Response         string    `json:"response"`
	ToolCall         string    `json:"tool_call,omitempty"`
	LatencyMs        int64     `json:"latency_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuditStore persists command and exchange history.
type AuditStore interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
	RecordExchange(ctx context.Context, rec ExchangeRecord) error
	RecentCommands(ctx context.Context, limit int) ([]CommandRecord, error)
	RecentExchanges(ctx context.Context, limit int) ([]ExchangeRecord, error)
	Close() error
}
