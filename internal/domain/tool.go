package domain

import "context"

// ParamKind mirrors how a parameter may be supplied by a caller.
type ParamKind int

const (
	PositionalOrKeyword ParamKind = iota
	PositionalOnly
	VarPositional
	KeywordOnly
	VarKeyword
)

func (k ParamKind) String() string {
	switch k {
	case PositionalOnly:
		return "positional_only"
	case VarPositional:
		return "var_positional"
	case KeywordOnly:
		return "keyword_only"
	case VarKeyword:
		return "var_keyword"
	default:
		return "positional_or_keyword"
	}
}

// Param is one declared parameter of an operation. A nil Default means the
// parameter has no default value.
type Param struct {
	Name    string
	Kind    ParamKind
	Default *string
}

// Required reports whether a caller must always supply the parameter.
func (p Param) Required() bool {
	if p.Default != nil {
		return false
	}
	return p.Kind == PositionalOrKeyword || p.Kind == PositionalOnly
}

// OperationFunc runs an operation with arguments keyed by parameter name.
type OperationFunc func(ctx context.Context, args map[string]any) (string, error)

// Operation is a host-side capability of the agent. Only operations marked
// with Invocable are advertised to the model.
type Operation struct {
	Name   string
	Doc    string
	Params []Param
	Func   OperationFunc

	invocable bool
}

// Invocable tags op as callable by the model. Tagging twice is a no-op.
func Invocable(op Operation) Operation {
	op.invocable = true
	return op
}

func (o Operation) IsInvocable() bool { return o.invocable }

// ToolDefinition is the calling contract advertised for one invocable operation.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Required    []string       `json:"required,omitempty"`
}

// ToolCall is a structured call returned by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
