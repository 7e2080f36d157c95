package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cmdagent/internal/domain"
	"cmdagent/internal/schema"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrInvalidArguments   = errors.New("invalid arguments")
)

// Registry is the ordered table of operations an agent exposes. It doubles
// as the dispatch table for structured calls returned by the model.
type Registry struct {
	mu        sync.RWMutex
	ops       []domain.Operation
	index     map[string]int
	contracts map[string]*gojsonschema.Schema
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		index:     make(map[string]int),
		contracts: make(map[string]*gojsonschema.Schema),
		logger:    logger,
	}
}

// Register appends op to the table. Names must be unique.
func (r *Registry) Register(op domain.Operation) error {
	if op.Name == "" || op.Func == nil {
		return fmt.Errorf("invalid operation %q: name and func are required", op.Name)
	}

	contract, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema.ArgumentSchema(schema.Describe(op))))
	if err != nil {
		return fmt.Errorf("operation %s: build argument schema: %w", op.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[op.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, op.Name)
	}
	r.index[op.Name] = len(r.ops)
	r.ops = append(r.ops, op)
	r.contracts[op.Name] = contract
	r.logger.Debug("registered operation", "name", op.Name, "invocable", op.IsInvocable(), "params", paramSummary(op.Params))
	return nil
}

// Get returns the operation registered under name.
func (r *Registry) Get(name string) (domain.Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return domain.Operation{}, false
	}
	return r.ops[i], true
}

// Operations returns every registered operation in registration order.
func (r *Registry) Operations() []domain.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Operation, len(r.ops))
	copy(out, r.ops)
	return out
}

// Invocable returns the operations the model may call, in registration order.
func (r *Registry) Invocable() []domain.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Operation
	for _, op := range r.ops {
		if op.IsInvocable() {
			out = append(out, op)
		}
	}
	return out
}

// Names returns the names of invocable operations.
func (r *Registry) Names() []string {
	ops := r.Invocable()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.Name)
	}
	return names
}

// Definitions synthesizes the calling contract for every invocable operation.
func (r *Registry) Definitions() []domain.ToolDefinition {
	return schema.Synthesize(r.Operations())
}

// Invoke validates args against the operation's contract and runs it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	i, ok := r.index[name]
	var (
		op       domain.Operation
		contract *gojsonschema.Schema
	)
	if ok {
		op = r.ops[i]
		contract = r.contracts[name]
	}
	r.mu.RUnlock()

	if !ok || !op.IsInvocable() {
		return "", fmt.Errorf("%w: %s (available: %v)", ErrUnknownOperation, name, r.Names())
	}

	if args == nil {
		args = map[string]any{}
	}
	result, err := contract.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return "", fmt.Errorf("%w: %s: %s", ErrInvalidArguments, name, strings.Join(msgs, "; "))
	}

	r.logger.Debug("invoking operation", "name", name)
	return op.Func(ctx, withDefaults(op.Params, args))
}

// withDefaults returns args with every omitted parameter that declares a
// default filled in. The caller's map is not modified.
func withDefaults(params []domain.Param, args map[string]any) map[string]any {
	var out map[string]any
	for _, p := range params {
		if p.Default == nil {
			continue
		}
		if _, ok := args[p.Name]; ok {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(args)+1)
			for k, v := range args {
				out[k] = v
			}
		}
		out[p.Name] = *p.Default
	}
	if out == nil {
		return args
	}
	return out
}

// paramSummary renders params as "name:kind" pairs for logging.
func paramSummary(params []domain.Param) []string {
	out := make([]string, 0, len(params))
	for _, p := range params {
		out = append(out, p.Name+":"+p.Kind.String())
	}
	return out
}

// ArgsString returns args[key] as a string, encoding non-string values as JSON.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
