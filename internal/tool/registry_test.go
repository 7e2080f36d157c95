package tool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"

	"cmdagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func echoOp(name string) domain.Operation {
	return domain.Invocable(domain.Operation{
		Name:   name,
		Doc:    "Echo the input.\n:param text: what to echo",
		Params: []domain.Param{{Name: "text"}},
		Func: func(ctx context.Context, args map[string]any) (string, error) {
			return ArgsString(args, "text"), nil
		},
	})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register(echoOp("echo")); err != nil {
		t.Fatalf("register: %v", err)
	}

	op, ok := reg.Get("echo")
	if !ok {
		t.Fatal("expected to find registered operation")
	}
	if op.Name != "echo" {
		t.Fatalf("expected 'echo', got %q", op.Name)
	}
	if _, ok := reg.Get("nonexistent"); ok {
		t.Fatal("expected miss for unknown operation")
	}
}

func TestRegistry_DuplicateNameFails(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register(echoOp("dup")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := reg.Register(echoOp("dup"))
	if !errors.Is(err, ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}
	if len(reg.Operations()) != 1 {
		t.Fatalf("duplicate must not be added, have %d", len(reg.Operations()))
	}
}

func TestRegistry_RejectsIncompleteOperation(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register(domain.Operation{Name: "nofunc"}); err == nil {
		t.Fatal("expected error for operation without func")
	}
	if err := reg.Register(domain.Operation{Func: echoOp("x").Func}); err == nil {
		t.Fatal("expected error for operation without name")
	}
}

func TestRegistry_InvocableOrderAndNames(t *testing.T) {
	reg := NewRegistry(testLogger())
	hidden := echoOp("hidden")
	hidden = domain.Operation{Name: hidden.Name, Doc: hidden.Doc, Params: hidden.Params, Func: hidden.Func}
	for _, op := range []domain.Operation{echoOp("beta"), hidden, echoOp("alpha")} {
		if err := reg.Register(op); err != nil {
			t.Fatalf("register %s: %v", op.Name, err)
		}
	}

	if got := reg.Names(); !reflect.DeepEqual(got, []string{"beta", "alpha"}) {
		t.Fatalf("names: got %v", got)
	}
	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "beta" || defs[1].Name != "alpha" {
		t.Fatalf("definitions: %+v", defs)
	}
	if len(reg.Operations()) != 3 {
		t.Fatalf("operations: expected 3, got %d", len(reg.Operations()))
	}
}

func TestRegistry_Invoke(t *testing.T) {
	reg := NewRegistry(testLogger())
	_ = reg.Register(echoOp("echo"))

	result, err := reg.Invoke(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result != "hello" {
		t.Fatalf("expected 'hello', got %q", result)
	}
}

func TestRegistry_InvokeUnknown(t *testing.T) {
	reg := NewRegistry(testLogger())
	_, err := reg.Invoke(context.Background(), "missing", nil)
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestRegistry_InvokeNonInvocable(t *testing.T) {
	reg := NewRegistry(testLogger())
	op := echoOp("x")
	_ = reg.Register(domain.Operation{Name: "internal", Params: op.Params, Func: op.Func})

	_, err := reg.Invoke(context.Background(), "internal", map[string]any{"text": "hi"})
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestRegistry_InvokeValidatesArguments(t *testing.T) {
	reg := NewRegistry(testLogger())
	_ = reg.Register(echoOp("echo"))

	_, err := reg.Invoke(context.Background(), "echo", nil)
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("missing required: expected ErrInvalidArguments, got %v", err)
	}
	if !strings.Contains(err.Error(), "text") {
		t.Fatalf("error should name the missing parameter: %v", err)
	}

	_, err = reg.Invoke(context.Background(), "echo", map[string]any{"text": 42.0})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("wrong type: expected ErrInvalidArguments, got %v", err)
	}
}

func TestRegistry_InvokeOptionalParameter(t *testing.T) {
	reg := NewRegistry(testLogger())
	def := "world"
	_ = reg.Register(domain.Invocable(domain.Operation{
		Name:   "greet",
		Params: []domain.Param{{Name: "who", Default: &def}},
		Func: func(ctx context.Context, args map[string]any) (string, error) {
			return "hi " + ArgsString(args, "who"), nil
		},
	}))

	got, err := reg.Invoke(context.Background(), "greet", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got != "hi world" {
		t.Fatalf("default not applied: got %q", got)
	}

	got, err = reg.Invoke(context.Background(), "greet", map[string]any{"who": "there"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got != "hi there" {
		t.Fatalf("explicit argument must win over default: got %q", got)
	}
}

func TestRegistry_InvokeDefaultsDoNotMutateArgs(t *testing.T) {
	reg := NewRegistry(testLogger())
	def := "x"
	_ = reg.Register(domain.Invocable(domain.Operation{
		Name:   "opt",
		Params: []domain.Param{{Name: "a", Default: &def}},
		Func: func(ctx context.Context, args map[string]any) (string, error) {
			return ArgsString(args, "a"), nil
		},
	}))

	args := map[string]any{}
	if _, err := reg.Invoke(context.Background(), "opt", args); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(args) != 0 {
		t.Fatalf("caller args were modified: %v", args)
	}
}

func TestInvocable_Idempotent(t *testing.T) {
	op := domain.Invocable(domain.Invocable(echoOp("x")))
	if !op.IsInvocable() {
		t.Fatal("expected operation to stay invocable")
	}
}

// --- ArgsString ---

func TestArgsString_StringValue(t *testing.T) {
	args := map[string]any{"key": "value"}
	if got := ArgsString(args, "key"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
}

func TestArgsString_MissingKey(t *testing.T) {
	args := map[string]any{"other": "value"}
	if got := ArgsString(args, "key"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestArgsString_NilArgs(t *testing.T) {
	if got := ArgsString(nil, "key"); got != "" {
		t.Fatalf("expected empty for nil args, got %q", got)
	}
}

func TestArgsString_NonStringValue(t *testing.T) {
	args := map[string]any{"list": []any{"a", "b"}}
	if got := ArgsString(args, "list"); got != `["a","b"]` {
		t.Fatalf("expected JSON encoding, got %q", got)
	}
}
