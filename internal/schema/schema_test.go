package schema

import (
	"context"
	"reflect"
	"testing"

	"cmdagent/internal/domain"
)

func noop(context.Context, map[string]any) (string, error) { return "", nil }

func strPtr(s string) *string { return &s }

func testOperations() []domain.Operation {
	return []domain.Operation{
		domain.Invocable(domain.Operation{
			Name:   "execute_linux_commands",
			Doc:    commandsDoc,
			Params: []domain.Param{{Name: "commands_json"}},
			Func:   noop,
		}),
		domain.Invocable(domain.Operation{
			Name: "write_state_file",
			Doc:  "Writes a state file state.txt.",
			Func: noop,
		}),
		{
			Name:   "hidden",
			Doc:    "Not advertised.",
			Params: []domain.Param{{Name: "x"}},
			Func:   noop,
		},
		domain.Invocable(domain.Operation{
			Name: "copy",
			Doc:  "Copy a file.\n:param src: where from\n:param mode: file mode",
			Params: []domain.Param{
				{Name: "src"},
				{Name: "dst", Kind: domain.PositionalOnly},
				{Name: "mode", Default: strPtr("0644")},
				{Name: "extra", Kind: domain.VarPositional},
				{Name: "force", Kind: domain.KeywordOnly},
				{Name: "opts", Kind: domain.VarKeyword},
			},
			Func: noop,
		}),
	}
}

func properties(t *testing.T, def domain.ToolDefinition) map[string]any {
	t.Helper()
	if def.Parameters["type"] != "object" {
		t.Fatalf("%s: expected type=object, got %v", def.Name, def.Parameters["type"])
	}
	props, ok := def.Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("%s: properties missing", def.Name)
	}
	return props
}

func TestSynthesize_OnlyInvocableInOrder(t *testing.T) {
	defs := Synthesize(testOperations())

	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	want := []string{"execute_linux_commands", "write_state_file", "copy"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names: got %v, want %v", names, want)
	}
}

func TestSynthesize_CommandsDescriptor(t *testing.T) {
	def := Synthesize(testOperations())[0]

	if def.Description != "Execute list of Linux commands and return stdout for each." {
		t.Fatalf("description: got %q", def.Description)
	}
	props := properties(t, def)
	p, ok := props["commands_json"].(map[string]any)
	if !ok {
		t.Fatal("commands_json property missing")
	}
	if p["type"] != "string" {
		t.Fatalf("type: got %v", p["type"])
	}
	want, _ := ParseDoc(commandsDoc).Description("commands_json")
	if p["description"] != want {
		t.Fatalf("description: got %v", p["description"])
	}
	if !reflect.DeepEqual(def.Required, []string{"commands_json"}) {
		t.Fatalf("required: got %v", def.Required)
	}
}

func TestSynthesize_NoParams(t *testing.T) {
	def := Synthesize(testOperations())[1]
	if len(properties(t, def)) != 0 {
		t.Fatalf("expected no properties, got %v", def.Parameters)
	}
	if def.Required != nil {
		t.Fatalf("expected no required list, got %v", def.Required)
	}
}

func TestSynthesize_EveryParamPresentAndRequiredness(t *testing.T) {
	def := Synthesize(testOperations())[2]
	props := properties(t, def)

	for _, name := range []string{"src", "dst", "mode", "extra", "force", "opts"} {
		if _, ok := props[name]; !ok {
			t.Fatalf("property %q missing", name)
		}
	}
	if got := props["dst"].(map[string]any)["description"]; got != NoDescription {
		t.Fatalf("dst should fall back to placeholder, got %v", got)
	}
	if got := props["mode"].(map[string]any)["description"]; got != "file mode" {
		t.Fatalf("mode: got %v", got)
	}

	if !reflect.DeepEqual(def.Required, []string{"src", "dst"}) {
		t.Fatalf("required: got %v", def.Required)
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	a := Synthesize(testOperations())
	b := Synthesize(testOperations())
	if !reflect.DeepEqual(a, b) {
		t.Fatal("two synthesis passes differ")
	}
}

func TestAppendRequired_NeverDrops(t *testing.T) {
	def := domain.ToolDefinition{Name: "x", Required: []string{"a"}}
	AppendRequired(&def, "b", "c")
	AppendRequired(&def)
	if !reflect.DeepEqual(def.Required, []string{"a", "b", "c"}) {
		t.Fatalf("required: got %v", def.Required)
	}
}

func TestParameters_WithRequired(t *testing.T) {
	params := Parameters(
		map[string]Property{
			"name": {Type: "string", Description: "The name"},
			"age":  {Type: "number", Description: "The age in years"},
		},
		[]string{"name"},
	)
	props := params["properties"].(map[string]any)
	if len(props) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(props))
	}
	required := params["required"].([]string)
	if len(required) != 1 || required[0] != "name" {
		t.Fatalf("unexpected required: %v", required)
	}
}

func TestParameters_NoRequired(t *testing.T) {
	params := Parameters(map[string]Property{"q": {Type: "string"}}, nil)
	if _, ok := params["required"]; ok {
		t.Fatal("should not have 'required' key when nil")
	}
}

func TestArgumentSchema_FoldsRequiredWithoutDuplicates(t *testing.T) {
	def := domain.ToolDefinition{
		Name:       "x",
		Parameters: Parameters(map[string]Property{"a": {Type: "string"}}, nil),
		Required:   []string{"a", "a"},
	}
	s := ArgumentSchema(def)
	if !reflect.DeepEqual(s["required"], []any{"a"}) {
		t.Fatalf("required: got %v", s["required"])
	}
	if _, ok := def.Parameters["required"]; ok {
		t.Fatal("ArgumentSchema must not mutate the descriptor")
	}
}
