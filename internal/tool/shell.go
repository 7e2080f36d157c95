package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"cmdagent/internal/domain"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// RedirectToken marks output redirection inside a command's args. The
// argument that follows it is the target file.
const RedirectToken = ">"

const (
	redirectedPrefix = "REDIRECTED_TO_FILE: "
	exitErrorPrefix  = "Error executing command: "
	notFoundPrefix   = "Command not found: "
	unexpectedPrefix = "An unexpected error occurred: "
)

// waitDelay bounds how long Wait keeps reading output after a command is
// cancelled.
const waitDelay = time.Second

// ErrDecodeBatch is returned when a command batch cannot be decoded. No
// command of such a batch is run.
var ErrDecodeBatch = errors.New("decode command batch")

const batchSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["command"],
		"properties": {
			"command": {"type": "string"},
			"args": {"type": "array", "items": {"type": "string"}}
		}
	}
}`

var batchSchema = mustSchema(batchSchemaJSON)

func mustSchema(s string) *gojsonschema.Schema {
	sch, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return sch
}

// CommandSpec is one element of a command batch.
type CommandSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// OutcomeKind classifies what happened to a single command.
type OutcomeKind string

const (
	OutcomeOutput     OutcomeKind = "output"
	OutcomeRedirected OutcomeKind = "redirected"
	OutcomeExitError  OutcomeKind = "exit_error"
	OutcomeNotFound   OutcomeKind = "not_found"
	OutcomeUnexpected OutcomeKind = "unexpected"
)

// Outcome is the result of one command. Text is the command's entry in the
// batch report.
type Outcome struct {
	Spec     CommandSpec
	Redirect string
	Kind     OutcomeKind
	Text     string
}

func (o Outcome) Failed() bool {
	return o.Kind != OutcomeOutput && o.Kind != OutcomeRedirected
}

// CommandRecorder receives every executed command.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, rec domain.CommandRecord) error
}

type ExecutorConfig struct {
	WorkingDir     string
	TimeoutSeconds int // 0 disables the per-command timeout
	Recorder       CommandRecorder
	Logger         *slog.Logger
}

// Executor runs command batches one command at a time. A failing command
// never stops the batch; its failure becomes its report line.
type Executor struct {
	workingDir string
	timeout    time.Duration
	recorder   CommandRecorder
	logger     *slog.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var timeout time.Duration
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Executor{
		workingDir: cfg.WorkingDir,
		timeout:    timeout,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
	}
}

// DecodeBatch parses a JSON array of {"command": string, "args": [string]}.
func DecodeBatch(raw string) ([]CommandSpec, error) {
	data := []byte(raw)
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: input is not valid JSON", ErrDecodeBatch)
	}

	result, err := batchSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeBatch, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrDecodeBatch, strings.Join(msgs, "; "))
	}

	var specs []CommandSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeBatch, err)
	}
	return specs, nil
}

// RunBatch decodes raw and runs every command in order, returning the
// combined report. Only a decode failure is returned as an error.
func (e *Executor) RunBatch(ctx context.Context, raw string) (string, error) {
	specs, err := DecodeBatch(raw)
	if err != nil {
		return "", err
	}
	return Report(e.Run(ctx, specs)), nil
}

// Run executes specs sequentially and returns one outcome per spec.
func (e *Executor) Run(ctx context.Context, specs []CommandSpec) []Outcome {
	batchID := uuid.NewString()
	e.logger.Info("running command batch", "batch", batchID, "commands", len(specs))

	outcomes := make([]Outcome, 0, len(specs))
	for _, spec := range specs {
		out := e.runOne(ctx, spec)
		if out.Failed() {
			e.logger.Warn("command failed", "batch", batchID, "command", spec.Command, "outcome", out.Kind, "report", out.Text)
		} else {
			e.logger.Debug("command finished", "batch", batchID, "command", spec.Command, "outcome", out.Kind)
		}
		e.record(ctx, batchID, out)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Report joins outcome texts, one per line, and trims trailing whitespace.
func Report(outcomes []Outcome) string {
	var b strings.Builder
	for _, o := range outcomes {
		b.WriteString(o.Text)
		b.WriteByte('\n')
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}

func (e *Executor) runOne(ctx context.Context, spec CommandSpec) Outcome {
	i := slices.Index(spec.Args, RedirectToken)
	if i < 0 {
		return e.runCaptured(ctx, spec)
	}
	if i+1 >= len(spec.Args) {
		return unexpected(spec, "", "missing redirection target after \">\"")
	}
	target := spec.Args[i+1]
	if target == "" {
		return unexpected(spec, "", "empty redirection target")
	}
	return e.runRedirected(ctx, spec, spec.Args[:i], target)
}

func (e *Executor) runCaptured(ctx context.Context, spec CommandSpec) Outcome {
	cmd, cmdCtx, cancel := e.command(ctx, spec.Command, spec.Args)
	defer cancel()

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			e.logger.Debug("command stderr", "command", spec.Command, "stderr", string(exitErr.Stderr))
		}
		return classify(cmdCtx, spec, "", out, err)
	}
	return Outcome{Spec: spec, Kind: OutcomeOutput, Text: decode(out)}
}

// runRedirected sends stdout of the command to target. The exit status is
// not inspected on this path: a non-zero exit is still acknowledged.
func (e *Executor) runRedirected(ctx context.Context, spec CommandSpec, args []string, target string) Outcome {
	path := target
	if !filepath.IsAbs(path) && e.workingDir != "" {
		path = filepath.Join(e.workingDir, path)
	}

	f, err := os.Create(path)
	if err != nil {
		return unexpected(spec, target, err.Error())
	}
	defer f.Close()

	cmd, cmdCtx, cancel := e.command(ctx, spec.Command, args)
	defer cancel()
	cmd.Stdout = f

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || cmdCtx.Err() != nil {
			return classify(cmdCtx, spec, target, nil, err)
		}
		e.logger.Debug("redirected command exited non-zero", "command", spec.Command, "exit", exitErr.ExitCode())
	}

	if err := f.Close(); err != nil {
		return unexpected(spec, target, err.Error())
	}
	return Outcome{Spec: spec, Redirect: target, Kind: OutcomeRedirected, Text: redirectedPrefix + target}
}

func (e *Executor) command(ctx context.Context, name string, args []string) (*exec.Cmd, context.Context, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.workingDir
	// Children that inherit stdout would otherwise hold Wait open after
	// the direct child is killed.
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	return cmd, ctx, cancel
}

func classify(ctx context.Context, spec CommandSpec, target string, stdout []byte, err error) Outcome {
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return unexpected(spec, target, fmt.Sprintf("command timed out or cancelled: %v", ctx.Err()))
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return Outcome{Spec: spec, Redirect: target, Kind: OutcomeNotFound, Text: notFoundPrefix + spec.Command}
	case errors.As(err, &exitErr):
		return Outcome{Spec: spec, Redirect: target, Kind: OutcomeExitError, Text: exitErrorPrefix + decode(stdout)}
	default:
		return unexpected(spec, target, err.Error())
	}
}

func unexpected(spec CommandSpec, target, msg string) Outcome {
	return Outcome{Spec: spec, Redirect: target, Kind: OutcomeUnexpected, Text: unexpectedPrefix + msg}
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func (e *Executor) record(ctx context.Context, batchID string, out Outcome) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.RecordCommand(ctx, domain.CommandRecord{
		BatchID:  batchID,
		Command:  out.Spec.Command,
		Args:     out.Spec.Args,
		Redirect: out.Redirect,
		Outcome:  string(out.Kind),
		Report:   out.Text,
	})
	if err != nil {
		e.logger.Warn("cannot record command", "command", out.Spec.Command, "err", err)
	}
}
