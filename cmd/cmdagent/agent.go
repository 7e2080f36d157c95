package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cmdagent/internal/agent"
	"cmdagent/internal/audit"
	"cmdagent/internal/config"
	"cmdagent/internal/domain"
	"cmdagent/internal/provider"
	"cmdagent/internal/tool"

	"github.com/spf13/cobra"
)

// runtime holds everything a command needs; close releases it.
type runtime struct {
	cfg   *config.Config
	agent *agent.Agent
	store *audit.SQLiteStore
}

func (r *runtime) close() {
	if r.store != nil {
		r.store.Close()
	}
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg}

	var recorder tool.CommandRecorder
	var auditStore domain.AuditStore
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, err
		}
		rt.store = store
		recorder, auditStore = store, store

		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		if n, err := store.Prune(ctx, retention); err != nil {
			logger.Warn("audit prune failed", "err", err)
		} else if n > 0 {
			logger.Debug("audit pruned", "rows", n)
		}
	}

	prov := provider.NewOpenAI(provider.OpenAIConfig{
		Name:    cfg.Provider.Name,
		APIKey:  cfg.Provider.APIKey,
		APIBase: cfg.Provider.APIBase,
		Model:   cfg.Provider.Model,
		Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	a, err := agent.New(agent.Config{
		Provider: prov,
		Executor: tool.NewExecutor(tool.ExecutorConfig{
			WorkingDir:     cfg.General.Workspace,
			TimeoutSeconds: cfg.Tools.Shell.Timeout,
			Recorder:       recorder,
			Logger:         logger,
		}),
		Snapshot: tool.NewSnapshotter(tool.SnapshotConfig{
			Root:             cfg.General.Workspace,
			Output:           cfg.Tools.Snapshot.Output,
			Exclude:          cfg.Tools.Snapshot.Exclude,
			Include:          cfg.Tools.Snapshot.Include,
			RespectGitignore: cfg.Tools.Snapshot.RespectGitignore,
			Logger:           logger,
		}),
		Audit:       auditStore,
		Logger:      logger,
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.agent = a
	return rt, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func functionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "Print the calling contract advertised to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			return printJSON(rt.agent.Functions())
		},
	}
}

func askCmd() *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a prompt with the calling contract and print the model's message",
		Long: `Sends one user message to the model together with the calling contract.
Without arguments the prompt is read from stdin after a "> " marker.
With --execute, every call in the reply is dispatched and its report printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			prompt := strings.Join(args, " ")
			if prompt == "" {
				fmt.Fprint(cmd.OutOrStdout(), "> ")
				prompt, err = readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			resp, err := rt.agent.Respond(ctx, prompt)
			if err != nil {
				return err
			}
			if err := printJSON(resp); err != nil {
				return err
			}
			if !execute {
				return nil
			}

			for _, call := range rt.agent.ToolCalls(resp) {
				out, err := rt.agent.Dispatch(ctx, call)
				if err != nil {
					return fmt.Errorf("%s: %w", call.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "--- %s ---\n%s\n", call.Name, out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "dispatch the calls the model returns")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return line, nil
}

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec [commands_json]",
		Short: "Run a JSON command batch locally, as the model would",
		Long: `Runs a batch such as '[{"command": "ls", "args": ["-la"]}]' and prints the report.
Without arguments the batch is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			var raw string
			if len(args) == 1 {
				raw = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				raw = string(data)
			}

			out, err := rt.agent.ExecuteLinuxCommands(ctx, raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Write the workspace state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			out, err := rt.agent.WriteStateFile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		limit     int
		exchanges bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed commands or model exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			if rt.store == nil {
				return fmt.Errorf("audit is disabled (audit.enabled=false)")
			}

			if exchanges {
				recs, err := rt.store.RecentExchanges(ctx, limit)
				if err != nil {
					return err
				}
				for _, r := range recs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %5dms  %s\n",
						r.CreatedAt.Format(time.DateTime), r.Provider, r.LatencyMs, oneLine(r.Prompt))
				}
				return nil
			}

			recs, err := rt.store.RecentCommands(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range recs {
				line := strings.TrimSpace(r.Command + " " + strings.Join(r.Args, " "))
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-10s %s\n",
					r.CreatedAt.Format(time.DateTime), shortID(r.BatchID), r.Outcome, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&exchanges, "exchanges", false, "show model exchanges instead of commands")
	return cmd
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
