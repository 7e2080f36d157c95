package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"cmdagent/internal/audit"
	"cmdagent/internal/config"
	"cmdagent/internal/provider"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your cmdagent setup",
		Long: `Verifies that the configuration, workspace, audit database and model
endpoint are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("cmdagent doctor v%s\n\n", version)

			var passed, failed, warned int
			pass := func(check, detail string) { printPass(check, detail); passed++ }
			fail := func(check, detail string) { printFail(check, detail); failed++ }
			warn := func(check, detail string) { printWarn(check, detail); warned++ }

			var cfg *config.Config
			if _, err := os.Stat(cfgPath); err != nil {
				warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				cfg = config.Resolve(config.Defaults())
			} else if cfg, err = config.Load(cfgPath); err != nil {
				fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			} else {
				pass("Config file", cfgPath)
			}

			if info, err := os.Stat(cfg.General.Workspace); err != nil {
				fail("Workspace", fmt.Sprintf("not found: %s", cfg.General.Workspace))
			} else if !info.IsDir() {
				fail("Workspace", fmt.Sprintf("not a directory: %s", cfg.General.Workspace))
			} else {
				pass("Workspace", cfg.General.Workspace)
			}

			if path, err := exec.LookPath("sh"); err != nil {
				warn("Shell", "no sh on PATH")
			} else {
				pass("Shell", path)
			}

			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					fail("Audit database", err.Error())
				} else {
					pass("Audit database", cfg.Audit.DBPath)
				}
			} else {
				warn("Audit database", "disabled")
			}

			switch {
			case cfg.Provider.APIKey == "":
				warn("API key", fmt.Sprintf("not set (provider.apiKey or $%s)", config.EnvAPIKey))
			default:
				pass("API key", config.Sanitize(cfg).Provider.APIKey)
			}

			if offline {
				warn("Model endpoint", "skipped (--offline)")
			} else {
				prov := provider.NewOpenAI(provider.OpenAIConfig{
					Name:    cfg.Provider.Name,
					APIKey:  cfg.Provider.APIKey,
					APIBase: cfg.Provider.APIBase,
					Model:   cfg.Provider.Model,
					Logger:  logger,
				})
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := prov.Healthy(ctx)
				cancel()
				if err != nil {
					fail("Model endpoint", err.Error())
				} else {
					pass("Model endpoint", cfg.Provider.APIBase)
				}
			}

			fmt.Printf("\n%d passed, %d failed, %d warnings\n", passed, failed, warned)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the model endpoint check")
	return cmd
}

func checkDatabase(dbPath string) error {
	store, err := audit.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.RecentCommands(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("database locked")
		}
		return fmt.Errorf("not readable: %w", err)
	}
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-16s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-16s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-16s %s\n", check, detail)
}
