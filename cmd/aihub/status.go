package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"aihub/internal/config"
	"aihub/internal/domain"
	"aihub/internal/provider"
	"aihub/internal/store"
)

func statusCmd() *cobra.Command {
	var models bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe every backend once and print its health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.monitor.CheckAll(ctx)
			for _, h := range snap {
				line := fmt.Sprintf("%-10s %-8s", h.BackendID, h.Status)
				if h.LastLatencyMs != nil {
					line += fmt.Sprintf(" %5dms", *h.LastLatencyMs)
				}
				if h.LastError != "" {
					line += "  " + h.LastError
				}
				fmt.Println(line)
			}
			fmt.Printf("%d of %d backends online\n", snap.Online(), len(snap))

			if models && snap.Status(provider.OllamaBackendID) == domain.StatusOnline {
				out := a.registry.Ollama().ListModels(ctx)
				if !out.OK {
					return out.Err()
				}
				fmt.Println("\nmodels:")
				for _, m := range out.Value {
					fmt.Printf("  %s\n", m.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&models, "models", false, "also list the models installed on Ollama")
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your aihub installation",
		Long: `Verifies that the configuration, data directories, database and API port
are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("aihub doctor v%s\n\n", version)

			passed, warned, failed := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d warnings, 1 failed\n", passed, warned)
				return err
			}
			printPass("Config validation", "valid")
			passed++

			for _, dir := range []struct{ name, path string }{
				{"Data directory", cfg.General.DataDir},
				{"Export directory", cfg.Export.Dir},
			} {
				path := config.ExpandPath(dir.path)
				if err := os.MkdirAll(path, 0o755); err != nil {
					printFail(dir.name, err.Error())
					failed++
				} else {
					printPass(dir.name, path)
					passed++
				}
			}

			if cfg.Store.Enabled {
				dbPath := config.ExpandPath(cfg.Store.DBPath)
				if err := checkDatabase(dbPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", dbPath)
					passed++
				}
			} else {
				printWarn("Database", "store disabled, history is not kept")
				warned++
			}

			if cfg.API.Enabled {
				if err := checkPort(cfg.API.Host, cfg.API.Port); err != nil {
					printWarn("API port", fmt.Sprintf("port %d may be in use: %v", cfg.API.Port, err))
					warned++
				} else {
					printPass("API port", fmt.Sprintf("%s:%d available", cfg.API.Host, cfg.API.Port))
					passed++
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(config.ExpandPath(cfg.General.LogFile)), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Println("Run 'aihub status' to probe the backends.")
			return nil
		},
	}
}

// checkDatabase opens the store, which also applies pending migrations.
func checkDatabase(dbPath string) error {
	st, err := store.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return pingWritable(ctx, st.DB())
}

func pingWritable(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
