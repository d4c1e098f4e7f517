package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dbtforge/internal/config"
	"dbtforge/internal/llm"
	"dbtforge/internal/logging"
	"dbtforge/internal/store"
	"dbtforge/internal/workbench"
)

var (
	// Global flags
	configPath string
	verbose    bool
	plain      bool
	sessionID  string

	// Set up in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
	db     *store.Store
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dbtforge",
	Short: "dbtforge - turn spreadsheets into a relational schema and DBT project",
	Long: `dbtforge streams an inferred relational schema from CSV, TSV or XLSX files,
then generates DBT models, configs and tests for it. Rules can be refined
in chat and exported as a ready-to-run DBT project.

Typical flow:
  dbtforge schema orders.csv customers.csv
  dbtforge rules --session <id>
  dbtforge chat --session <id> "make orders incremental"
  dbtforge export --session <id> -o project.zip`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(cfg.Logging.Options()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger = logging.Root()

		if cfg.Store.Enabled {
			db, err = store.Open(cfg.Store.DatabasePath)
			if err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			_ = db.Close()
		}
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dbtforge.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Plain output without colors or spinners")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "Resume a stored session")

	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, workbench.StatusMessage(err))
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openWorkbench resumes --session when set, otherwise starts a new session.
func openWorkbench(ctx context.Context) (*workbench.Workbench, error) {
	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	opts := workbench.OptionsFromConfig(cfg, db)
	if sessionID != "" {
		logger.Debug("Restoring session", zap.String("id", sessionID))
		return workbench.Restore(client, opts, sessionID)
	}
	wb, err := workbench.New(client, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("Started session", zap.String("id", wb.ID()), zap.String("model", client.Name()))
	return wb, nil
}

// requestContext bounds one LLM request by the configured timeout.
func requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, cfg.GetLLMTimeout())
}

func printSessionHint(wb *workbench.Workbench) {
	if db == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "session: %s\n", wb.ID())
}
