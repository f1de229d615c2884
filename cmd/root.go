package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/proctor/internal/config"
	"github.com/andresmejia3/proctor/internal/logging"
	"github.com/andresmejia3/proctor/internal/store"
	"github.com/spf13/cobra"
)

// Annotation keys controlling the database connection opened in PersistentPreRunE.
const (
	annotationDB = "proctor/db"
	dbSkip       = "skip"     // never connect
	dbOptional   = "optional" // connect if possible, continue without history otherwise
)

var (
	// DB is the global database connection shared by subcommands. Nil when unavailable.
	DB *store.Store
	// Cfg is the loaded configuration.
	Cfg *config.Config
	// Logger is the process-wide structured logger.
	Logger *slog.Logger

	configPath string
	envFile    string
	dbURL      string
	logLevel   string
	logFormat  string
	noDB       bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "proctor",
	Short:   "Heuristic interview proctoring from a camera or recording",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.LoadDotEnv(envFileList()...); err != nil {
			return err
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbURL != "" {
			cfg.Database.URL = dbURL
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		Cfg = cfg

		Logger, err = logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			return err
		}
		slog.SetDefault(Logger)

		mode := cmd.Annotations[annotationDB]
		if mode == dbSkip || (mode == dbOptional && noDB) {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.Database.URL)
		if err != nil {
			if mode == dbOptional {
				Logger.Warn("session history disabled, database unavailable", "error", err)
				DB = nil
				return nil
			}
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func envFileList() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&envFile, "env-file", "", "Load environment variables from this file (default: .env if present)")
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: POSTGRES_* env or "+config.DefaultDatabaseURL+")")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")
}
