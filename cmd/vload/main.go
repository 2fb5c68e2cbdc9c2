package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertica-tools/vload/pkg/config"
	"github.com/vertica-tools/vload/pkg/importer"
	"github.com/vertica-tools/vload/pkg/logger"
	"github.com/vertica-tools/vload/pkg/migrate"
	"github.com/vertica-tools/vload/pkg/vertica"
)

var version = "0.1.0"

// policyFlags mirrors migrate.Policy plus the per-side reconnect toggles.
// Credentials never appear here; they come from the config file only, so
// they cannot leak into process listings or shell history.
type policyFlags struct {
	Commit          bool
	SkipDDLs        bool
	CleverDDLs      bool
	SkipData        bool
	EvenNotEmpty    bool
	Truncate        bool
	Limit           int64
	AbortOnError    bool
	SourceReconnect bool
	TargetReconnect bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "vload",
		Short: "vload - Vertica bulk loading and migration",
		Long: `vload streams data into Vertica through COPY FROM STDIN and migrates
schemas, tables and data between two Vertica clusters. Connection settings,
including credentials, are read from a YAML config file.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vload v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile, logLevel string
	var timeout time.Duration
	var flags policyFlags

	migrateCmd := &cobra.Command{
		Use:   "migrate [object ...]",
		Short: "Migrate objects from the source cluster to the target cluster",
		Long: `Migrate schemas and tables between two Vertica clusters. Objects are
schema names ("staging") or qualified table names ("staging.orders"); without
arguments the object list from the config file is used, and an empty list
selects every non-system schema. Without --commit the run is a dry-run that
reports what it would do and never touches the target.

Example:
  vload migrate --config clusters.yaml --commit --limit 100 staging.orders`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configFile, logLevel, timeout, flags, args)
		},
	}

	migrateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the YAML config file holding source/target connection settings (required)")
	_ = migrateCmd.MarkFlagRequired("config")

	migrateCmd.Flags().BoolVar(&flags.Commit, "commit", false, "Apply DDL and copy data; without this flag the run is a dry-run")
	migrateCmd.Flags().BoolVar(&flags.SkipDDLs, "skip-ddls", false, "Do not create schemas or tables on the target")
	migrateCmd.Flags().BoolVar(&flags.CleverDDLs, "clever-ddls", false, "Skip DDL for objects that already exist on the target")
	migrateCmd.Flags().BoolVar(&flags.SkipData, "skip-data", false, "Migrate DDL only, no data")
	migrateCmd.Flags().BoolVar(&flags.EvenNotEmpty, "even-not-empty", false, "Copy data even when the target table already holds rows")
	migrateCmd.Flags().BoolVar(&flags.Truncate, "truncate", false, "Truncate each target table before copying its data")
	migrateCmd.Flags().Int64Var(&flags.Limit, "limit", 0, "Maximum number of rows to copy per table (0 = all)")
	migrateCmd.Flags().BoolVar(&flags.AbortOnError, "abort-on-error", false, "Stop the run at the first failed object instead of continuing")
	migrateCmd.Flags().BoolVar(&flags.SourceReconnect, "source-reconnect", false, "Pick a fresh source node on every connect instead of a sticky session")
	migrateCmd.Flags().BoolVar(&flags.TargetReconnect, "target-reconnect", false, "Pick a fresh target node on every connect instead of a sticky session")
	migrateCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	migrateCmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall run timeout (0 = none)")

	root.AddCommand(migrateCmd)

	var importConfigFile, importFile, importLogLevel string
	var createTable bool

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a CSV file into a table with duplicate protection",
		Long: `Import a delimited file into a Vertica table. The config file maps CSV
header fields to table columns and names the source; an import whose source
path was already recorded in the batch-history table is refused.

Example:
  vload import --config import.yaml --file report.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(importConfigFile, importFile, importLogLevel, createTable)
		},
	}

	importCmd.Flags().StringVarP(&importConfigFile, "config", "c", "", "Path to the YAML config file holding connection, table and mapping (required)")
	_ = importCmd.MarkFlagRequired("config")
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "Path to the CSV file to import (required)")
	_ = importCmd.MarkFlagRequired("file")
	importCmd.Flags().BoolVar(&createTable, "create-table", false, "Create the target table from the mapping before importing")
	importCmd.Flags().StringVar(&importLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(importCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(configFile, logLevel string, timeout time.Duration, flags policyFlags, objects []string) error {
	var cfg config.MigrateConfig
	if err := config.Load(configFile, &cfg); err != nil {
		return fmt.Errorf("loading config %s: %w", configFile, err)
	}
	cfg.Source.Reconnect = cfg.Source.Reconnect || flags.SourceReconnect
	cfg.Target.Reconnect = cfg.Target.Reconnect || flags.TargetReconnect
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configFile, err)
	}
	if len(objects) == 0 {
		objects = cfg.Objects
	}

	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "console"}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("component", "vload-cli"))

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	source, err := acquire(ctx, cfg.Source, log.Named("source"))
	if err != nil {
		return fmt.Errorf("connecting to source cluster: %w", err)
	}
	defer func() { _ = source.Close() }()

	target, err := acquire(ctx, cfg.Target, log.Named("target"))
	if err != nil {
		return fmt.Errorf("connecting to target cluster: %w", err)
	}
	defer func() { _ = target.Close() }()

	policy := migrate.Policy{
		Commit:       flags.Commit,
		SkipDDLs:     flags.SkipDDLs,
		CleverDDLs:   flags.CleverDDLs,
		SkipData:     flags.SkipData,
		EvenNotEmpty: flags.EvenNotEmpty,
		Truncate:     flags.Truncate,
		Limit:        flags.Limit,
		AbortOnError: flags.AbortOnError,
	}
	m, err := migrate.New(ctx, source, target, policy,
		migrate.WithLogger(log),
		migrate.WithCopyOptions(cfg.Copy))
	if err != nil {
		return err
	}

	plan, err := m.Plan(ctx, objects)
	if err != nil {
		return err
	}

	log.Info("starting migration",
		zap.Int("objects", plan.Size()),
		zap.Bool("commit", flags.Commit))
	startTime := time.Now()

	result, runErr := m.Run(ctx, plan)
	if result != nil {
		printResult(result, flags.Commit)
	}
	if runErr != nil {
		return runErr
	}

	log.Info("migration completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("objects", plan.Size()))
	return nil
}

func runImport(configFile, dataFile, logLevel string, createTable bool) error {
	var cfg config.ImportConfig
	if err := config.Load(configFile, &cfg); err != nil {
		return fmt.Errorf("loading config %s: %w", configFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "console"}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.WithValue(context.Background(), logger.TableKey, cfg.Table)
	log := logger.WithContext(ctx).With(zap.String("component", "vload-cli"))

	conn, err := acquire(ctx, cfg.Connection, log)
	if err != nil {
		return fmt.Errorf("connecting to cluster: %w", err)
	}
	defer func() { _ = conn.Close() }()

	mapping := make([]importer.FieldMapping, len(cfg.Mapping))
	for i, f := range cfg.Mapping {
		mapping[i] = importer.FieldMapping{Field: f.Field, Column: f.Column, DataType: f.DataType}
	}
	options := []importer.Option{
		importer.WithLogger(log),
		importer.WithCopyOptions(cfg.Copy),
	}
	if cfg.HistoryTable != "" {
		options = append(options, importer.WithHistoryTable(cfg.HistoryTable))
	}
	im, err := importer.New(conn, cfg.Table, importer.Source(cfg.Source), mapping, options...)
	if err != nil {
		return err
	}

	if createTable {
		if _, err := conn.Exec(ctx, im.CreateTableSQL()); err != nil {
			return fmt.Errorf("creating table %s: %w", cfg.Table, err)
		}
	}

	f, err := os.Open(dataFile)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dataFile, err)
	}
	defer func() { _ = f.Close() }()

	reader, err := importer.NewCSVReader(f, 0)
	if err != nil {
		return err
	}
	accepted, err := im.Run(ctx, reader)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d rows into %s\n", accepted, cfg.Table)
	return nil
}

// acquire builds a provider for one cluster and dials a connection.
func acquire(ctx context.Context, cfg config.ConnectionConfig, log *zap.Logger) (vertica.Conn, error) {
	provider, err := vertica.NewProvider(cfg, vertica.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return provider.Acquire(ctx)
}

func printResult(result *migrate.Result, commit bool) {
	if !commit {
		fmt.Println("Dry-run result (no changes were made):")
	} else {
		fmt.Println("Migration result:")
	}
	for _, res := range result.Results() {
		line := fmt.Sprintf("  %-8s %-6s %s", res.Status, res.Object.Kind, res.Object.Name)
		if res.Object.Kind == migrate.KindTable && res.Status == migrate.StatusApplied {
			line += fmt.Sprintf(" (%d rows)", res.Rows)
		}
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		fmt.Println(line)
	}
}
