package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/eventflow/config"
	"github.com/BaSui01/eventflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// migrateCommand 一个迁移子命令：位置参数个数与执行体
type migrateCommand struct {
	positional int
	run        func(ctx context.Context, cli *migration.CLI, args []string) error
}

var migrateCommands = map[string]migrateCommand{
	"up": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunUp(ctx)
	}},
	"down": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunDown(ctx)
	}},
	"status": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunStatus(ctx)
	}},
	"version": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunVersion(ctx)
	}},
	"info": {run: func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunInfo(ctx)
	}},
	"steps": {positional: 1, run: func(ctx context.Context, cli *migration.CLI, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("invalid step count: %s", args[0])
		}
		return cli.RunSteps(ctx, n)
	}},
	"force": {positional: 1, run: func(ctx context.Context, cli *migration.CLI, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		return cli.RunForce(ctx, v)
	}},
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage()
		return
	}

	cmd, ok := migrateCommands[subcommand]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}

	rest := args[1:]
	if len(rest) < cmd.positional {
		fmt.Fprintf(os.Stderr, "Usage: eventflow migrate %s <value>\n", subcommand)
		os.Exit(1)
	}
	positional, flags := rest[:cmd.positional], rest[cmd.positional:]

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)
	migrator, err := createMigrator(fs, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := cmd.run(context.Background(), migration.NewCLI(migrator), positional); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", subcommand, err)
		migrator.Close()
		os.Exit(1)
	}
}

// createMigrator creates a migrator from the node config
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Event Store Migration Commands

Usage:
  eventflow migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply (n>0) or rollback (n<0) n migrations
  status      Show migration status
  version     Show current migration version
  info        Show migration summary
  force <v>   Force set migration version (use with caution)
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)

Examples:
  eventflow migrate up
  eventflow migrate up --config /etc/eventflow/config.yaml
  eventflow migrate steps -1
  eventflow migrate status
  eventflow migrate force 1`)
}
