package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/BaSui01/dynconf/config"
	"github.com/BaSui01/dynconf/internal/migration"
)

// =============================================================================
// 🗄️ 审计库迁移命令
// =============================================================================

// openMigrator 测试中可替换
var openMigrator = func(audit config.AuditConfig, dbType, dbURL string) (migration.Migrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL)
	}
	if dbType != "" {
		audit.Driver = dbType
	}
	return migration.NewMigratorFromAuditConfig(audit)
}

func runMigrate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printMigrateUsage(stderr)
		return 2
	}
	sub, rest := args[0], args[1:]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(stdout)
		return 0
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	settingsPath := fs.String("config", "", "Path to settings file (YAML)")
	dbType := fs.String("db-type", "", "Database type: postgres, mysql")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	// goto/force 需要一个版本号参数
	var version int
	switch sub {
	case "up", "down", "status", "version", "reset":
	case "goto", "force":
		if fs.NArg() != 1 {
			fmt.Fprintf(stderr, "migrate %s requires a version argument\n", sub)
			return 2
		}
		v, err := strconv.Atoi(fs.Arg(0))
		if err != nil || (sub == "goto" && v < 0) {
			fmt.Fprintf(stderr, "invalid version: %q\n", fs.Arg(0))
			return 2
		}
		version = v
	default:
		fmt.Fprintf(stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage(stderr)
		return 2
	}

	loader := config.NewLoader()
	if *settingsPath != "" {
		loader = loader.WithConfigPath(*settingsPath)
	}
	settings, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load settings: %v\n", err)
		return 1
	}

	m, err := openMigrator(settings.Audit, *dbType, *dbURL)
	if errors.Is(err, migration.ErrManagedByGorm) {
		fmt.Fprintln(stdout, "sqlite audit journal is migrated automatically on startup; nothing to do.")
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create migrator: %v\n", err)
		return 1
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)
	ctx := context.Background()

	switch sub {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		err = cli.RunDown(ctx)
	case "reset":
		err = cli.RunDownAll(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	case "version":
		err = cli.RunVersion(ctx)
	case "goto":
		err = cli.RunGoto(ctx, uint(version))
	case "force":
		err = cli.RunForce(ctx, version)
	}
	if err != nil {
		fmt.Fprintf(stderr, "migrate %s failed: %v\n", sub, err)
		return 1
	}
	return 0
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Audit journal schema migrations

Usage:
  dynconf migrate <subcommand> [options] [version]

Subcommands:
  up        Apply all pending migrations
  down      Roll back the last migration
  status    Show migration status
  version   Show current migration version
  goto N    Migrate to version N
  force N   Force the recorded version without running migrations
  reset     Roll back all migrations

Options:
  -config <path>    Settings file (audit section supplies the database)
  -db-type <type>   postgres or mysql
  -db-url <url>     Connection URL, overrides the settings file

Examples:
  dynconf migrate up -config /etc/dynconf/settings.yaml
  dynconf migrate status -db-type postgres -db-url postgres://dyn:pw@db:5432/audit?sslmode=disable
  dynconf migrate force 1`)
}
