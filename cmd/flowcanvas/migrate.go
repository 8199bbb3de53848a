package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/BaSui01/flowcanvas/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

var errMigrateUsage = errors.New("invalid migrate usage")

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	err := migrateCommand(context.Background(), args, os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errMigrateUsage), errors.Is(err, flag.ErrHelp):
		printMigrateUsage(os.Stderr)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// migrateCommand 执行一个迁移子命令，输出写入 out
func migrateCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errMigrateUsage
	}
	sub, rest := args[0], args[1:]

	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(out)
		return nil
	}

	// goto/force 的版本号是第一个位置参数
	var version int64
	if sub == "goto" || sub == "force" {
		if len(rest) < 1 {
			return fmt.Errorf("%w: %s requires a version", errMigrateUsage, sub)
		}
		v, err := strconv.ParseInt(rest[0], 10, 32)
		if err != nil || (sub == "goto" && v < 0) {
			return fmt.Errorf("%w: invalid version %q", errMigrateUsage, rest[0])
		}
		version, rest = v, rest[1:]
	}

	var run func(*migration.CLI) error
	switch sub {
	case "up":
		run = func(c *migration.CLI) error { return c.RunUp(ctx) }
	case "down":
		run = func(c *migration.CLI) error { return c.RunDown(ctx) }
	case "reset":
		run = func(c *migration.CLI) error { return c.RunReset(ctx) }
	case "status":
		run = func(c *migration.CLI) error { return c.RunStatus(ctx) }
	case "version":
		run = func(c *migration.CLI) error { return c.RunVersion(ctx) }
	case "goto":
		run = func(c *migration.CLI) error { return c.RunGoto(ctx, uint(version)) }
	case "force":
		run = func(c *migration.CLI) error { return c.RunForce(ctx, int(version)) }
	default:
		return fmt.Errorf("%w: unknown subcommand %q", errMigrateUsage, sub)
	}

	migrator, err := createMigrator(sub, rest)
	if err != nil {
		return err
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(out)
	return run(cli)
}

// createMigrator creates a migrator from command line flags, falling back to the config file
func createMigrator(sub string, args []string) (*migration.DefaultMigrator, error) {
	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database DSN")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errMigrateUsage, err)
	}

	if *dbType != "" && *dbURL != "" {
		t, err := migration.ParseDatabaseType(*dbType)
		if err != nil {
			return nil, err
		}
		return migration.NewMigratorFromDSN(t, *dbURL)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.NewMigratorFromConfig(cfg.Database)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  flowcanvas migrate <subcommand> [options]

Subcommands:
  up           Apply all pending migrations
  down         Rollback the last migration
  status       Show migration status
  version      Show current migration version
  goto <v>     Migrate to a specific version
  force <v>    Force set migration version (use with caution)
  reset        Rollback all migrations
  help         Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <dsn>      Database DSN (default: from config)

Examples:
  flowcanvas migrate up
  flowcanvas migrate up --db-type sqlite --db-url ./flowcanvas.db
  flowcanvas migrate status --config /etc/flowcanvas/config.yaml
  flowcanvas migrate goto 1`)
}
