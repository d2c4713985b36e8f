// Package main 管理商店库的表结构迁移。
// 迁移文件位于 MIGRATIONS_DIR（默认 migrations/）：商品与库存流水、折扣、订单、退款。
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/config"
	"github.com/MorseWayne/moto_shop/internal/database"
	"github.com/MorseWayne/moto_shop/internal/logger"
)

// migrator 是 *database.DB 上的迁移操作
type migrator interface {
	RunMigrations(dir string) error
	MigrateDown(dir string, steps int) error
	MigrateToVersion(dir string, version uint) error
	ForceMigrationVersion(dir string, version uint) error
	MigrationVersion(dir string) (uint, bool, error)
}

var errUsage = errors.New("unknown migration action")

type options struct {
	action string
	steps  int
	target uint
	dir    string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.action, "action", "up", "up, down, version or force")
	flag.IntVar(&opts.steps, "steps", 1, "Number of migrations to roll back with -action=down")
	flag.UintVar(&opts.target, "target", 0, "Schema version for -action=version or -action=force")
	flag.Usage = func() { usage(flag.CommandLine.Output()) }
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	opts.dir = cfg.Migrations.Dir

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, "migrate", cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	db, err := database.New(cfg, lg)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Error("failed to close database", zap.Error(err))
		}
	}()

	if err := run(db, opts, lg); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
			os.Exit(2)
		}
		lg.Fatal("migration failed", zap.String("action", opts.action), zap.Error(err))
	}
}

// run 执行一次迁移动作。version 不带 -target 时只报告当前版本
func run(m migrator, opts options, lg *zap.Logger) error {
	switch opts.action {
	case "up":
		if err := m.RunMigrations(opts.dir); err != nil {
			return err
		}
	case "down":
		if opts.steps <= 0 {
			return fmt.Errorf("-steps must be positive, got %d", opts.steps)
		}
		if err := m.MigrateDown(opts.dir, opts.steps); err != nil {
			return err
		}
	case "version":
		if opts.target > 0 {
			if err := m.MigrateToVersion(opts.dir, opts.target); err != nil {
				return err
			}
		}
	case "force":
		// 版本 0 表示清空迁移记录，用于修复 dirty 状态
		lg.Warn("forcing schema version", zap.Uint("target", opts.target))
		if err := m.ForceMigrationVersion(opts.dir, opts.target); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w %q", errUsage, opts.action)
	}

	version, dirty, err := m.MigrationVersion(opts.dir)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	lg.Info("schema version",
		zap.String("action", opts.action),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: %s -action=up|down|version|force [-steps=N] [-target=V]

Database settings come from DB_* variables (or .env); MIGRATIONS_DIR selects
the SQL files.

  up       apply every pending migration
  down     roll back -steps migrations
  version  print the schema version, or migrate to -target when given
  force    mark -target as applied without running SQL (clears dirty state)

Schema versions:
  1  products and the stock adjustment ledger
  2  discount codes
  3  orders and order items
  4  refunds

Examples:
  migrate -action=up
  migrate -action=version
  migrate -action=version -target=3    # drop refunds, keep orders
  migrate -action=force -target=2
`, os.Args[0])
}
