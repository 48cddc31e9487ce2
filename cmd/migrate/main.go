package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/shopbot-backend/pkg/config"
	"github.com/angelmondragon/shopbot-backend/pkg/db"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/migrate"
)

const usage = `usage: shopbot-migrate <command> [flags]

commands:
  up                 apply every pending migration
  down               roll back the latest migration
  to -version N      move the schema to version N
  status             list migrations and whether they are applied
  create -name NAME  write an empty migration into -dir
  validate           check the embedded migrations`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	command := args[0]

	fset := flag.NewFlagSet(command, flag.ContinueOnError)
	dir := fset.String("dir", migrate.SourceDir, "directory for new migrations")
	name := fset.String("name", "", "migration name (create)")
	version := fset.String("version", "", "target version YYYYMMDDHHMMSS (to)")
	if err := fset.Parse(args[1:]); err != nil {
		return err
	}

	switch command {
	case "create":
		if *name == "" {
			return errors.New("create requires -name")
		}
		path, err := migrate.Create(*dir, *name)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "created", path)
		return nil
	case "validate":
		if err := migrate.Validate(migrate.Migrations()); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations ok")
		return nil
	case "up", "down", "to", "status":
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	var target int64
	if command == "to" {
		v, err := strconv.ParseInt(*version, 10, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("to requires a numeric -version, got %q", *version)
		}
		target = v
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "shopbot-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "command": command})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	m, err := migrate.New(sqlDB, logg)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "to":
		return m.To(ctx, target)
	default:
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}
		return printStatus(out, statuses)
	}
}

func printStatus(out io.Writer, statuses []migrate.Status) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tAPPLIED AT\tFILE")
	for _, s := range statuses {
		applied := "pending"
		if s.Applied {
			applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, applied, s.File)
	}
	return tw.Flush()
}
