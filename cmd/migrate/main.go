package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
	"github.com/angelmondragon/marketplace-payments/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|to|create|validate")
	name := flag.String("name", "", "migration name for -cmd=create")
	dir := flag.String("dir", migrate.SourceDir, "directory new migrations are written to")
	target := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	// create and validate work on files only and need no config.
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.Create(*dir, *name, time.Now())
		if err != nil {
			exitf("create migration: %v", err)
		}
		fmt.Println("created", path)
		return
	case "validate":
		if err := migrate.Validate(migrate.Files()); err != nil {
			exitf("invalid migrations: %v", err)
		}
		fmt.Println("migrations ok")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		exitf("load config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	sqlDB, err := sql.Open("pgx", cfg.DB.DSN)
	if err != nil {
		logg.Error(ctx, "open database", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	m, err := migrate.NewMigrator(sqlDB)
	if err != nil {
		logg.Error(ctx, "build migrator", err)
		os.Exit(1)
	}

	switch *cmd {
	case "up":
		var applied int
		applied, err = m.Up(ctx)
		ctx = logg.WithField(ctx, "applied", applied)
	case "down":
		err = m.Down(ctx)
	case "status":
		err = m.WriteStatus(ctx, os.Stdout)
	case "to":
		if *target == "" {
			exitf("missing -version for -cmd=to")
		}
		err = m.To(ctx, *target)
	default:
		exitf("unknown -cmd %q", *cmd)
	}
	if err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration complete")
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
