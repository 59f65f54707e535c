package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"taxpilot.io/internal/migrate"
	"taxpilot.io/internal/obs"
	"taxpilot.io/internal/store/pg"
	"taxpilot.io/migrations"
)

func main() {
	var (
		dsn      = flag.String("dsn", os.Getenv("TAXPILOT_PG_DSN"), "PostgreSQL DSN")
		logLevel = flag.String("log-level", "info", "log level")
		timeout  = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	log, err := obs.NewLogger(*logLevel, "text", os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TAXPILOT_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrations.Schema(), migrations.Seeds(), migrate.WithLogger(log))

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", flag.Arg(0))
	}
}
