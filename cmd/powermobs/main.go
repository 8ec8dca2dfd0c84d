package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dm-vev/powermobs/server"
	"github.com/dm-vev/powermobs/server/cmd/builtin"
	"github.com/dm-vev/powermobs/server/console"
)

func main() {
	var (
		configPath = flag.String("config", "config.toml", "path of the TOML configuration file, created if missing")
		debug      = flag.Bool("debug", false, "log debug output")
		noConsole  = flag.Bool("no-console", false, "do not read commands from standard input")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	uc, err := server.ReadConfig(*configPath)
	if err != nil {
		log.Error("Could not read config.", "path", *configPath, "error", err)
		os.Exit(1)
	}
	conf, err := uc.Config(log)
	if err != nil {
		log.Error("Could not load config.", "path", *configPath, "error", err)
		os.Exit(1)
	}
	srv := conf.New()
	builtin.Register(srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if !*noConsole {
		go console.New(srv, log).Run(ctx)
	}
	if err := srv.Run(ctx); err != nil {
		log.Error("Server stopped with an error.", "error", err)
		os.Exit(1)
	}
}
