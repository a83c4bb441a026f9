// Command coinchat joins a coin's chat room from the terminal.
//
// Usage:
//
//	coinchat -server http://localhost:8080 -room bitcoin
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/coinverse/internal/console"
	"github.com/vadiminshakov/coinverse/internal/logging"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "coinverse server url")
	room := flag.String("room", "bitcoin", "coin id of the chat room")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if err := run(*server, *room, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "coinchat:", err)
		os.Exit(1)
	}
}

func run(server, room, logLevel string) error {
	logger, err := logging.New(logLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := console.NewClient(server, logger)
	if err != nil {
		return err
	}

	app, err := console.NewApp(client, room, console.FormPrompt, os.Stdout, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.SignIn(ctx); err != nil {
		return err
	}

	fmt.Println("type a message and press enter; /logout signs out, /quit leaves")
	return app.Run(ctx, os.Stdin)
}
