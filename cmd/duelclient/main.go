// Command duelclient connects to a duel relay, queues or joins a room and
// prints every message it receives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/DuelRelay/internal/cmd/duelclient"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := duelclient.ParseConfig(pflag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("parse flags")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := duelclient.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("duelclient failed")
	}
}
