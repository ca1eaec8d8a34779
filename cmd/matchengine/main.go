package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"matchcore/internal/dispatcher"
	"matchcore/internal/journal"
	"matchcore/internal/logging"
	"matchcore/internal/net"
	"matchcore/internal/registry"
	"matchcore/internal/sink"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the symbol metadata config file")
	journalPath := flag.String("journal", "matchcore.journal", "path to the command journal")
	address := flag.String("address", "0.0.0.0", "TCP listen address")
	port := flag.Int("port", 9001, "TCP listen port")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	pretty := flag.Bool("pretty", false, "use zerolog's console writer instead of JSON lines")
	flag.Parse()

	logging.Configure(*logLevel, *pretty)

	reg, err := registry.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("failed to load symbol registry")
	}

	events := sink.NewChannel(4096)
	disp := dispatcher.New(reg, func(string) sink.EventSink { return events })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	disp.Start(ctx)

	jw, err := journal.OpenWriter(*journalPath)
	if err != nil {
		log.Fatal().Err(err).Str("journal", *journalPath).Msg("failed to open journal")
	}

	replayed := replayJournal(*journalPath, disp, events)
	log.Info().Int("records", replayed).Msg("journal replay complete")

	srv := net.New(*address, *port, disp, events)
	srv.SetJournal(jw)

	go srv.Run(ctx)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	srv.Shutdown()
	if err := disp.Stop(); err != nil {
		log.Error().Err(err).Msg("dispatcher did not stop cleanly")
	}
	if err := jw.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close journal")
	}
}

// replayJournal resubmits every journaled command to disp. Replayed
// events still flow through the shared events channel, so a goroutine
// drains and discards them here: no client is connected yet to care
// about them, and the channel's buffer alone shouldn't be trusted to
// absorb an arbitrarily long journal.
func replayJournal(path string, disp *dispatcher.Dispatcher, events *sink.Channel) int {
	drainDone := make(chan struct{})
	stopDrain := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			select {
			case <-stopDrain:
				return
			case <-events.C:
			}
		}
	}()

	count, err := journal.Replay(path, disp)
	if err != nil {
		log.Error().Err(err).Msg("journal replay failed")
	}

	close(stopDrain)
	select {
	case <-drainDone:
	case <-time.After(time.Second):
	}
	return count
}
