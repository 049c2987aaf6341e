package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/chatvault/internal/batch"
	"github.com/comigor/chatvault/internal/config"
	"github.com/comigor/chatvault/internal/enrich"
	"github.com/comigor/chatvault/internal/events"
	"github.com/comigor/chatvault/internal/history"
	"github.com/comigor/chatvault/internal/ingest"
	"github.com/comigor/chatvault/internal/keychain"
	"github.com/comigor/chatvault/internal/logger"
)

var (
	configPath string
	logLevel   string
	jsonEvents bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "chatvault",
	Short:         "Import chat history exports and classify them with batch LLM jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger.SetOutput(os.Stderr)
		logger.SetFormat(cfg.Log.Format)
		logger.SetLevel(cfg.Log.Level)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonEvents, "events", false, "Print progress events as JSON lines on stdout")
}

// app holds the collaborators shared by commands.
type app struct {
	cfg     *config.Config
	store   *history.Store
	keys    *keychain.Store
	sink    events.Sink
	closers []io.Closer
}

func openApp(cfg *config.Config) (*app, error) {
	store, err := history.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		store:   store,
		keys:    keychain.New(cfg.Keychain),
		closers: []io.Closer{store},
	}

	sinks := []events.Sink{events.LogSink{}}
	if jsonEvents {
		sinks = append(sinks, events.NewWriterSink(os.Stdout))
	}
	if cfg.Events.AMQPURL != "" {
		amqpSink, err := events.NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.AMQPQueue)
		if err != nil {
			logger.L.Warn("event queue unavailable; continuing without it", "queue", cfg.Events.AMQPQueue, "error", err)
		} else {
			sinks = append(sinks, amqpSink)
			a.closers = append(a.closers, amqpSink)
		}
	}
	a.sink = events.Multi(sinks...)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.L.Warn("close error", "error", err)
		}
	}
}

func (a *app) ingester() *ingest.Ingester {
	return ingest.New(a.store, a.sink, a.cfg.Ingest)
}

func (a *app) orchestrator() *enrich.Orchestrator {
	enrichCfg := a.cfg.Enrich
	factory := func(apiKey string) (batch.Backend, error) {
		return batch.New(apiKey, enrichCfg)
	}
	return enrich.New(a.store, a.keys, factory, a.sink, enrichCfg)
}
