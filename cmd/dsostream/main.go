package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/dsostream/internal/acquisition"
	"codeberg.org/mutker/dsostream/internal/config"
	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/export"
	"codeberg.org/mutker/dsostream/internal/instrument"
	"codeberg.org/mutker/dsostream/internal/logger"
	"codeberg.org/mutker/dsostream/internal/metrics"
	"codeberg.org/mutker/dsostream/internal/pid"
	"codeberg.org/mutker/dsostream/internal/store"
	"github.com/google/uuid"
)

const usage = `Usage:
  dsostream [run] [--config path] [flags]
  dsostream validate [--config path] [flags]
  dsostream export <run.db> <out.parquet>
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var err error

	cmd := "run"
	if len(args) > 0 {
		switch args[0] {
		case "run", "validate", "export":
			cmd, args = args[0], args[1:]
		case "help", "-h", "--help":
			fmt.Print(usage)
			return 0
		}
	}

	switch cmd {
	case "validate":
		err = validate(args)
	case "export":
		err = exportRun(args)
	default:
		err = acquire(args)
	}

	if err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("dsostream " + cmd + " failed")
		} else {
			logger.Error().Err(err).Msg("dsostream " + cmd + " failed")
		}
		return errors.ExitCode(err)
	}

	return 0
}

func validate(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Print(string(out))

	return nil
}

func exportRun(args []string) error {
	if len(args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New().WithMessage(errors.ErrInvalidArgument, "export needs a run store and an output path")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	_, err := export.Export(ctx, args[0], args[1], logger.Component("export"))

	return err
}

func acquire(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		return err
	}
	logger.Debug().Str("config_file", cfg.ConfigFile).Msg("Config loaded")

	opts, err := cfg.InstrumentOptions()
	if err != nil {
		return err
	}

	lock, err := pid.Write("", cfg.Driver+"/"+opts.Resource())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	inst, err := instrument.Open(opts)
	if err != nil {
		return err
	}

	setup, err := acquisition.Configure(inst, cfg, logger.Component("instrument"))
	if err != nil {
		inst.Close()
		return err
	}

	snapshot, err := cfg.YAML()
	if err != nil {
		inst.Close()
		return err
	}

	runID := uuid.NewString()
	st, err := store.Create(cfg.DataDir, store.RunMetadata{
		RunID:    runID,
		Created:  time.Now(),
		Brand:    setup.Identity.Brand,
		Model:    setup.Identity.Model,
		Serial:   setup.Identity.Serial,
		Firmware: setup.Identity.Firmware,
		Config:   snapshot,
	}, setup.Profiles, logger.Component("store"))
	if err != nil {
		inst.Close()
		return err
	}

	collector, err := metrics.NewService(metrics.Config{Addr: cfg.Metrics.Addr, Enabled: true}, logger.Component("metrics"))
	if err != nil {
		inst.Close()
		st.Close()
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}()

	logger.Info().
		Str("run_id", runID).
		Str("store", st.Path()).
		Str("resource", opts.Resource()).
		Ints("channels", cfg.ChannelIDs()).
		Msg("Acquisition started")

	ctrl := acquisition.New(inst, st, acquisition.Options{
		Channels:     setup.Profiles,
		ForceTrigger: cfg.TriggerForce,
		MaxCycles:    cfg.MaxCycles,
		RecordTime:   setup.RecordTime,
		Logger:       logger.Component("acquisition"),
		Metrics:      collector,
	})
	if err := ctrl.Run(ctx); err != nil {
		return err
	}

	logger.Info().
		Int("stored", ctrl.Stored()).
		Int("discarded", ctrl.Discarded()).
		Str("store", st.Path()).
		Msg("Exiting...")

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
