package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/TxnCoord/src"
	"github.com/Blackdeer1524/TxnCoord/src/cfg"
	"github.com/Blackdeer1524/TxnCoord/src/coordinator"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/utils"
	"github.com/Blackdeer1524/TxnCoord/src/storage"
	"github.com/Blackdeer1524/TxnCoord/src/workload"
)

// Workload runs against a freshly wired coordinator and returns its report.
type Workload func(
	ctx context.Context,
	c *coordinator.Coordinator,
	store storage.RecordStore,
	log src.Logger,
) (workload.Report, error)

// SimulationEntrypoint wires a coordinator over an in-memory store, runs one
// workload and prints its report.
type SimulationEntrypoint struct {
	ConfigPath   string
	SnapshotPath string
	Workload     Workload

	// Fs and Out default to the OS filesystem and stdout.
	Fs  afero.Fs
	Out io.Writer

	Config cfg.Config
	Log    src.Logger
	Report workload.Report

	store *storage.MemStore
	coord *coordinator.Coordinator
}

func (e *SimulationEntrypoint) Init(_ context.Context) error {
	config, err := cfg.Load(e.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	e.Config = config

	if e.Log == nil {
		if e.Config.Environment == cfg.EnvDev {
			e.Log = utils.Must(zap.NewDevelopment()).Sugar()
		} else {
			e.Log = utils.Must(zap.NewProduction()).Sugar()
		}
	}
	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}
	if e.Out == nil {
		e.Out = os.Stdout
	}

	e.store = storage.NewMemStore()
	e.coord, err = coordinator.NewDefault(e.store, e.Config, e.Log)
	if err != nil {
		return errors.Wrap(err, "create coordinator")
	}
	return nil
}

func (e *SimulationEntrypoint) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	sweepCtx, stopSweeper := context.WithCancel(ctx)

	// a no-op in synchronous detection mode
	eg.Go(func() error {
		return e.coord.Locks().Run(sweepCtx)
	})

	eg.Go(func() error {
		defer stopSweeper()

		rep, err := e.Workload(ctx, e.coord, e.store, e.Log)
		e.Report = rep
		if err != nil {
			return errors.Wrap(err, "run workload")
		}

		if _, err := fmt.Fprintf(e.Out, "%s\n", rep.JSON()); err != nil {
			return errors.Wrap(err, "print report")
		}

		if e.SnapshotPath != "" {
			if err := storage.WriteSnapshot(e.Fs, e.SnapshotPath, e.store); err != nil {
				return errors.Wrap(err, "write snapshot")
			}
			e.Log.Infow("snapshot written", "path", e.SnapshotPath, "records", e.store.Len())
		}
		return nil
	})

	return eg.Wait()
}

func (e *SimulationEntrypoint) Close() (err error) {
	if e.coord != nil {
		err = e.coord.Close()
	}

	if e.Log != nil {
		if err != nil {
			e.Log.Errorw("failed to close coordinator", "error", err)
		}

		_ = e.Log.Sync() // fails on terminals
	}

	return
}
