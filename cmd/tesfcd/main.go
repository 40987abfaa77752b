// Command tesfcd runs the telemetry capture and fan-out daemon: it
// attaches to a kernel-bypass NIC ring, reassembles and writes event
// streams to disk, and republishes completed MCA histograms to
// subscribers, per the coordinator/task split in internal/coordinator.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tes-daq/tesfcd/internal/config"
	"github.com/tes-daq/tesfcd/internal/coordinator"
	"github.com/tes-daq/tesfcd/internal/histogram"
	"github.com/tes-daq/tesfcd/internal/logging"
	"github.com/tes-daq/tesfcd/internal/nic"
	"github.com/tes-daq/tesfcd/internal/nic/simnic"
	"github.com/tes-daq/tesfcd/internal/ringif"
	"github.com/tes-daq/tesfcd/internal/worker"
	"github.com/tes-daq/tesfcd/internal/writer"
	"github.com/tes-daq/tesfcd/internal/xcmd"
)

type cmdArgs struct {
	ConfigPath string
}

func main() {
	var args cmdArgs

	rootCmd := &cobra.Command{
		Use:   "tesfcd",
		Short: "Capture FPGA telemetry frames and fan them out to writers and histogram subscribers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(args)
		},
	}
	rootCmd.Flags().StringVarP(&args.ConfigPath, "config", "c", "", "path to the daemon's YAML configuration")
	if err := rootCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}

	if err := rootCmd.Execute(); err != nil {
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func run(args cmdArgs) error {
	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return err
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if cfg.Daemon {
		if err := writePIDFile(cfg.PIDFile); err != nil {
			log.Warn("failed to write pid file", zap.String("path", cfg.PIDFile), zap.Error(err))
		}
	}

	if link, err := nic.ResolveInterface(cfg.Interface); err != nil {
		log.Warn("failed to resolve capture interface; continuing with the configured driver anyway",
			zap.String("interface", cfg.Interface), zap.Error(err))
	} else {
		log.Info("resolved capture interface", zap.String("interface", cfg.Interface), zap.Int("index", link.Attrs().Index))
	}

	if cfg.Driver != "demo" {
		return fmt.Errorf("tesfcd: driver %q is not implemented; only \"demo\" ships in this repository "+
			"(a production kernel-bypass attach is an external integration point)", cfg.Driver)
	}

	rings := make([]*simnic.Ring, cfg.Rings.Count)
	for i := range rings {
		rings[i] = simnic.NewRing(int(cfg.Rings.BufCount), int(cfg.Rings.BufSize))
	}
	handle := simnic.NewHandle(rings...)
	defer handle.Close() //nolint:errcheck

	allow, err := compileAllowGlob(cfg.Writer.AllowGlob)
	if err != nil {
		return fmt.Errorf("tesfcd: writer.allow_glob: %w", err)
	}
	canon := writer.Canonicalizer{Root: cfg.Writer.Root, Allow: allow}

	wg, ctx := errgroup.WithContext(context.Background())
	rt, gctx := worker.NewRuntime(ctx, log)

	writerTask := writer.New(cfg.Writer.ListenAddr, canon, ringif.New(handle), log.With(zap.String("task", "writer")))
	writerHandle, err := rt.Start(gctx, writerTask, cfg.Rings.Count, false)
	if err != nil {
		return fmt.Errorf("tesfcd: starting writer task: %w", err)
	}
	<-writerHandle.Signals() // SigInit, already reported by Start's return

	histTask := histogram.NewTask(cfg.Histogram.ListenAddr, ringif.New(handle), log.With(zap.String("task", "histogram")))
	histHandle, err := rt.Start(gctx, histTask, cfg.Rings.Count, true)
	if err != nil {
		return fmt.Errorf("tesfcd: starting histogram task: %w", err)
	}
	<-histHandle.Signals() // SigInit, already reported by Start's return

	coord := coordinator.New(handle, []*worker.Handle{writerHandle, histHandle}, log, cfg.StatsPeriod)

	wg.Go(func() error { return coord.Run(ctx) })
	wg.Go(func() error { return rt.Wait() })
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Info("caught termination signal, shutting down", zap.Error(err))
		return err
	})
	wg.Go(func() error {
		runDemoFeed(ctx, rings, handle, log)
		return nil
	})

	return wg.Wait()
}

// compileAllowGlob compiles pattern, returning a nil Glob (disabling
// the check) when pattern is empty.
func compileAllowGlob(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, nil
	}
	return glob.Compile(pattern)
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}
