package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/config"
	"github.com/san-kum/simbridge/internal/gateway"
	"github.com/san-kum/simbridge/internal/host"
	"github.com/san-kum/simbridge/internal/logging"
	"github.com/san-kum/simbridge/internal/step"
	"github.com/san-kum/simbridge/internal/storage"
)

const disconnectGrace = 2 * time.Second

func runHost(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger("", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := newDriver(cfg, logger)
	gw, err := startGateway(cfg, cfg.Listen, driver, logger)
	if err != nil {
		return err
	}
	defer gw.shutdown()

	fmt.Printf("waiting for integrator on %s\n", gw.url)
	go func() {
		select {
		case <-gw.server.Registered():
			fmt.Println("integrator registered")
		case <-ctx.Done():
		}
	}()
	traj, runErr := driver.Run(ctx)
	gw.awaitDisconnect()

	return finishRun(cfg, traj, runErr)
}

func runIntegrator(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger("", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveIntegrator(ctx, cfg, cfg.Endpoint, logger)
}

// runDemo wires both ends together over a loopback websocket.
func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger("", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := newDriver(cfg, logger)
	gw, err := startGateway(cfg, "127.0.0.1:0", driver, logger)
	if err != nil {
		return err
	}
	defer gw.shutdown()

	var (
		wg      conc.WaitGroup
		traj    *host.Trajectory
		runErr  error
		stepErr error
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg.Go(func() {
		traj, runErr = driver.Run(runCtx)
	})
	wg.Go(func() {
		// Unblock the driver if the integrator never registers.
		if stepErr = serveIntegrator(runCtx, cfg, gw.url, logger); stepErr != nil {
			cancel()
		}
	})
	wg.Wait()

	if stepErr != nil {
		logger.Error("integrator side failed", "error", stepErr)
	}
	return finishRun(cfg, traj, errors.Join(runErr, stepErr))
}

func newDriver(cfg *config.Config, logger *logging.Logger) *host.Driver {
	seeds := make([]host.Seed, len(cfg.States))
	for i, s := range cfg.States {
		seeds[i] = host.Seed{Name: s.Name, Value: s.Value}
	}
	return host.NewDriver(seeds, cfg.Passes,
		host.WithLogger(logger),
		host.WithInterval(cfg.Interval),
	)
}

// serveIntegrator dials the host, registers the configured step and blocks
// until the host stops it or ctx ends.
func serveIntegrator(ctx context.Context, cfg *config.Config, url string, logger *logging.Logger) error {
	s, err := step.NewRegistry().Build(cfg.StepParams())
	if err != nil {
		return err
	}

	client, err := gateway.Dial(ctx, url, transportOptions(cfg, logger)...)
	if err != nil {
		return err
	}

	b, err := bridge.New(ctx, client, s,
		bridge.WithLogger(logger),
		bridge.WithHandshakeTimeout(cfg.HandshakeTimeout),
		bridge.WithCompletionTimeout(cfg.CompletionTimeout),
		bridge.WithBestEffortResults(cfg.BestEffortResults),
	)
	if err != nil {
		return err
	}

	select {
	case <-client.Done():
	case <-ctx.Done():
		if err := b.StopScript(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("stop on shutdown failed", "error", err)
		}
		<-client.Done()
	}
	logger.Info("integrator finished", "passes", b.Passes())
	return client.Err()
}

type runningGateway struct {
	server *gateway.Server
	http   *http.Server
	url    string
}

func transportOptions(cfg *config.Config, logger *logging.Logger) []gateway.Option {
	return []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithWriteTimeout(cfg.WriteTimeout),
		gateway.WithReadLimit(cfg.ReadLimit),
	}
}

func startGateway(cfg *config.Config, addr string, driver *host.Driver, logger *logging.Logger) (*runningGateway, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := gateway.NewServer(driver, transportOptions(cfg, logger)...)
	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway stopped", "error", err)
		}
	}()

	return &runningGateway{
		server: srv,
		http:   httpSrv,
		url:    fmt.Sprintf("ws://%s/", ln.Addr()),
	}, nil
}

// awaitDisconnect gives the integrator a moment to close after stopScript.
func (g *runningGateway) awaitDisconnect() {
	select {
	case <-g.server.Disconnected():
	case <-time.After(disconnectGrace):
	}
}

func (g *runningGateway) shutdown() {
	_ = g.server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), disconnectGrace)
	defer cancel()
	_ = g.http.Shutdown(ctx)
}

func finishRun(cfg *config.Config, traj *host.Trajectory, runErr error) error {
	if traj != nil {
		printSummary(traj)
		if !noRecord {
			meta := storage.RunMetadata{Preset: preset, Step: cfg.Step.Kind}
			if runErr != nil {
				meta.Error = runErr.Error()
			}
			st := storage.New(cfg.DataDir)
			if err := st.Init(); err != nil {
				return errors.Join(runErr, err)
			}
			runID, err := st.Save(meta, traj)
			if err != nil {
				return errors.Join(runErr, err)
			}
			fmt.Printf("saved: %s\n", runID)
		}
	}
	return runErr
}

func printSummary(traj *host.Trajectory) {
	fmt.Printf("integrator: %s\n", traj.IntegratorID)
	for _, snap := range traj.Snapshots {
		fmt.Printf("pass %d:", snap.Pass)
		for _, name := range traj.Names {
			fmt.Printf(" %s=%v", name, snap.States[name])
		}
		fmt.Println()
	}
	if len(traj.Snapshots) < 2 {
		return
	}

	names := traj.Names
	if len(names) > maxPlots {
		names = names[:maxPlots]
	}
	fmt.Println()
	for _, name := range names {
		fmt.Println(asciigraph.Plot(traj.Series(name),
			asciigraph.Height(8),
			asciigraph.Width(60),
			asciigraph.Caption(fmt.Sprintf("%s vs pass", name)),
		))
		fmt.Println()
	}
}
