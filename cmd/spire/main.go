// Command spire runs the reverse proxy core: load config, build the
// routing snapshot, start the per-port listeners and the admin contract
// surface, then wait on a termination signal for a graceful shutdown.
//
// The flag/load/build/serve/signal/shutdown shape mirrors the teacher's
// cmd/gateway/main.go; the cobra+viper flag layer and its -f/--config
// binding to CONFIG_FILE_PATH are grounded in
// cla9-loadbalancer/cmd/server/main.go, the pack's only cobra/viper user.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spire-proxy/spire/internal/admin"
	"github.com/spire-proxy/spire/internal/config"
	"github.com/spire-proxy/spire/internal/control"
	"github.com/spire-proxy/spire/internal/dispatcher"
	"github.com/spire-proxy/spire/internal/gateway"
	"github.com/spire-proxy/spire/internal/health"
	"github.com/spire-proxy/spire/internal/listener"
	"github.com/spire-proxy/spire/internal/logging"
	"github.com/spire-proxy/spire/internal/metrics"
	"github.com/spire-proxy/spire/internal/router"
	"github.com/spire-proxy/spire/internal/transport"
)

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().StringP("config", "f", "", "path to the YAML config file")
	return viper.BindPFlags(cmd.Flags())
}

func main() {
	cmd := &cobra.Command{
		Use:  "spire",
		RunE: run,
	}
	if err := setupFlags(cmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configPath() string {
	path := viper.GetString("config")
	if path != "" {
		return path
	}
	return os.Getenv("CONFIG_FILE_PATH")
}

func run(cmd *cobra.Command, args []string) error {
	path := configPath()
	if path == "" {
		return fmt.Errorf("no config file: pass -f/--config or set CONFIG_FILE_PATH")
	}

	servers, adminListen, logLevel, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logging.New(logLevel)

	snap, err := router.Build(servers)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	bus := control.NewBus()
	bus.Swap(snap)
	bus.SwapConfig(servers)

	metricsReg := metrics.NewRegistry()
	disp := dispatcher.New(transport.NewDefaultRegistry(), bus.Health, bus.Breakers, metricsReg)
	gw := gateway.New(bus, disp, metricsReg, log)
	mgr := listener.NewManager(gw, disp, bus.Certs, log)
	mgr.Reconcile(snap.Servers())

	prober := health.NewProber(bus.Health, log)
	prober.Sync(health.TargetsFromServers(servers))
	prober.Start()

	gc := control.NewGC(bus, 0)
	gc.Start()

	adminSrv := admin.New(bus, metricsReg, log, mgr, prober)
	adminHTTP := &http.Server{Addr: adminListen, Handler: adminSrv.Handler()}
	go func() {
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin server stopped")
		}
	}()

	watcher, err := config.NewWatcher(path, log)
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	go watcher.Run(func() {
		reload(path, bus, mgr, prober, log)
	})

	log.WithFields(logrus.Fields{
		"servers": len(servers),
		"admin":   adminListen,
	}).Info("spire started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	watcher.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), listener.DefaultDrainTimeout)
	defer cancel()
	mgr.DrainAll(shutdownCtx)
	<-prober.Stop().Done()
	gc.Stop()
	_ = adminHTTP.Shutdown(shutdownCtx)
	return nil
}

// reload re-reads the config file and, if it parses and builds cleanly,
// publishes it through the same build-then-swap path the admin /config
// PUT endpoint uses (spec.md §9: a rejected reload keeps the previous
// snapshot active).
func reload(path string, bus *control.Bus, mgr *listener.Manager, prober *health.Prober, log *logrus.Logger) {
	servers, _, _, err := config.Load(path)
	if err != nil {
		log.WithError(err).Warn("config reload: load failed, keeping previous snapshot")
		return
	}
	snap, err := router.Build(servers)
	if err != nil {
		log.WithError(err).Warn("config reload: build failed, keeping previous snapshot")
		return
	}
	bus.Swap(snap)
	bus.SwapConfig(servers)
	mgr.Reconcile(snap.Servers())
	prober.Sync(health.TargetsFromServers(servers))
	log.WithField("servers", len(servers)).Info("config reloaded")
}

