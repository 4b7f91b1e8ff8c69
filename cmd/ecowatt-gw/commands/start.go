package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/logger"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

var (
	startPidFile string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the gateway's main dispatch loop",
	Long: `Start the gateway: load configuration, open the peripheral and
the runtime store, run the on-boot OTA self-check if a firmware update
is pending validation, then drive the five-timer dispatch loop until
interrupted.

This runs in the foreground; process supervision (systemd, runit, a
container's own restart policy) is left to the platform rather than
daemonized here.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startPidFile, "pid-file", "", "path to PID file (default: $XDG_STATE_HOME/ecowatt-gw/ecowatt-gw.pid)")
}

func runStart(cmd *cobra.Command, args []string) error {
	gw, err := openGateway(GetConfigFile())
	if err != nil {
		return err
	}
	defer gw.Close()

	pidPath := startPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if err := writePidFile(pidPath); err != nil {
		logger.Warn("failed to write pid file", "error", err, "path", pidPath)
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("post-boot self-check: %w", err)
	}
	defer gw.coordinator.Stop()

	if err := store.Set(gw.st, store.Namespace, store.KeyStartedAtMs, time.Now().UnixMilli()); err != nil {
		logger.Warn("failed to persist start time", "error", err)
	}

	if gw.cfg.Metrics.Enabled {
		go serveMetrics(gw)
	}

	logger.Info("gateway started",
		"device_id", gw.cfg.Cloud.DeviceID,
		"serial_device", gw.cfg.Serial.Device,
		"dispatch_tick", gw.cfg.DispatchTick)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		gw.coordinator.Run(ctx, gw.cfg.DispatchTick)
		close(done)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
		<-done
	case <-done:
	}

	if gw.coordinator.RebootRequested() {
		logger.Info("controlled reboot requested, exiting so the platform supervisor restarts the process")
	}
	return nil
}

func serveMetrics(gw *gateway) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gw.metrics.Registry(), promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", gw.cfg.Metrics.Port)
	logger.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
