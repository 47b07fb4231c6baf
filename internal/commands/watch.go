package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mrcode/glycemia/internal/app"
	"github.com/mrcode/glycemia/internal/notifications"
)

const shutdownTimeout = 5 * time.Second

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
		noNotify    bool
		testNotify  bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh predictions periodically and alert on predicted lows and highs",
		Long: `Refresh the prediction on an interval, send desktop notifications for
predicted hypo and hyper alerts, and serve Prometheus metrics.

Endpoints on --metrics-addr:
  /metrics   Prometheus metrics
  /snapshot  Last refresh as JSON
  /healthz   Liveness`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				e.cfg.Watch.Interval = interval
			}
			if cmd.Flags().Changed("metrics-addr") {
				e.cfg.Watch.MetricsAddr = metricsAddr
			}

			var notifier *notifications.Manager
			if n := e.cfg.Notifications; n.Enabled && !noNotify {
				notifier = notifications.NewManager(notifications.Settings{
					Enabled:       true,
					RepeatMinutes: n.RepeatMinutes,
					Unit:          n.Unit,
					MinSeverity:   n.MinSeverity,
				}, nil, e.logger)
			}

			if testNotify {
				if notifier == nil {
					return errors.New("notifications are disabled")
				}
				if err := notifier.SendTestNotification(); err != nil {
					return fmt.Errorf("failed to send test notification: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✅ Test notification sent")
				return nil
			}

			svc, err := opts.service(e, notifier)
			if err != nil {
				return err
			}

			e.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, svc, e.registry, e.cfg.Watch.Interval, e.cfg.Watch.MetricsAddr, e.logger)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Refresh interval, overrides watch.interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address, empty disables, overrides watch.metrics_addr")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "Disable desktop notifications")
	cmd.Flags().BoolVar(&testNotify, "test-notification", false, "Send a test notification and exit")
	return cmd
}

// runWatch runs the refresh loop and the metrics server until ctx is done
func runWatch(ctx context.Context, svc *app.Service, reg *prometheus.Registry, interval time.Duration, addr string, logger *logrus.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("interval", interval).Info("Watching predictions")
		return svc.Watch(gctx, interval)
	})

	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           newMetricsHandler(svc, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.WithField("addr", addr).Info("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	logger.Info("Stopped watching")
	return err
}

// newMetricsHandler serves metrics, the last snapshot and a liveness probe
func newMetricsHandler(svc *app.Service, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := svc.LastSnapshot()
		if !ok {
			http.Error(w, "no successful refresh yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = printJSON(w, snap)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if svc.ConsecutiveErrors() > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("refresh failing\n"))
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})

	return mux
}
