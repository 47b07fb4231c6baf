// Package commands implements the glycemia command line interface
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mrcode/glycemia/internal/app"
	"github.com/mrcode/glycemia/internal/config"
	"github.com/mrcode/glycemia/internal/eventlog"
	"github.com/mrcode/glycemia/internal/logging"
	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/nightscout"
	"github.com/mrcode/glycemia/internal/notifications"
)

// rootOptions are the persistent flags shared by all commands
type rootOptions struct {
	configPath string
	eventsFile string
	logLevel   string
	at         string
	jsonOutput bool
}

// env is everything a command needs after flags and config are resolved
type env struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    *eventlog.Store    // nil without an events file
	ns       *nightscout.Client // nil without a Nightscout URL
	registry *prometheus.Registry
	now      time.Time
}

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "glycemia",
		Short: "Blood sugar prediction and insulin dosing engine",
		Long: `glycemia models insulin, carbohydrate, alcohol and time-of-day effects
to predict blood sugar and recommend insulin doses.

Events are read from a local JSON or YAML log and, when configured,
from a Nightscout site.

Examples:
  glycemia log meal 45 --description "pasta"
  glycemia log insulin 4.5
  glycemia predict --minutes 120
  glycemia recommend --carbs 60 --bsl 8.2
  glycemia chart --out forecast.png
  glycemia watch

Config:  --config glycemia.yaml or GLYCEMIA_* environment variables`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVarP(&opts.eventsFile, "events", "e", "", "Event log file, overrides events.file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.at, "at", "", "Evaluate at this RFC3339 time instead of now")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")

	cmd.AddCommand(
		newPredictCmd(opts),
		newStateCmd(opts),
		newSeriesCmd(opts),
		newAlertsCmd(opts),
		newRecommendCmd(opts),
		newTimingCmd(opts),
		newICRCmd(opts),
		newOvernightCmd(opts),
		newChartCmd(opts),
		newLogCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newAutostartCmd(opts),
	)
	return cmd
}

// setup loads the config, builds the logger and opens the event sources
func (o *rootOptions) setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.eventsFile != "" {
		cfg.Events.File = o.eventsFile
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logger, err := logging.NewWithOutput(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		now:      time.Now(),
	}
	if o.at != "" {
		at, err := time.Parse(time.RFC3339, o.at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at time: %w", err)
		}
		e.now = at
	}

	if cfg.Events.File != "" {
		e.store = eventlog.NewStore(cfg.Events.File, logger)
	}
	if cfg.Nightscout.Enabled() {
		ns := cfg.Nightscout
		e.ns = nightscout.NewClient(ns.URL, ns.APISecret, ns.APIToken, ns.UseToken, ns.Timeout)
	}
	return e, nil
}

// service builds the prediction service over the configured sources.
// A fixed --at time pins the service clock.
func (o *rootOptions) service(e *env, notifier *notifications.Manager) (*app.Service, error) {
	var sources []app.EventSource
	if e.store != nil {
		sources = append(sources, e.store)
	}
	if e.ns != nil {
		sources = append(sources, e.ns)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: set events.file, --events or nightscout.url", app.ErrNoSources)
	}

	now := time.Now
	if o.at != "" {
		fixed := e.now
		now = func() time.Time { return fixed }
	}

	cfg := e.cfg
	return app.NewService(app.Options{
		Params:     cfg.User,
		Limits:     cfg.Safety,
		Thresholds: cfg.Prediction.AlertThresholds(),
		Resolution: cfg.Prediction.Resolution,
		Horizon:    cfg.Prediction.Horizon,
		Workers:    cfg.Prediction.Workers,
		CacheTTL:   cfg.Watch.CacheTTL,
		Notifier:   notifier,
		Registry:   e.registry,
		Logger:     e.logger,
		Now:        now,
	}, sources...)
}

// setupService is setup followed by service without notifications
func (o *rootOptions) setupService(cmd *cobra.Command) (*env, *app.Service, error) {
	e, err := o.setup(cmd)
	if err != nil {
		return nil, nil, err
	}
	svc, err := o.service(e, nil)
	if err != nil {
		return nil, nil, err
	}
	return e, svc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatBSL renders a mmol/L value in unit
func formatBSL(mmol float64, unit string) string {
	if unit == models.UnitMgDL {
		return fmt.Sprintf("%.0f mg/dL", models.ToMgdl(mmol))
	}
	return fmt.Sprintf("%.1f mmol/L", mmol)
}
