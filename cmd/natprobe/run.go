package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"natprobe/internal/config"
	"natprobe/internal/logging"
	"natprobe/internal/metrics"
	"natprobe/internal/p2pnode"
	"natprobe/internal/report"
	"natprobe/internal/session"
	"natprobe/internal/statusserver"
	"natprobe/internal/stunutil"
)

type cmdRun struct {
	global *cmdGlobal

	flagMode             string
	flagRole             string
	flagMaxRuntime       time.Duration
	flagDiscoveryTimeout time.Duration
	flagMaxAttempts      int
	flagBootstrap        []string
	flagListen           []string
	flagDHTMode          string
	flagRendezvous       string
	flagRegistry         string
	flagReport           string
	flagReportJSON       string
	flagMetrics          string
	flagStatusListen     string
}

func (c *cmdRun) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reachability test session",
		Long: `Run one reachability test session.

Exit status is 0 when the session succeeded, 2 when it timed out and 1 otherwise.`,
		RunE: c.Run,
	}

	cmd.Flags().StringVar(&c.flagMode, "mode", "", "session mode (communication, nat-traversal)")
	cmd.Flags().StringVar(&c.flagRole, "role", "", "node role (initiator, responder)")
	cmd.Flags().DurationVar(&c.flagMaxRuntime, "max-runtime", 0, "maximum session runtime")
	cmd.Flags().DurationVar(&c.flagDiscoveryTimeout, "discovery-timeout", 0, "per-query discovery timeout (0 means bounded only by the session deadline)")
	cmd.Flags().IntVar(&c.flagMaxAttempts, "max-attempts", 0, "maximum connection attempts")
	cmd.Flags().StringSliceVar(&c.flagBootstrap, "bootstrap", nil, "bootstrap multiaddrs (replaces the configured list)")
	cmd.Flags().StringSliceVar(&c.flagListen, "listen", nil, "listen multiaddrs")
	cmd.Flags().StringVar(&c.flagDHTMode, "dht-mode", "", "DHT mode (client, server, auto)")
	cmd.Flags().StringVar(&c.flagRendezvous, "rendezvous", "", "rendezvous key to announce")
	cmd.Flags().StringVar(&c.flagRegistry, "registry", "", "bootstrap registry file")
	cmd.Flags().StringVar(&c.flagReport, "report", "", "plain-text report file")
	cmd.Flags().StringVar(&c.flagReportJSON, "report-json", "", "JSON report file")
	cmd.Flags().StringVar(&c.flagMetrics, "metrics", "", "ping RTT CSV file")
	cmd.Flags().StringVar(&c.flagStatusListen, "status-listen", "", "serve /status and /metrics on this address")

	return cmd
}

// override copies explicitly set flags over the file values. Mode is applied
// before defaults so mode-dependent values follow it.
func (c *cmdRun) override(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = c.flagMode
	}
	if flags.Changed("role") {
		cfg.Role = c.flagRole
	}
	if flags.Changed("max-runtime") {
		cfg.MaxRuntime = config.Duration(c.flagMaxRuntime)
	}
	if flags.Changed("discovery-timeout") {
		cfg.Discovery.Timeout = config.Duration(c.flagDiscoveryTimeout)
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = c.flagMaxAttempts
	}
	if flags.Changed("bootstrap") {
		cfg.BootstrapPeers = c.flagBootstrap
	}
	if flags.Changed("listen") {
		cfg.ListenAddrs = c.flagListen
	}
	if flags.Changed("dht-mode") {
		cfg.DHTMode = c.flagDHTMode
	}
	if flags.Changed("rendezvous") {
		cfg.Rendezvous = c.flagRendezvous
	}
	if flags.Changed("registry") {
		cfg.RegistryPath = c.flagRegistry
	}
	if flags.Changed("report") {
		cfg.ReportPath = c.flagReport
	}
	if flags.Changed("report-json") {
		cfg.ReportJSONPath = c.flagReportJSON
	}
	if flags.Changed("metrics") {
		cfg.MetricsPath = c.flagMetrics
	}
	if flags.Changed("status-listen") {
		cfg.StatusListen = c.flagStatusListen
	}
}

func (c *cmdRun) Run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(c.global.flagConfig)
	if err != nil {
		return err
	}
	if c.global.flagLogLevel != "" {
		cfg.Log.Level = c.global.flagLogLevel
	}
	c.override(cmd, &cfg)
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, closeLog, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext()
	defer cancel()

	node, err := p2pnode.New(ctx, p2pnode.Options{
		ListenAddrs: cfg.ListenAddrs,
		DHTMode:     cfg.DHTMode,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.WithError(err).Warn("close overlay")
		}
	}()

	collector := metrics.NewCollector()
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithCollector(collector),
	}
	if cfg.StatusListen != "" {
		srv := statusserver.New(cfg.StatusListen, collector.Registry(), logger)
		opts = append(opts, session.WithObserver(srv.Publish))
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.WithError(err).Error("status server stopped")
			}
		}()
	}

	discovery := stunutil.NewClient(cfg.Discovery.Servers, cfg.Discovery.QueryTimeout())
	res, err := session.New(cfg, node, discovery, opts...).Run(ctx)
	if err != nil {
		return err
	}

	rep := report.FromResult(res)
	if err := rep.WriteText(os.Stdout); err != nil {
		logger.WithError(err).Warn("write summary")
	}
	if err := rep.Save(cfg.ReportPath); err != nil {
		logger.WithError(err).WithField("path", cfg.ReportPath).Error("save report failed")
	}
	if cfg.ReportJSONPath != "" {
		if err := rep.SaveJSON(cfg.ReportJSONPath); err != nil {
			logger.WithError(err).WithField("path", cfg.ReportJSONPath).Error("save JSON report failed")
		}
	}

	if rep.ExitCode != report.ExitSuccess {
		return &exitCodeError{code: rep.ExitCode}
	}
	return nil
}
