package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"natprobe/internal/metrics"
	"natprobe/internal/model"
)

type cmdStats struct {
	global *cmdGlobal

	flagWindow  time.Duration
	flagPath    string
	flagSession string
	flagGroup   string
}

func (c *cmdStats) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise recorded ping RTT samples",
		RunE:  c.Run,
	}

	cmd.Flags().DurationVar(&c.flagWindow, "window", 5*time.Minute, "time window")
	cmd.Flags().StringVar(&c.flagPath, "path", "", "metrics CSV path override")
	cmd.Flags().StringVar(&c.flagSession, "session", "", "only samples from this session id")
	cmd.Flags().StringVar(&c.flagGroup, "by", "", "break down by peer or session")

	return cmd
}

func (c *cmdStats) Run(cmd *cobra.Command, args []string) error {
	cfg, err := c.global.load()
	if err != nil {
		return err
	}

	path := cfg.MetricsPath
	if c.flagPath != "" {
		path = c.flagPath
	}
	if path == "" {
		return errors.New("metrics path required")
	}

	items, err := metrics.ReadCSV(path, c.flagSession)
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-c.flagWindow)
	summary := metrics.Summarize(items, cutoff)
	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return nil
	}

	fmt.Fprintf(os.Stdout, "samples=%d peers=%d from=%s to=%s\n", summary.Count, summary.Peers, summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
	printRTT(os.Stdout, "rtt", summary)

	var key func(model.Metric) string
	switch c.flagGroup {
	case "":
		return nil
	case "peer":
		key = metrics.ByPeer
	case "session":
		key = metrics.BySession
	default:
		return fmt.Errorf("unknown --by %q (want peer or session)", c.flagGroup)
	}

	keys, groups := metrics.SummarizeBy(items, cutoff, key)
	for _, k := range keys {
		fmt.Fprintf(os.Stdout, "%-52s  n=%-4d ", k, groups[k].Count)
		printRTT(os.Stdout, "", groups[k])
	}
	return nil
}

func printRTT(w io.Writer, label string, s metrics.Summary) {
	if label != "" {
		fmt.Fprintf(w, "%s ", label)
	}
	fmt.Fprintf(w, "avg=%.2fms p95=%.2fms min=%.2fms max=%.2fms\n", s.AvgRTTMs, s.P95RTTMs, s.MinRTTMs, s.MaxRTTMs)
}
